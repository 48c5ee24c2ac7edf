package mirror

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const syncJobColumns = `id, stripe_account_id, mode_step, pipeline_step, checkpoint, finished, created_at, updated_at`

func scanSyncJob(row pgx.Row) (*SyncJob, error) {
	var (
		job        SyncJob
		checkpoint *string
	)
	if err := row.Scan(&job.ID, &job.AccountID, &job.Mode, &job.Step, &checkpoint,
		&job.Finished, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Checkpoint = deref(checkpoint)
	return &job, nil
}

func (s *PostgresStore) CreateSyncJob(ctx context.Context, accountID string) (*SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx, `
		INSERT INTO sync_jobs (stripe_account_id) VALUES ($1)
		RETURNING `+syncJobColumns, accountID))
	if err != nil {
		return nil, classify(err, "account", accountID)
	}
	return job, nil
}

func (s *PostgresStore) GetSyncJob(ctx context.Context, id int64) (*SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, "sync job", fmt.Sprint(id))
	}
	return job, nil
}

// SaveSyncJob persists the job's cursor and finished flag.
func (s *PostgresStore) SaveSyncJob(ctx context.Context, job *SyncJob) error {
	if !job.Step.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStep, job.Step)
	}
	err := s.pool.QueryRow(ctx, `
		UPDATE sync_jobs
		SET mode_step = $2, pipeline_step = $3, checkpoint = $4, finished = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		job.ID, string(job.Mode), string(job.Step), nullable(job.Checkpoint), job.Finished).Scan(&job.UpdatedAt)
	if err != nil {
		return classify(err, "sync job", fmt.Sprint(job.ID))
	}
	return nil
}
