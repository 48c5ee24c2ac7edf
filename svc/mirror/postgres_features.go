package mirror

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/entitlekit/pkg/pg"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

const featureColumns = `id, stripe_account_id, name, key, type, value_flag, value_limit`

func scanFeature(row pgx.Row) (Feature, error) {
	var f Feature
	err := row.Scan(&f.ID, &f.AccountID, &f.Name, &f.Key, &f.Type, &f.ValueFlag, &f.ValueLimit)
	return f, err
}

func (s *PostgresStore) ListFeatures(ctx context.Context, accountID string) ([]Feature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+featureColumns+` FROM features WHERE stripe_account_id = $1 ORDER BY name, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list features: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Feature, error) {
		return scanFeature(row)
	})
}

func (s *PostgresStore) GetFeature(ctx context.Context, accountID string, id int64) (*Feature, error) {
	f, err := scanFeature(s.pool.QueryRow(ctx,
		`SELECT `+featureColumns+` FROM features WHERE stripe_account_id = $1 AND id = $2`, accountID, id))
	if err != nil {
		return nil, classify(err, "feature", fmt.Sprint(id))
	}
	return &f, nil
}

func (s *PostgresStore) CreateFeature(ctx context.Context, f Feature) (*Feature, error) {
	out, err := scanFeature(s.pool.QueryRow(ctx, `
		INSERT INTO features (stripe_account_id, name, key, type, value_flag, value_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+featureColumns,
		f.AccountID, f.Name, f.Key, int16(f.Type), f.ValueFlag, f.ValueLimit))
	if err != nil {
		return nil, featureError(err, f)
	}
	return &out, nil
}

func (s *PostgresStore) UpdateFeature(ctx context.Context, f Feature) (*Feature, error) {
	out, err := scanFeature(s.pool.QueryRow(ctx, `
		UPDATE features
		SET name = $3, key = $4, type = $5, value_flag = $6, value_limit = $7
		WHERE stripe_account_id = $1 AND id = $2
		RETURNING `+featureColumns,
		f.AccountID, f.ID, f.Name, f.Key, int16(f.Type), f.ValueFlag, f.ValueLimit))
	if err != nil {
		return nil, featureError(err, f)
	}
	return &out, nil
}

func featureError(err error, f Feature) error {
	switch {
	case pg.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", ErrFeatureExists, f.Key)
	case pg.IsForeignKeyViolationError(err):
		return notFound("account", f.AccountID)
	default:
		return classify(err, "feature", fmt.Sprint(f.ID))
	}
}

func (s *PostgresStore) DeleteFeature(ctx context.Context, accountID string, id int64) error {
	return s.execOne(ctx, "feature", fmt.Sprint(id),
		`DELETE FROM features WHERE stripe_account_id = $1 AND id = $2`, accountID, id)
}

// overrideTable returns the table and scope column of an override scope.
func overrideTable(scope Scope) (table, column string, err error) {
	switch scope {
	case ScopeProduct:
		return "product_features", "stripe_product_id", nil
	case ScopeCustomer:
		return "customer_features", "stripe_customer_id", nil
	case ScopePrice:
		return "price_features", "stripe_price_id", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

func (s *PostgresStore) ListOverrides(ctx context.Context, accountID string, scope Scope, scopeID string) ([]Override, error) {
	table, column, err := overrideTable(scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, feature_id, value_flag, value_limit
		FROM %s WHERE stripe_account_id = $1 AND %s = $2
		ORDER BY feature_id`, table, column), accountID, scopeID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list %s overrides: %w", scope, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Override, error) {
		o := Override{AccountID: accountID, Scope: scope, ScopeID: scopeID}
		err := row.Scan(&o.ID, &o.FeatureID, &o.ValueFlag, &o.ValueLimit)
		return o, err
	})
}

func (s *PostgresStore) ReplaceOverrides(ctx context.Context, accountID string, scope Scope, scopeID string, overrides []Override) error {
	table, column, err := overrideTable(scope)
	if err != nil {
		return err
	}

	keep := make([]int64, 0, len(overrides))
	for _, o := range overrides {
		keep = append(keep, o.FeatureID)
	}

	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			DELETE FROM %s
			WHERE stripe_account_id = $1 AND %s = $2 AND NOT (feature_id = ANY($3))`, table, column),
			accountID, scopeID, keep); err != nil {
			return fmt.Errorf("mirror: prune %s overrides: %w", scope, err)
		}

		upsert := fmt.Sprintf(`
			INSERT INTO %s (stripe_account_id, %s, feature_id, value_flag, value_limit)
			SELECT $1, $2, f.id, $4, $5 FROM features f WHERE f.stripe_account_id = $1 AND f.id = $3
			ON CONFLICT (stripe_account_id, %s, feature_id) DO UPDATE
			SET value_flag = EXCLUDED.value_flag, value_limit = EXCLUDED.value_limit`, table, column, column)
		for _, o := range overrides {
			tag, err := tx.Exec(ctx, upsert, accountID, scopeID, o.FeatureID, o.ValueFlag, o.ValueLimit)
			if err != nil {
				return fmt.Errorf("mirror: upsert %s override: %w", scope, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %d", ErrUnknownFeature, o.FeatureID)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetPricingTable(ctx context.Context, accountID string, id int64) (*PricingTable, error) {
	var t PricingTable
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, name, mode, monthly_enabled, annual_enabled
		FROM pricing_tables WHERE stripe_account_id = $1 AND id = $2`, accountID, id).
		Scan(&t.ID, &t.AccountID, &t.Name, &t.Mode, &t.MonthlyEnabled, &t.AnnualEnabled)
	if err != nil {
		return nil, classify(err, "pricing table", fmt.Sprint(id))
	}
	return &t, nil
}

func (s *PostgresStore) CreatePricingTable(ctx context.Context, t PricingTable) (*PricingTable, error) {
	if t.Name == "" {
		t.Name = "Default"
	}
	if t.Mode == "" {
		t.Mode = platform.ModeLive
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pricing_tables (stripe_account_id, name, mode, monthly_enabled, annual_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, t.AccountID, t.Name, string(t.Mode), t.MonthlyEnabled, t.AnnualEnabled).Scan(&t.ID)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return nil, notFound("account", t.AccountID)
		}
		return nil, fmt.Errorf("mirror: create pricing table: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) AddPricingTableProduct(ctx context.Context, p PricingTableProduct) (*PricingTableProduct, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pricing_table_products
			(stripe_account_id, pricing_table_id, stripe_product_id, monthly_stripe_price_id, annual_stripe_price_id)
		SELECT $1, t.id, $3, $4, $5 FROM pricing_tables t WHERE t.stripe_account_id = $1 AND t.id = $2
		RETURNING id`,
		p.AccountID, p.PricingTableID, p.ProductID, nullable(p.MonthlyPriceID), nullable(p.AnnualPriceID)).Scan(&p.ID)
	if err != nil {
		return nil, classify(err, "pricing table", fmt.Sprint(p.PricingTableID))
	}
	return &p, nil
}

func (s *PostgresStore) ListPricingTableProducts(ctx context.Context, accountID string, tableID int64) ([]PricingTableProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stripe_account_id, pricing_table_id, stripe_product_id, monthly_stripe_price_id, annual_stripe_price_id
		FROM pricing_table_products
		WHERE stripe_account_id = $1 AND pricing_table_id = $2
		ORDER BY id`, accountID, tableID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list pricing table products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PricingTableProduct, error) {
		var (
			p               PricingTableProduct
			monthly, annual *string
		)
		err := row.Scan(&p.ID, &p.AccountID, &p.PricingTableID, &p.ProductID, &monthly, &annual)
		p.MonthlyPriceID, p.AnnualPriceID = deref(monthly), deref(annual)
		return p, err
	})
}
