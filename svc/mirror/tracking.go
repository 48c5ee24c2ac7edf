package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/async"
	"github.com/dmitrymomot/entitlekit/pkg/logger"
)

const (
	EventAccountCreated = "account_created"
	EventAccountRenamed = "account_renamed"
	EventUserCreated    = "user_created"
)

// TrackEvent is a lifecycle event of an account or one of its users.
type TrackEvent struct {
	Name       string         `json:"event"`
	AccountID  string         `json:"account_id"`
	UserID     string         `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Time       time.Time      `json:"time"`
}

type Tracker interface {
	Track(ctx context.Context, ev TrackEvent) error
}

type TrackingOption func(*trackingStore)

func WithTrackingLogger(log *slog.Logger) TrackingOption {
	return func(s *trackingStore) {
		s.log = log
	}
}

func WithTrackingTimeout(d time.Duration) TrackingOption {
	return func(s *trackingStore) {
		s.timeout = d
	}
}

// WithTracking reports account creation, account renames and first user
// creation to tracker. Events are delivered in the background; delivery
// failures are logged and never affect the upsert.
func WithTracking(store Store, tracker Tracker, opts ...TrackingOption) Store {
	s := &trackingStore{
		Store:   store,
		tracker: tracker,
		log:     slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type trackingStore struct {
	Store
	tracker Tracker
	log     *slog.Logger
	timeout time.Duration
}

func (s *trackingStore) UpsertAccount(ctx context.Context, accountID, name string, raw json.RawMessage) (*Account, error) {
	prev, err := s.Store.GetAccount(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	acct, err := s.Store.UpsertAccount(ctx, accountID, name, raw)
	if err != nil {
		return nil, err
	}

	switch {
	case prev == nil:
		s.emit(ctx, TrackEvent{
			Name:       EventAccountCreated,
			AccountID:  accountID,
			Properties: map[string]any{"name": acct.Name},
		})
	case prev.Name != acct.Name:
		s.emit(ctx, TrackEvent{
			Name:       EventAccountRenamed,
			AccountID:  accountID,
			Properties: map[string]any{"name": acct.Name, "previous_name": prev.Name},
		})
	}
	return acct, nil
}

func (s *trackingStore) UpsertUser(ctx context.Context, accountID, userID, email, name string) (*User, error) {
	prev, err := s.Store.GetUser(ctx, accountID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user, err := s.Store.UpsertUser(ctx, accountID, userID, email, name)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		s.emit(ctx, TrackEvent{
			Name:       EventUserCreated,
			AccountID:  accountID,
			UserID:     userID,
			Properties: map[string]any{"email": email, "name": name},
		})
	}
	return user, nil
}

func (s *trackingStore) emit(ctx context.Context, ev TrackEvent) {
	ev.Time = time.Now().UTC()
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	async.Async(bg, ev, func(ctx context.Context, ev TrackEvent) (struct{}, error) {
		defer cancel()
		if err := s.tracker.Track(ctx, ev); err != nil {
			s.log.WarnContext(ctx, "tracking event dropped",
				logger.Component("mirror"),
				logger.Event(ev.Name),
				logger.AccountID(ev.AccountID),
				logger.Error(err),
			)
		}
		return struct{}{}, nil
	})
}
