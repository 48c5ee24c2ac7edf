package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

// Store is the mirror's persistence. All methods scope by account; Get
// methods return ErrNotFound when the row does not exist.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	UpsertAccount(ctx context.Context, accountID, name string, raw json.RawMessage) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	MarkInitialSyncStarted(ctx context.Context, accountID string, at time.Time) error
	MarkInitialSyncComplete(ctx context.Context, accountID string) error

	GetUser(ctx context.Context, accountID, userID string) (*User, error)
	UpsertUser(ctx context.Context, accountID, userID, email, name string) (*User, error)

	GetCustomer(ctx context.Context, accountID, id string) (*Customer, error)
	UpsertCustomer(ctx context.Context, accountID, id string, raw json.RawMessage) (*Customer, error)
	ListCustomers(ctx context.Context, accountID string) ([]Customer, error)

	GetProduct(ctx context.Context, accountID, id string) (*Product, error)
	UpsertProduct(ctx context.Context, accountID, id string, raw json.RawMessage) (*Product, error)
	// GetProducts returns the mirrored products among ids, in no particular
	// order. Missing ids are skipped.
	GetProducts(ctx context.Context, accountID string, ids []string) ([]Product, error)

	GetPrice(ctx context.Context, accountID, id string) (*Price, error)
	UpsertPrice(ctx context.Context, p Price) (*Price, error)

	GetSubscription(ctx context.Context, accountID, id string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, s Subscription) (*Subscription, error)
	DeleteSubscription(ctx context.Context, accountID, id string) error
	// ListCustomerSubscriptions returns the customer's subscriptions whose
	// status is not one of excluded, ordered by id.
	ListCustomerSubscriptions(ctx context.Context, accountID, customerID string, excluded ...string) ([]Subscription, error)

	UpsertSubscriptionItem(ctx context.Context, it SubscriptionItem) (*SubscriptionItem, error)
	ListCustomerItems(ctx context.Context, accountID, customerID string) ([]CustomerItem, error)

	GetInvoice(ctx context.Context, accountID, id string) (*Invoice, error)
	UpsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error)

	GetCharge(ctx context.Context, accountID, id string) (*Charge, error)
	UpsertCharge(ctx context.Context, ch Charge) (*Charge, error)
	// ChargeTotal sums succeeded charge amounts created at or after since.
	ChargeTotal(ctx context.Context, accountID string, mode platform.Mode, since time.Time) (int64, error)

	// ListFeatures returns the account's features ordered by name.
	ListFeatures(ctx context.Context, accountID string) ([]Feature, error)
	GetFeature(ctx context.Context, accountID string, id int64) (*Feature, error)
	CreateFeature(ctx context.Context, f Feature) (*Feature, error)
	UpdateFeature(ctx context.Context, f Feature) (*Feature, error)
	DeleteFeature(ctx context.Context, accountID string, id int64) error

	ListOverrides(ctx context.Context, accountID string, scope Scope, scopeID string) ([]Override, error)
	// ReplaceOverrides upserts overrides and deletes the scope's rows for
	// features not present in overrides.
	ReplaceOverrides(ctx context.Context, accountID string, scope Scope, scopeID string, overrides []Override) error

	GetPricingTable(ctx context.Context, accountID string, id int64) (*PricingTable, error)
	CreatePricingTable(ctx context.Context, t PricingTable) (*PricingTable, error)
	AddPricingTableProduct(ctx context.Context, p PricingTableProduct) (*PricingTableProduct, error)
	// ListPricingTableProducts returns the table's rows in insertion order.
	ListPricingTableProducts(ctx context.Context, accountID string, tableID int64) ([]PricingTableProduct, error)

	CreateSyncJob(ctx context.Context, accountID string) (*SyncJob, error)
	GetSyncJob(ctx context.Context, id int64) (*SyncJob, error)
	SaveSyncJob(ctx context.Context, job *SyncJob) error
}
