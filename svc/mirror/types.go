package mirror

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

type Account struct {
	ID                   int64
	StripeID             string
	Name                 string
	Raw                  json.RawMessage
	InitialSyncStartedAt *time.Time
	InitialSyncComplete  bool
	BillingCustomerID    string
	CreatedAt            time.Time
}

type User struct {
	ID        int64
	AccountID string
	StripeID  string
	Email     string
	Name      string
	CreatedAt time.Time
}

type Customer struct {
	ID        int64
	AccountID string
	StripeID  string
	Raw       json.RawMessage
}

type Product struct {
	ID        int64
	AccountID string
	StripeID  string
	Raw       json.RawMessage
}

// Price.UnitAmount is nil for tiered prices.
type Price struct {
	ID         int64
	AccountID  string
	StripeID   string
	ProductID  string
	UnitAmount *int64
	Currency   string
	Raw        json.RawMessage
}

type Subscription struct {
	ID         int64
	AccountID  string
	StripeID   string
	CustomerID string
	Status     string
	Raw        json.RawMessage
}

type SubscriptionItem struct {
	ID             int64
	AccountID      string
	StripeID       string
	PriceID        string
	SubscriptionID string
	Raw            json.RawMessage
}

type Invoice struct {
	ID             int64
	AccountID      string
	StripeID       string
	CustomerID     string
	SubscriptionID string
	Status         string
	Total          int64
	Raw            json.RawMessage
}

type Charge struct {
	ID        int64
	AccountID string
	StripeID  string
	InvoiceID string
	Amount    int64
	Status    string
	Mode      platform.Mode
	Created   time.Time
	Raw       json.RawMessage
}

// CustomerItem is a subscription item of a customer joined with its
// subscription status and its price's product. ProductID is empty when the
// price is not mirrored yet.
type CustomerItem struct {
	ItemID         string
	PriceID        string
	ProductID      string
	SubscriptionID string
	Status         string
}

type FeatureType int16

const (
	FeatureFlag  FeatureType = 0
	FeatureLimit FeatureType = 1
)

func (t FeatureType) Valid() bool {
	return t == FeatureFlag || t == FeatureLimit
}

func (t FeatureType) String() string {
	switch t {
	case FeatureFlag:
		return "flag"
	case FeatureLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Feature is an account-level entitlement default. Only the value matching
// Type is meaningful; a nil ValueLimit on a limit feature means unlimited.
type Feature struct {
	ID         int64       `json:"id"`
	AccountID  string      `json:"-"`
	Name       string      `json:"name"`
	Key        string      `json:"key"`
	Type       FeatureType `json:"type"`
	ValueFlag  *bool       `json:"value_flag"`
	ValueLimit *int64      `json:"value_limit"`
}

// Scope selects one of the override tables.
type Scope string

const (
	ScopeProduct  Scope = "product"
	ScopeCustomer Scope = "customer"
	ScopePrice    Scope = "price"
)

func (s Scope) Valid() bool {
	return s == ScopeProduct || s == ScopeCustomer || s == ScopePrice
}

// Override replaces a feature's default value for one product, customer or
// price.
type Override struct {
	ID         int64  `json:"id"`
	AccountID  string `json:"-"`
	Scope      Scope  `json:"-"`
	ScopeID    string `json:"-"`
	FeatureID  int64  `json:"feature_id"`
	ValueFlag  *bool  `json:"value_flag"`
	ValueLimit *int64 `json:"value_limit"`
}

type PricingTable struct {
	ID             int64
	AccountID      string
	Name           string
	Mode           platform.Mode
	MonthlyEnabled bool
	AnnualEnabled  bool
}

// PricingTableProduct is one row of a pricing table. Price ids are empty
// when the interval has no price.
type PricingTableProduct struct {
	ID             int64
	AccountID      string
	PricingTableID int64
	ProductID      string
	MonthlyPriceID string
	AnnualPriceID  string
}

// Step is a pipeline step of a full sync. Steps lists them in run order.
type Step string

const (
	StepCustomers     Step = "customers"
	StepProducts      Step = "products"
	StepPrices        Step = "prices"
	StepSubscriptions Step = "subscriptions"
	StepInvoices      Step = "invoices"
	StepCharges       Step = "charges"
)

var Steps = []Step{
	StepCustomers,
	StepProducts,
	StepPrices,
	StepSubscriptions,
	StepInvoices,
	StepCharges,
}

func (s Step) Valid() bool {
	return slices.Contains(Steps, s)
}

// SyncJob is the durable cursor of one full resync. An empty Checkpoint means
// the step has not started.
type SyncJob struct {
	ID         int64
	AccountID  string
	Mode       platform.Mode
	Step       Step
	Checkpoint string
	Finished   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
