// Package platform is the boundary to the payment platform. It exposes the
// platform objects the mirror stores, a paged Client per mode, and webhook
// event parsing.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("platform: object not found")
	ErrUnknownMode  = errors.New("platform: unknown mode")
	ErrNoClient     = errors.New("platform: no client configured for mode")
	ErrBadSignature = errors.New("platform: webhook signature verification failed")
	ErrBadEvent     = errors.New("platform: malformed event")
)

// Mode is one of the two isolated platform environments.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// Modes is the order in which a full sync visits the environments.
var Modes = []Mode{ModeLive, ModeTest}

func (m Mode) Valid() bool { return m == ModeLive || m == ModeTest }

func (m Mode) String() string { return string(m) }

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// ModeOf maps an object's livemode flag to a Mode.
func ModeOf(livemode bool) Mode {
	if livemode {
		return ModeLive
	}
	return ModeTest
}

// DefaultPageSize is the page size of every paged list.
const DefaultPageSize = 100

// Raw is the platform's JSON for an object, stored verbatim by the mirror.
type Raw = json.RawMessage

type Customer struct {
	ID  string
	Raw Raw
}

type Product struct {
	ID  string
	Raw Raw
}

type Price struct {
	ID        string
	ProductID string
	// UnitAmount is nil for prices without a flat amount.
	UnitAmount *int64
	Currency   string
	Raw        Raw
}

type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	Raw        Raw
}

type SubscriptionItem struct {
	ID             string
	SubscriptionID string
	PriceID        string
	Raw            Raw
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Status         string
	Total          int64
	Raw            Raw
}

type Charge struct {
	ID        string
	InvoiceID string
	Amount    int64
	Status    string
	Created   time.Time
	Raw       Raw
}

// PageParams selects the page after StartingAfter. Limit defaults to
// DefaultPageSize.
type PageParams struct {
	Limit         int
	StartingAfter string
}

func (p PageParams) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	return p.Limit
}

type Page[T any] struct {
	Items   []T
	HasMore bool
}

// Client reads objects of one connected account in one mode. Get methods
// return ErrNotFound when the platform has no such object.
type Client interface {
	GetCustomer(ctx context.Context, account, id string) (*Customer, error)
	GetProduct(ctx context.Context, account, id string) (*Product, error)
	GetPrice(ctx context.Context, account, id string) (*Price, error)
	GetInvoice(ctx context.Context, account, id string) (*Invoice, error)
	GetCharge(ctx context.Context, account, id string) (*Charge, error)

	ListCustomers(ctx context.Context, account string, p PageParams) (Page[Customer], error)
	ListProducts(ctx context.Context, account string, p PageParams) (Page[Product], error)
	ListPrices(ctx context.Context, account string, p PageParams) (Page[Price], error)
	ListSubscriptions(ctx context.Context, account string, p PageParams) (Page[Subscription], error)
	ListInvoices(ctx context.Context, account string, p PageParams) (Page[Invoice], error)
	ListCharges(ctx context.Context, account string, p PageParams) (Page[Charge], error)

	// ListCustomerSubscriptions returns every subscription of the customer
	// in any status.
	ListCustomerSubscriptions(ctx context.Context, account, customerID string) ([]Subscription, error)
	ListSubscriptionItems(ctx context.Context, account, subscriptionID string) ([]SubscriptionItem, error)
}

// Clients holds one Client per mode.
type Clients map[Mode]Client

func (c Clients) For(mode Mode) (Client, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	client, ok := c[mode]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, mode)
	}
	return client, nil
}
