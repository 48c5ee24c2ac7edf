package entitlements

import (
	"encoding/json"

	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// StateVersion is the version of the CustomerState payload.
const StateVersion = 1

// CustomerState is the resolved entitlement payload of one customer.
// Subscriptions are the platform objects of the customer's non-canceled
// subscriptions with each item's price.product replaced by the product
// object.
type CustomerState struct {
	Version       int               `json:"version"`
	Features      []mirror.Feature  `json:"features"`
	Subscriptions []json.RawMessage `json:"subscriptions"`
}

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

type PricingTableState struct {
	ID        int64                      `json:"id"`
	Name      string                     `json:"name"`
	Intervals []string                   `json:"intervals"`
	Products  []PricingTableProductState `json:"products"`
}

type PricingTableProductState struct {
	ID          string                   `json:"id"`
	Features    []mirror.Feature         `json:"features"`
	Name        string                   `json:"name"`
	Description *string                  `json:"description"`
	Prices      map[string]IntervalPrice `json:"prices"`
}

type IntervalPrice struct {
	ID         string `json:"id"`
	UnitAmount *int64 `json:"unit_amount"`
	Currency   string `json:"currency"`
}
