package entitlements

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

// customerSubscriptions returns the raw objects of the customer's
// non-canceled subscriptions with item products expanded from the mirror.
// Products that are not mirrored keep their id.
func (s *Service) customerSubscriptions(ctx context.Context, accountID, customerID string) ([]json.RawMessage, error) {
	subs, err := s.store.ListCustomerSubscriptions(ctx, accountID, customerID, "canceled")
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(subs))
	if len(subs) == 0 {
		return out, nil
	}

	objects := make([]map[string]any, 0, len(subs))
	var productIDs []string
	for _, sub := range subs {
		obj, err := decodeObject(sub.Raw)
		if err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", sub.StripeID, err)
		}
		if len(obj) == 0 {
			obj = map[string]any{"id": sub.StripeID, "object": "subscription", "customer": sub.CustomerID, "status": sub.Status}
		}
		for _, price := range itemPrices(obj) {
			if id := refID(price["product"]); id != "" {
				productIDs = append(productIDs, id)
			}
		}
		objects = append(objects, obj)
	}

	products, err := s.store.GetProducts(ctx, accountID, productIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]json.RawMessage, len(products))
	for _, p := range products {
		raw := p.Raw
		if len(raw) == 0 {
			raw, _ = json.Marshal(map[string]string{"id": p.StripeID, "object": "product"})
		}
		byID[p.StripeID] = raw
	}

	for _, obj := range objects {
		for _, price := range itemPrices(obj) {
			if raw, ok := byID[refID(price["product"])]; ok {
				price["product"] = raw
			}
		}
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// itemPrices returns the price objects of items.data[].price.
func itemPrices(sub map[string]any) []map[string]any {
	items, _ := sub["items"].(map[string]any)
	data, _ := items["data"].([]any)
	var out []map[string]any
	for _, it := range data {
		item, _ := it.(map[string]any)
		if price, ok := item["price"].(map[string]any); ok {
			out = append(out, price)
		}
	}
	return out
}

// refID returns the id of a collapsed or expanded reference.
func refID(v any) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]any:
		id, _ := ref["id"].(string)
		return id
	default:
		return ""
	}
}

// PricingTableState resolves a pricing table: its intervals and products
// with product features and interval prices. Products are ordered by the
// unit amount of the first enabled interval; products without a price for
// that interval go last.
func (s *Service) PricingTableState(ctx context.Context, accountID string, tableID int64) (*PricingTableState, error) {
	table, err := s.store.GetPricingTable(ctx, accountID, tableID)
	if err != nil {
		return nil, notFound(err)
	}
	rows, err := s.store.ListPricingTableProducts(ctx, accountID, table.ID)
	if err != nil {
		return nil, err
	}
	account, err := s.AccountFeatures(ctx, accountID)
	if err != nil {
		return nil, err
	}

	state := &PricingTableState{
		ID:        table.ID,
		Name:      table.Name,
		Intervals: []string{},
		Products:  make([]PricingTableProductState, 0, len(rows)),
	}
	if table.MonthlyEnabled {
		state.Intervals = append(state.Intervals, IntervalMonth)
	}
	if table.AnnualEnabled {
		state.Intervals = append(state.Intervals, IntervalYear)
	}

	for _, row := range rows {
		p, err := s.pricingTableProduct(ctx, accountID, row, account)
		if err != nil {
			return nil, err
		}
		state.Products = append(state.Products, *p)
	}

	if len(state.Intervals) > 0 {
		interval := state.Intervals[0]
		slices.SortStableFunc(state.Products, func(a, b PricingTableProductState) int {
			pa, okA := a.Prices[interval]
			pb, okB := b.Prices[interval]
			switch {
			case okA && okB:
				return cmp.Compare(amountOf(pa), amountOf(pb))
			case okA:
				return -1
			case okB:
				return 1
			default:
				return 0
			}
		})
	}
	return state, nil
}

func amountOf(p IntervalPrice) int64 {
	if p.UnitAmount == nil {
		return 0
	}
	return *p.UnitAmount
}

func (s *Service) pricingTableProduct(ctx context.Context, accountID string, row mirror.PricingTableProduct, account []mirror.Feature) (*PricingTableProductState, error) {
	features, err := s.productFeatures(ctx, accountID, row.ProductID, account)
	if err != nil {
		return nil, err
	}
	out := &PricingTableProductState{
		ID:       row.ProductID,
		Features: features,
		Prices:   map[string]IntervalPrice{},
	}

	product, err := s.store.GetProduct(ctx, accountID, row.ProductID)
	switch {
	case err == nil:
		var fields struct {
			Name        string  `json:"name"`
			Description *string `json:"description"`
		}
		if len(product.Raw) > 0 {
			if err := json.Unmarshal(product.Raw, &fields); err != nil {
				return nil, fmt.Errorf("decode product %s: %w", row.ProductID, err)
			}
		}
		out.Name, out.Description = fields.Name, fields.Description
	case errors.Is(err, mirror.ErrNotFound):
	default:
		return nil, err
	}

	for interval, priceID := range map[string]string{IntervalMonth: row.MonthlyPriceID, IntervalYear: row.AnnualPriceID} {
		if priceID == "" {
			continue
		}
		price, err := s.store.GetPrice(ctx, accountID, priceID)
		if err != nil {
			if errors.Is(err, mirror.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out.Prices[interval] = IntervalPrice{ID: price.StripeID, UnitAmount: price.UnitAmount, Currency: price.Currency}
	}
	return out, nil
}
