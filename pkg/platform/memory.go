package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryClient is an in-process Client for tests and local runs. Objects are
// listed in id order; Fail injects errors per operation.
type MemoryClient struct {
	mu sync.RWMutex

	customers     map[string]map[string]Customer
	products      map[string]map[string]Product
	prices        map[string]map[string]Price
	subscriptions map[string]map[string]Subscription
	items         map[string]map[string]SubscriptionItem
	invoices      map[string]map[string]Invoice
	charges       map[string]map[string]Charge

	failures map[string]error
	calls    map[string]int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		customers:     map[string]map[string]Customer{},
		products:      map[string]map[string]Product{},
		prices:        map[string]map[string]Price{},
		subscriptions: map[string]map[string]Subscription{},
		items:         map[string]map[string]SubscriptionItem{},
		invoices:      map[string]map[string]Invoice{},
		charges:       map[string]map[string]Charge{},
		failures:      map[string]error{},
		calls:         map[string]int{},
	}
}

// Fail makes op return err until cleared with a nil err. Ops are method
// names such as "ListCustomers" or "GetPrice".
func (m *MemoryClient) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls reports how many times op was invoked.
func (m *MemoryClient) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

func (m *MemoryClient) AddCustomer(account string, c Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Raw = orJSON(c.Raw, map[string]any{"id": c.ID, "object": "customer"})
	put(m.customers, account, c.ID, c)
}

func (m *MemoryClient) AddProduct(account string, p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Raw = orJSON(p.Raw, map[string]any{"id": p.ID, "object": "product", "name": p.ID})
	put(m.products, account, p.ID, p)
}

func (m *MemoryClient) AddPrice(account string, p Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Raw = orJSON(p.Raw, map[string]any{
		"id": p.ID, "object": "price", "product": p.ProductID,
		"unit_amount": p.UnitAmount, "currency": p.Currency,
	})
	put(m.prices, account, p.ID, p)
}

func (m *MemoryClient) AddSubscription(account string, s Subscription, items ...SubscriptionItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := make([]map[string]any, 0, len(items))
	for _, it := range items {
		it.SubscriptionID = s.ID
		it.Raw = orJSON(it.Raw, map[string]any{
			"id": it.ID, "object": "subscription_item", "subscription": s.ID,
			"price": map[string]any{"id": it.PriceID},
		})
		put(m.items, account, it.ID, it)
		data = append(data, map[string]any{"id": it.ID, "price": map[string]any{"id": it.PriceID}})
	}
	s.Raw = orJSON(s.Raw, map[string]any{
		"id": s.ID, "object": "subscription", "customer": s.CustomerID, "status": s.Status,
		"items": map[string]any{"object": "list", "data": data},
	})
	put(m.subscriptions, account, s.ID, s)
}

func (m *MemoryClient) AddInvoice(account string, inv Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Raw = orJSON(inv.Raw, map[string]any{
		"id": inv.ID, "object": "invoice", "customer": inv.CustomerID, "status": inv.Status, "total": inv.Total,
	})
	put(m.invoices, account, inv.ID, inv)
}

func (m *MemoryClient) AddCharge(account string, ch Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch.Raw = orJSON(ch.Raw, map[string]any{
		"id": ch.ID, "object": "charge", "amount": ch.Amount, "status": ch.Status, "created": ch.Created.Unix(),
	})
	put(m.charges, account, ch.ID, ch)
}

func (m *MemoryClient) GetCustomer(_ context.Context, account, id string) (*Customer, error) {
	return get(m, "GetCustomer", m.customers, account, id)
}

func (m *MemoryClient) GetProduct(_ context.Context, account, id string) (*Product, error) {
	return get(m, "GetProduct", m.products, account, id)
}

func (m *MemoryClient) GetPrice(_ context.Context, account, id string) (*Price, error) {
	return get(m, "GetPrice", m.prices, account, id)
}

func (m *MemoryClient) GetInvoice(_ context.Context, account, id string) (*Invoice, error) {
	return get(m, "GetInvoice", m.invoices, account, id)
}

func (m *MemoryClient) GetCharge(_ context.Context, account, id string) (*Charge, error) {
	return get(m, "GetCharge", m.charges, account, id)
}

func (m *MemoryClient) ListCustomers(_ context.Context, account string, p PageParams) (Page[Customer], error) {
	return list(m, "ListCustomers", m.customers, account, p, nil)
}

func (m *MemoryClient) ListProducts(_ context.Context, account string, p PageParams) (Page[Product], error) {
	return list(m, "ListProducts", m.products, account, p, nil)
}

func (m *MemoryClient) ListPrices(_ context.Context, account string, p PageParams) (Page[Price], error) {
	return list(m, "ListPrices", m.prices, account, p, nil)
}

func (m *MemoryClient) ListSubscriptions(_ context.Context, account string, p PageParams) (Page[Subscription], error) {
	return list(m, "ListSubscriptions", m.subscriptions, account, p, nil)
}

func (m *MemoryClient) ListInvoices(_ context.Context, account string, p PageParams) (Page[Invoice], error) {
	return list(m, "ListInvoices", m.invoices, account, p, nil)
}

func (m *MemoryClient) ListCharges(_ context.Context, account string, p PageParams) (Page[Charge], error) {
	return list(m, "ListCharges", m.charges, account, p, nil)
}

func (m *MemoryClient) ListCustomerSubscriptions(_ context.Context, account, customerID string) ([]Subscription, error) {
	page, err := list(m, "ListCustomerSubscriptions", m.subscriptions, account, PageParams{Limit: 1 << 30},
		func(s Subscription) bool { return s.CustomerID == customerID })
	return page.Items, err
}

func (m *MemoryClient) ListSubscriptionItems(_ context.Context, account, subscriptionID string) ([]SubscriptionItem, error) {
	page, err := list(m, "ListSubscriptionItems", m.items, account, PageParams{Limit: 1 << 30},
		func(it SubscriptionItem) bool { return it.SubscriptionID == subscriptionID })
	return page.Items, err
}

func (m *MemoryClient) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.failures[op]
}

func get[T any](m *MemoryClient, op string, store map[string]map[string]T, account, id string) (*T, error) {
	if err := m.record(op); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := store[account][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &v, nil
}

func list[T any](m *MemoryClient, op string, store map[string]map[string]T, account string, p PageParams, keep func(T) bool) (Page[T], error) {
	if err := m.record(op); err != nil {
		return Page[T]{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(store[account]))
	for id := range store[account] {
		if p.StartingAfter == "" || strings.Compare(id, p.StartingAfter) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var out Page[T]
	for _, id := range ids {
		v := store[account][id]
		if keep != nil && !keep(v) {
			continue
		}
		if len(out.Items) == p.limit() {
			out.HasMore = true
			break
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}

func put[T any](store map[string]map[string]T, account, id string, v T) {
	if store[account] == nil {
		store[account] = map[string]T{}
	}
	store[account][id] = v
}

func orJSON(r Raw, fallback map[string]any) Raw {
	if len(r) > 0 {
		return r
	}
	b, _ := json.Marshal(fallback)
	return b
}
