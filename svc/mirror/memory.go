package mirror

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness rules
// as the Postgres schema.
type MemoryStore struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	accounts      map[string]*Account
	users         table[User]
	customers     table[Customer]
	products      table[Product]
	prices        table[Price]
	subscriptions table[Subscription]
	items         table[SubscriptionItem]
	invoices      table[Invoice]
	charges       table[Charge]

	features  map[int64]*Feature
	overrides map[Scope]map[overrideKey]*Override

	pricingTables map[int64]*PricingTable
	ptProducts    map[int64]*PricingTableProduct

	syncJobs map[int64]*SyncJob
}

type table[T any] map[string]map[string]*T

type overrideKey struct {
	account   string
	scopeID   string
	featureID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		accounts:      map[string]*Account{},
		users:         table[User]{},
		customers:     table[Customer]{},
		products:      table[Product]{},
		prices:        table[Price]{},
		subscriptions: table[Subscription]{},
		items:         table[SubscriptionItem]{},
		invoices:      table[Invoice]{},
		charges:       table[Charge]{},
		features:      map[int64]*Feature{},
		overrides: map[Scope]map[overrideKey]*Override{
			ScopeProduct:  {},
			ScopeCustomer: {},
			ScopePrice:    {},
		},
		pricingTables: map[int64]*PricingTable{},
		ptProducts:    map[int64]*PricingTableProduct{},
		syncJobs:      map[int64]*SyncJob{},
	}
}

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (t table[T]) get(account, id string) (*T, bool) {
	v, ok := t[account][id]
	return v, ok
}

// upsert stores v under (account, id), keeping the existing row id when
// present. ident returns v's id field.
func (t table[T]) upsert(account, id string, v *T, ident func(*T) *int64, next func() int64) *T {
	if t[account] == nil {
		t[account] = map[string]*T{}
	}
	if prev, ok := t[account][id]; ok {
		*ident(v) = *ident(prev)
	} else {
		*ident(v) = next()
	}
	t[account][id] = v
	return copyOf(v)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func copyOf[T any](v *T) *T {
	out := *v
	return &out
}

func (m *MemoryStore) GetAccount(_ context.Context, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, notFound("account", accountID)
	}
	return copyOf(a), nil
}

func (m *MemoryStore) UpsertAccount(_ context.Context, accountID, name string, raw json.RawMessage) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		a = &Account{ID: m.nextID(), StripeID: accountID, CreatedAt: m.now().UTC()}
		m.accounts[accountID] = a
	}
	if name != "" {
		a.Name = name
	}
	if raw != nil {
		a.Raw = raw
	}
	return copyOf(a), nil
}

func (m *MemoryStore) ListAccounts(_ context.Context) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) MarkInitialSyncStarted(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	at = at.UTC()
	a.InitialSyncStartedAt = &at
	return nil
}

func (m *MemoryStore) MarkInitialSyncComplete(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	a.InitialSyncComplete = true
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, accountID, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users.get(accountID, userID)
	if !ok {
		return nil, notFound("user", userID)
	}
	return copyOf(u), nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, accountID, userID, email, name string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, notFound("account", accountID)
	}
	created := m.now().UTC()
	if prev, ok := m.users.get(accountID, userID); ok {
		created = prev.CreatedAt
	}
	u := &User{AccountID: accountID, StripeID: userID, Email: email, Name: name, CreatedAt: created}
	return m.users.upsert(accountID, userID, u, func(u *User) *int64 { return &u.ID }, m.nextID), nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, accountID, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers.get(accountID, id)
	if !ok {
		return nil, notFound("customer", id)
	}
	return copyOf(c), nil
}

func (m *MemoryStore) UpsertCustomer(_ context.Context, accountID, id string, raw json.RawMessage) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Customer{AccountID: accountID, StripeID: id, Raw: raw}
	return m.customers.upsert(accountID, id, c, func(c *Customer) *int64 { return &c.ID }, m.nextID), nil
}

func (m *MemoryStore) ListCustomers(_ context.Context, accountID string) ([]Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Customer, 0, len(m.customers[accountID]))
	for _, c := range m.customers[accountID] {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Customer) int { return cmp.Compare(a.StripeID, b.StripeID) })
	return out, nil
}

func (m *MemoryStore) GetProduct(_ context.Context, accountID, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products.get(accountID, id)
	if !ok {
		return nil, notFound("product", id)
	}
	return copyOf(p), nil
}

func (m *MemoryStore) UpsertProduct(_ context.Context, accountID, id string, raw json.RawMessage) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Product{AccountID: accountID, StripeID: id, Raw: raw}
	return m.products.upsert(accountID, id, p, func(p *Product) *int64 { return &p.ID }, m.nextID), nil
}

func (m *MemoryStore) GetProducts(_ context.Context, accountID string, ids []string) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Product
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		if p, ok := m.products.get(accountID, id); ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetPrice(_ context.Context, accountID, id string) (*Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices.get(accountID, id)
	if !ok {
		return nil, notFound("price", id)
	}
	return copyOf(p), nil
}

func (m *MemoryStore) UpsertPrice(_ context.Context, p Price) (*Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prices.upsert(p.AccountID, p.StripeID, &p, func(p *Price) *int64 { return &p.ID }, m.nextID), nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, accountID, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions.get(accountID, id)
	if !ok {
		return nil, notFound("subscription", id)
	}
	return copyOf(s), nil
}

func (m *MemoryStore) UpsertSubscription(_ context.Context, s Subscription) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions.upsert(s.AccountID, s.StripeID, &s, func(s *Subscription) *int64 { return &s.ID }, m.nextID), nil
}

func (m *MemoryStore) DeleteSubscription(_ context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions[accountID], id)
	return nil
}

func (m *MemoryStore) ListCustomerSubscriptions(_ context.Context, accountID, customerID string, excluded ...string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, s := range m.subscriptions[accountID] {
		if s.CustomerID == customerID && !slices.Contains(excluded, s.Status) {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return cmp.Compare(a.StripeID, b.StripeID) })
	return out, nil
}

func (m *MemoryStore) UpsertSubscriptionItem(_ context.Context, it SubscriptionItem) (*SubscriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.upsert(it.AccountID, it.StripeID, &it, func(it *SubscriptionItem) *int64 { return &it.ID }, m.nextID), nil
}

func (m *MemoryStore) ListCustomerItems(_ context.Context, accountID, customerID string) ([]CustomerItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CustomerItem
	for _, it := range m.items[accountID] {
		sub, ok := m.subscriptions.get(accountID, it.SubscriptionID)
		if !ok || sub.CustomerID != customerID {
			continue
		}
		ci := CustomerItem{
			ItemID:         it.StripeID,
			PriceID:        it.PriceID,
			SubscriptionID: it.SubscriptionID,
			Status:         sub.Status,
		}
		if price, ok := m.prices.get(accountID, it.PriceID); ok {
			ci.ProductID = price.ProductID
		}
		out = append(out, ci)
	}
	slices.SortFunc(out, func(a, b CustomerItem) int { return cmp.Compare(a.ItemID, b.ItemID) })
	return out, nil
}

func (m *MemoryStore) GetInvoice(_ context.Context, accountID, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices.get(accountID, id)
	if !ok {
		return nil, notFound("invoice", id)
	}
	return copyOf(inv), nil
}

func (m *MemoryStore) UpsertInvoice(_ context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices.upsert(inv.AccountID, inv.StripeID, &inv, func(inv *Invoice) *int64 { return &inv.ID }, m.nextID), nil
}

func (m *MemoryStore) GetCharge(_ context.Context, accountID, id string) (*Charge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.charges.get(accountID, id)
	if !ok {
		return nil, notFound("charge", id)
	}
	return copyOf(ch), nil
}

func (m *MemoryStore) UpsertCharge(_ context.Context, ch Charge) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges.upsert(ch.AccountID, ch.StripeID, &ch, func(ch *Charge) *int64 { return &ch.ID }, m.nextID), nil
}

func (m *MemoryStore) ChargeTotal(_ context.Context, accountID string, mode platform.Mode, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, ch := range m.charges[accountID] {
		if ch.Mode == mode && ch.Status == "succeeded" && !ch.Created.Before(since) {
			total += ch.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) ListFeatures(_ context.Context, accountID string) ([]Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Feature
	for _, f := range m.features {
		if f.AccountID == accountID {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b Feature) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemoryStore) GetFeature(_ context.Context, accountID string, id int64) (*Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[id]
	if !ok || f.AccountID != accountID {
		return nil, notFound("feature", fmt.Sprint(id))
	}
	return copyOf(f), nil
}

func (m *MemoryStore) CreateFeature(_ context.Context, f Feature) (*Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[f.AccountID]; !ok {
		return nil, notFound("account", f.AccountID)
	}
	if m.keyTaken(f.AccountID, f.Key, 0) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureExists, f.Key)
	}
	f.ID = m.nextID()
	m.features[f.ID] = &f
	return copyOf(&f), nil
}

func (m *MemoryStore) UpdateFeature(_ context.Context, f Feature) (*Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.features[f.ID]
	if !ok || prev.AccountID != f.AccountID {
		return nil, notFound("feature", fmt.Sprint(f.ID))
	}
	if m.keyTaken(f.AccountID, f.Key, f.ID) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureExists, f.Key)
	}
	m.features[f.ID] = &f
	return copyOf(&f), nil
}

func (m *MemoryStore) keyTaken(accountID, key string, except int64) bool {
	for _, f := range m.features {
		if f.AccountID == accountID && f.Key == key && f.ID != except {
			return true
		}
	}
	return false
}

func (m *MemoryStore) DeleteFeature(_ context.Context, accountID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.features[id]
	if !ok || f.AccountID != accountID {
		return notFound("feature", fmt.Sprint(id))
	}
	delete(m.features, id)
	for _, rows := range m.overrides {
		maps.DeleteFunc(rows, func(k overrideKey, _ *Override) bool { return k.featureID == id })
	}
	return nil
}

func (m *MemoryStore) ListOverrides(_ context.Context, accountID string, scope Scope, scopeID string) ([]Override, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Override
	for k, o := range m.overrides[scope] {
		if k.account == accountID && k.scopeID == scopeID {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b Override) int { return cmp.Compare(a.FeatureID, b.FeatureID) })
	return out, nil
}

func (m *MemoryStore) ReplaceOverrides(_ context.Context, accountID string, scope Scope, scopeID string, overrides []Override) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[overrideKey]bool, len(overrides))
	for _, o := range overrides {
		f, ok := m.features[o.FeatureID]
		if !ok || f.AccountID != accountID {
			return fmt.Errorf("%w: %d", ErrUnknownFeature, o.FeatureID)
		}
		keep[overrideKey{accountID, scopeID, o.FeatureID}] = true
	}

	rows := m.overrides[scope]
	maps.DeleteFunc(rows, func(k overrideKey, _ *Override) bool {
		return k.account == accountID && k.scopeID == scopeID && !keep[k]
	})
	for _, o := range overrides {
		k := overrideKey{accountID, scopeID, o.FeatureID}
		o.AccountID, o.Scope, o.ScopeID = accountID, scope, scopeID
		if prev, ok := rows[k]; ok {
			o.ID = prev.ID
		} else {
			o.ID = m.nextID()
		}
		rows[k] = &o
	}
	return nil
}

func (m *MemoryStore) GetPricingTable(_ context.Context, accountID string, id int64) (*PricingTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.pricingTables[id]
	if !ok || t.AccountID != accountID {
		return nil, notFound("pricing table", fmt.Sprint(id))
	}
	return copyOf(t), nil
}

func (m *MemoryStore) CreatePricingTable(_ context.Context, t PricingTable) (*PricingTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Name == "" {
		t.Name = "Default"
	}
	if t.Mode == "" {
		t.Mode = platform.ModeLive
	}
	t.ID = m.nextID()
	m.pricingTables[t.ID] = &t
	return copyOf(&t), nil
}

func (m *MemoryStore) AddPricingTableProduct(_ context.Context, p PricingTableProduct) (*PricingTableProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.pricingTables[p.PricingTableID]
	if !ok || t.AccountID != p.AccountID {
		return nil, notFound("pricing table", fmt.Sprint(p.PricingTableID))
	}
	p.ID = m.nextID()
	m.ptProducts[p.ID] = &p
	return copyOf(&p), nil
}

func (m *MemoryStore) ListPricingTableProducts(_ context.Context, accountID string, tableID int64) ([]PricingTableProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PricingTableProduct
	for _, p := range m.ptProducts {
		if p.AccountID == accountID && p.PricingTableID == tableID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b PricingTableProduct) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) CreateSyncJob(_ context.Context, accountID string) (*SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, notFound("account", accountID)
	}
	now := m.now().UTC()
	job := &SyncJob{
		ID:        m.nextID(),
		AccountID: accountID,
		Mode:      platform.ModeLive,
		Step:      StepCustomers,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.syncJobs[job.ID] = job
	return copyOf(job), nil
}

func (m *MemoryStore) GetSyncJob(_ context.Context, id int64) (*SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.syncJobs[id]
	if !ok {
		return nil, notFound("sync job", fmt.Sprint(id))
	}
	return copyOf(job), nil
}

func (m *MemoryStore) SaveSyncJob(_ context.Context, job *SyncJob) error {
	if !job.Step.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStep, job.Step)
	}
	if !job.Mode.Valid() {
		return fmt.Errorf("%w: %q", platform.ErrUnknownMode, job.Mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.syncJobs[job.ID]; !ok {
		return notFound("sync job", fmt.Sprint(job.ID))
	}
	job.UpdatedAt = m.now().UTC()
	m.syncJobs[job.ID] = copyOf(job)
	return nil
}
