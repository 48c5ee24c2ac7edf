package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlekit/pkg/pg"
	"github.com/dmitrymomot/entitlekit/pkg/platform"
)

// PostgresStore implements Store on the schema in internal/db/migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func classify(err error, kind, id string) error {
	if pg.IsNotFoundError(err) {
		return notFound(kind, id)
	}
	return fmt.Errorf("mirror: %s %s: %w", kind, id, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const accountColumns = `id, stripe_id, COALESCE(name, ''), stripe_json, initial_sync_started_at,
	initial_sync_complete, billing_stripe_customer_id, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		a       Account
		billing *string
	)
	if err := row.Scan(&a.ID, &a.StripeID, &a.Name, &a.Raw, &a.InitialSyncStartedAt,
		&a.InitialSyncComplete, &billing, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.BillingCustomerID = deref(billing)
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM stripe_accounts WHERE stripe_id = $1`, accountID))
	if err != nil {
		return nil, classify(err, "account", accountID)
	}
	return a, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, accountID, name string, raw json.RawMessage) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		INSERT INTO stripe_accounts (stripe_id, name, stripe_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (stripe_id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), stripe_accounts.name),
			stripe_json = COALESCE(EXCLUDED.stripe_json, stripe_accounts.stripe_json)
		RETURNING `+accountColumns, accountID, name, raw))
	if err != nil {
		return nil, classify(err, "account", accountID)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM stripe_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("mirror: list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("mirror: list accounts: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkInitialSyncStarted(ctx context.Context, accountID string, at time.Time) error {
	return s.execOne(ctx, "account", accountID,
		`UPDATE stripe_accounts SET initial_sync_started_at = $2 WHERE stripe_id = $1`, accountID, at)
}

func (s *PostgresStore) MarkInitialSyncComplete(ctx context.Context, accountID string) error {
	return s.execOne(ctx, "account", accountID,
		`UPDATE stripe_accounts SET initial_sync_complete = TRUE WHERE stripe_id = $1`, accountID)
}

// execOne runs a statement that must affect exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, kind, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(err, kind, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

const userColumns = `id, stripe_account_id, stripe_id, COALESCE(email, ''), COALESCE(name, ''), created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.AccountID, &u.StripeID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, accountID, userID string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM stripe_users WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, userID))
	if err != nil {
		return nil, classify(err, "user", userID)
	}
	return u, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, accountID, userID, email, name string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO stripe_users (stripe_account_id, stripe_id, email, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name
		RETURNING `+userColumns, accountID, userID, nullable(email), nullable(name)))
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return nil, notFound("account", accountID)
		}
		return nil, classify(err, "user", userID)
	}
	return u, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, accountID, id string) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_json
		FROM stripe_customers WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id).Scan(&c.ID, &c.AccountID, &c.StripeID, &c.Raw)
	if err != nil {
		return nil, classify(err, "customer", id)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, accountID, id string, raw json.RawMessage) (*Customer, error) {
	c := Customer{AccountID: accountID, StripeID: id, Raw: raw}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_customers (stripe_account_id, stripe_id, stripe_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_json = EXCLUDED.stripe_json
		RETURNING id`, accountID, id, raw).Scan(&c.ID)
	if err != nil {
		return nil, classify(err, "customer", id)
	}
	return &c, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context, accountID string) ([]Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_json
		FROM stripe_customers WHERE stripe_account_id = $1 ORDER BY stripe_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list customers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Customer, error) {
		var c Customer
		err := row.Scan(&c.ID, &c.AccountID, &c.StripeID, &c.Raw)
		return c, err
	})
}

func (s *PostgresStore) GetProduct(ctx context.Context, accountID, id string) (*Product, error) {
	var p Product
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_json
		FROM stripe_products WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id).Scan(&p.ID, &p.AccountID, &p.StripeID, &p.Raw)
	if err != nil {
		return nil, classify(err, "product", id)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, accountID, id string, raw json.RawMessage) (*Product, error) {
	p := Product{AccountID: accountID, StripeID: id, Raw: raw}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_products (stripe_account_id, stripe_id, stripe_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_json = EXCLUDED.stripe_json
		RETURNING id`, accountID, id, raw).Scan(&p.ID)
	if err != nil {
		return nil, classify(err, "product", id)
	}
	return &p, nil
}

func (s *PostgresStore) GetProducts(ctx context.Context, accountID string, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_json
		FROM stripe_products WHERE stripe_account_id = $1 AND stripe_id = ANY($2)`, accountID, ids)
	if err != nil {
		return nil, fmt.Errorf("mirror: get products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var p Product
		err := row.Scan(&p.ID, &p.AccountID, &p.StripeID, &p.Raw)
		return p, err
	})
}

func (s *PostgresStore) GetPrice(ctx context.Context, accountID, id string) (*Price, error) {
	var (
		p        Price
		currency *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_product_id, unit_amount, currency, stripe_json
		FROM stripe_prices WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id).Scan(&p.ID, &p.AccountID, &p.StripeID, &p.ProductID, &p.UnitAmount, &currency, &p.Raw)
	if err != nil {
		return nil, classify(err, "price", id)
	}
	p.Currency = deref(currency)
	return &p, nil
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, p Price) (*Price, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_prices (stripe_account_id, stripe_id, stripe_product_id, unit_amount, currency, stripe_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_product_id = EXCLUDED.stripe_product_id,
			unit_amount = EXCLUDED.unit_amount,
			currency = EXCLUDED.currency,
			stripe_json = EXCLUDED.stripe_json
		RETURNING id`,
		p.AccountID, p.StripeID, p.ProductID, p.UnitAmount, nullable(p.Currency), p.Raw).Scan(&p.ID)
	if err != nil {
		return nil, classify(err, "price", p.StripeID)
	}
	return &p, nil
}

const subscriptionColumns = `id, stripe_account_id, stripe_id, stripe_customer_id, status, stripe_json`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.StripeID, &sub.CustomerID, &sub.Status, &sub.Raw)
	return sub, err
}

func (s *PostgresStore) GetSubscription(ctx context.Context, accountID, id string) (*Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM stripe_subscriptions WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id))
	if err != nil {
		return nil, classify(err, "subscription", id)
	}
	return &sub, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub Subscription) (*Subscription, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_subscriptions (stripe_account_id, stripe_id, stripe_customer_id, status, stripe_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			stripe_json = EXCLUDED.stripe_json
		RETURNING id`,
		sub.AccountID, sub.StripeID, sub.CustomerID, sub.Status, sub.Raw).Scan(&sub.ID)
	if err != nil {
		return nil, classify(err, "subscription", sub.StripeID)
	}
	return &sub, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, accountID, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM stripe_subscriptions WHERE stripe_account_id = $1 AND stripe_id = $2`, accountID, id)
	if err != nil {
		return classify(err, "subscription", id)
	}
	return nil
}

func (s *PostgresStore) ListCustomerSubscriptions(ctx context.Context, accountID, customerID string, excluded ...string) ([]Subscription, error) {
	if excluded == nil {
		excluded = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM stripe_subscriptions
		WHERE stripe_account_id = $1 AND stripe_customer_id = $2 AND NOT (status = ANY($3))
		ORDER BY stripe_id`, accountID, customerID, excluded)
	if err != nil {
		return nil, fmt.Errorf("mirror: list subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		return scanSubscription(row)
	})
}

func (s *PostgresStore) UpsertSubscriptionItem(ctx context.Context, it SubscriptionItem) (*SubscriptionItem, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_subscription_items (stripe_account_id, stripe_id, stripe_price_id, stripe_subscription_id, stripe_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_price_id = EXCLUDED.stripe_price_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_json = EXCLUDED.stripe_json
		RETURNING id`,
		it.AccountID, it.StripeID, it.PriceID, it.SubscriptionID, it.Raw).Scan(&it.ID)
	if err != nil {
		return nil, classify(err, "subscription item", it.StripeID)
	}
	return &it, nil
}

func (s *PostgresStore) ListCustomerItems(ctx context.Context, accountID, customerID string) ([]CustomerItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.stripe_id, i.stripe_price_id, COALESCE(p.stripe_product_id, ''), i.stripe_subscription_id, s.status
		FROM stripe_subscription_items i
		JOIN stripe_subscriptions s
			ON s.stripe_account_id = i.stripe_account_id AND s.stripe_id = i.stripe_subscription_id
		LEFT JOIN stripe_prices p
			ON p.stripe_account_id = i.stripe_account_id AND p.stripe_id = i.stripe_price_id
		WHERE i.stripe_account_id = $1 AND s.stripe_customer_id = $2
		ORDER BY i.stripe_id`, accountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("mirror: list customer items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CustomerItem, error) {
		var ci CustomerItem
		err := row.Scan(&ci.ItemID, &ci.PriceID, &ci.ProductID, &ci.SubscriptionID, &ci.Status)
		return ci, err
	})
}

func (s *PostgresStore) GetInvoice(ctx context.Context, accountID, id string) (*Invoice, error) {
	var (
		inv Invoice
		sub *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_customer_id, stripe_subscription_id, status, total, stripe_json
		FROM stripe_invoices WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id).Scan(&inv.ID, &inv.AccountID, &inv.StripeID, &inv.CustomerID, &sub, &inv.Status, &inv.Total, &inv.Raw)
	if err != nil {
		return nil, classify(err, "invoice", id)
	}
	inv.SubscriptionID = deref(sub)
	return &inv, nil
}

func (s *PostgresStore) UpsertInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_invoices (stripe_account_id, stripe_id, stripe_customer_id, stripe_subscription_id, status, total, stripe_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			stripe_json = EXCLUDED.stripe_json
		RETURNING id`,
		inv.AccountID, inv.StripeID, inv.CustomerID, nullable(inv.SubscriptionID), inv.Status, inv.Total, inv.Raw).Scan(&inv.ID)
	if err != nil {
		return nil, classify(err, "invoice", inv.StripeID)
	}
	return &inv, nil
}

func (s *PostgresStore) GetCharge(ctx context.Context, accountID, id string) (*Charge, error) {
	var (
		ch      Charge
		invoice *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, stripe_account_id, stripe_id, stripe_invoice_id, amount, status, mode, stripe_created, stripe_json
		FROM stripe_charges WHERE stripe_account_id = $1 AND stripe_id = $2`,
		accountID, id).Scan(&ch.ID, &ch.AccountID, &ch.StripeID, &invoice, &ch.Amount, &ch.Status, &ch.Mode, &ch.Created, &ch.Raw)
	if err != nil {
		return nil, classify(err, "charge", id)
	}
	ch.InvoiceID = deref(invoice)
	return &ch, nil
}

func (s *PostgresStore) UpsertCharge(ctx context.Context, ch Charge) (*Charge, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stripe_charges (stripe_account_id, stripe_id, stripe_invoice_id, amount, status, mode, stripe_created, stripe_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_account_id, stripe_id) DO UPDATE
		SET stripe_invoice_id = EXCLUDED.stripe_invoice_id,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			mode = EXCLUDED.mode,
			stripe_created = EXCLUDED.stripe_created,
			stripe_json = EXCLUDED.stripe_json
		RETURNING id`,
		ch.AccountID, ch.StripeID, nullable(ch.InvoiceID), ch.Amount, ch.Status, string(ch.Mode), ch.Created, ch.Raw).Scan(&ch.ID)
	if err != nil {
		return nil, classify(err, "charge", ch.StripeID)
	}
	return &ch, nil
}

func (s *PostgresStore) ChargeTotal(ctx context.Context, accountID string, mode platform.Mode, since time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM stripe_charges
		WHERE stripe_account_id = $1 AND mode = $2 AND status = 'succeeded' AND stripe_created >= $3`,
		accountID, string(mode), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("mirror: charge total: %w", err)
	}
	return total, nil
}
