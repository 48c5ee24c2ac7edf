package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Config struct {
	LiveSecretKey string        `env:"STRIPE_LIVE_SECRET_KEY"`
	TestSecretKey string        `env:"STRIPE_TEST_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookMaxAge time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// NewStripeClients builds a client for every mode with a configured key.
func NewStripeClients(cfg Config) Clients {
	clients := Clients{}
	if cfg.LiveSecretKey != "" {
		clients[ModeLive] = NewStripeClient(cfg.LiveSecretKey, nil)
	}
	if cfg.TestSecretKey != "" {
		clients[ModeTest] = NewStripeClient(cfg.TestSecretKey, nil)
	}
	return clients
}

// StripeClient implements Client on the Stripe API. Every call is made on
// behalf of the connected account.
type StripeClient struct {
	api *client.API
}

// NewStripeClient uses backends when non-nil, the default Stripe backends
// otherwise.
func NewStripeClient(secretKey string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{api: client.New(secretKey, backends)}
}

func (c *StripeClient) GetCustomer(ctx context.Context, account, id string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	scope(&params.Params, ctx, account)
	cus, err := c.api.Customers.Get(id, params)
	if err != nil {
		return nil, classify("customer", id, err)
	}
	return convertCustomer(cus)
}

func (c *StripeClient) GetProduct(ctx context.Context, account, id string) (*Product, error) {
	params := &stripe.ProductParams{}
	scope(&params.Params, ctx, account)
	prod, err := c.api.Products.Get(id, params)
	if err != nil {
		return nil, classify("product", id, err)
	}
	return convertProduct(prod)
}

func (c *StripeClient) GetPrice(ctx context.Context, account, id string) (*Price, error) {
	params := &stripe.PriceParams{}
	scope(&params.Params, ctx, account)
	pr, err := c.api.Prices.Get(id, params)
	if err != nil {
		return nil, classify("price", id, err)
	}
	return convertPrice(pr)
}

func (c *StripeClient) GetInvoice(ctx context.Context, account, id string) (*Invoice, error) {
	params := &stripe.InvoiceParams{}
	scope(&params.Params, ctx, account)
	inv, err := c.api.Invoices.Get(id, params)
	if err != nil {
		return nil, classify("invoice", id, err)
	}
	return convertInvoice(inv)
}

func (c *StripeClient) GetCharge(ctx context.Context, account, id string) (*Charge, error) {
	params := &stripe.ChargeParams{}
	scope(&params.Params, ctx, account)
	ch, err := c.api.Charges.Get(id, params)
	if err != nil {
		return nil, classify("charge", id, err)
	}
	return convertCharge(ch)
}

func (c *StripeClient) ListCustomers(ctx context.Context, account string, p PageParams) (Page[Customer], error) {
	params := &stripe.CustomerListParams{}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Customers.List(params), convertCustomer)
}

func (c *StripeClient) ListProducts(ctx context.Context, account string, p PageParams) (Page[Product], error) {
	params := &stripe.ProductListParams{}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Products.List(params), convertProduct)
}

func (c *StripeClient) ListPrices(ctx context.Context, account string, p PageParams) (Page[Price], error) {
	params := &stripe.PriceListParams{}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Prices.List(params), convertPrice)
}

func (c *StripeClient) ListSubscriptions(ctx context.Context, account string, p PageParams) (Page[Subscription], error) {
	params := &stripe.SubscriptionListParams{Status: stripe.String("all")}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Subscriptions.List(params), convertSubscription)
}

func (c *StripeClient) ListInvoices(ctx context.Context, account string, p PageParams) (Page[Invoice], error) {
	params := &stripe.InvoiceListParams{}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Invoices.List(params), convertInvoice)
}

func (c *StripeClient) ListCharges(ctx context.Context, account string, p PageParams) (Page[Charge], error) {
	params := &stripe.ChargeListParams{}
	page(&params.ListParams, ctx, account, p)
	return collect(c.api.Charges.List(params), convertCharge)
}

func (c *StripeClient) ListCustomerSubscriptions(ctx context.Context, account, customerID string) ([]Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(DefaultPageSize)
	params.SetStripeAccount(account)
	all, err := collect(c.api.Subscriptions.List(params), convertSubscription)
	return all.Items, err
}

func (c *StripeClient) ListSubscriptionItems(ctx context.Context, account, subscriptionID string) ([]SubscriptionItem, error) {
	params := &stripe.SubscriptionItemListParams{Subscription: stripe.String(subscriptionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(DefaultPageSize)
	params.SetStripeAccount(account)
	all, err := collect(c.api.SubscriptionItems.List(params), convertSubscriptionItem)
	return all.Items, err
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func ParseWebhook(payload []byte, signature, secret string, tolerance time.Duration) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrBadSignature, err)
	}
	if ev.Data == nil {
		return Event{}, fmt.Errorf("%w: %s has no data", ErrBadEvent, ev.ID)
	}
	return Event{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Account:  ev.Account,
		Livemode: ev.Livemode,
		Object:   ev.Data.Raw,
	}, nil
}

func scope(p *stripe.Params, ctx context.Context, account string) {
	p.Context = ctx
	p.SetStripeAccount(account)
}

func page(lp *stripe.ListParams, ctx context.Context, account string, p PageParams) {
	lp.Context = ctx
	lp.Single = true
	lp.Limit = stripe.Int64(int64(p.limit()))
	if p.StartingAfter != "" {
		lp.StartingAfter = stripe.String(p.StartingAfter)
	}
	lp.SetStripeAccount(account)
}

type stripeIter interface {
	Next() bool
	Current() interface{}
	Err() error
	Meta() *stripe.ListMeta
}

func collect[S any, T any](it stripeIter, convert func(*S) (*T, error)) (Page[T], error) {
	var out Page[T]
	for it.Next() {
		src, ok := it.Current().(*S)
		if !ok {
			continue
		}
		v, err := convert(src)
		if err != nil {
			return Page[T]{}, err
		}
		out.Items = append(out.Items, *v)
	}
	if err := it.Err(); err != nil {
		return Page[T]{}, classify("list", "", err)
	}
	if meta := it.Meta(); meta != nil {
		out.HasMore = meta.HasMore
	}
	return out, nil
}

func classify(kind, id string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("platform: %s %s: %w", kind, id, err)
}

func raw(v any) (Raw, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("platform: encode %T: %w", v, err)
	}
	return b, nil
}

func convertCustomer(c *stripe.Customer) (*Customer, error) {
	r, err := raw(c)
	if err != nil {
		return nil, err
	}
	return &Customer{ID: c.ID, Raw: r}, nil
}

func convertProduct(p *stripe.Product) (*Product, error) {
	r, err := raw(p)
	if err != nil {
		return nil, err
	}
	return &Product{ID: p.ID, Raw: r}, nil
}

func convertPrice(p *stripe.Price) (*Price, error) {
	r, err := raw(p)
	if err != nil {
		return nil, err
	}
	out := &Price{ID: p.ID, Currency: string(p.Currency), Raw: r}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.BillingScheme != stripe.PriceBillingSchemeTiered {
		amount := p.UnitAmount
		out.UnitAmount = &amount
	}
	return out, nil
}

func convertSubscription(s *stripe.Subscription) (*Subscription, error) {
	r, err := raw(s)
	if err != nil {
		return nil, err
	}
	out := &Subscription{ID: s.ID, Status: string(s.Status), Raw: r}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out, nil
}

func convertSubscriptionItem(si *stripe.SubscriptionItem) (*SubscriptionItem, error) {
	r, err := raw(si)
	if err != nil {
		return nil, err
	}
	out := &SubscriptionItem{ID: si.ID, SubscriptionID: si.Subscription, Raw: r}
	if si.Price != nil {
		out.PriceID = si.Price.ID
	}
	return out, nil
}

func convertInvoice(inv *stripe.Invoice) (*Invoice, error) {
	r, err := raw(inv)
	if err != nil {
		return nil, err
	}
	out := &Invoice{ID: inv.ID, Status: string(inv.Status), Total: inv.Total, Raw: r}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	return out, nil
}

func convertCharge(ch *stripe.Charge) (*Charge, error) {
	r, err := raw(ch)
	if err != nil {
		return nil, err
	}
	out := &Charge{
		ID:      ch.ID,
		Amount:  ch.Amount,
		Status:  string(ch.Status),
		Created: time.Unix(ch.Created, 0).UTC(),
		Raw:     r,
	}
	if ch.Invoice != nil {
		out.InvoiceID = ch.Invoice.ID
	}
	return out, nil
}
