package external

import (
	"context"
	"fmt"
	"strings"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// SessionOptions describes one checkout session to collect a single charge.
// Reference is the ledger movement id; it comes back on the gateway webhook.
type SessionOptions struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
	SuccessURL  string
	CancelURL   string
}

// Session is the gateway-side checkout the customer is redirected to
type Session struct {
	ID  string
	URL string
}

// CheckoutClient creates gateway checkout sessions. The orchestrator only ever
// calls this in live billing mode.
type CheckoutClient interface {
	CreateSession(ctx context.Context, opt SessionOptions) (*Session, error)
}

// StripeCheckout implements CheckoutClient over the Stripe Checkout API
type StripeCheckout struct {
	api  *client.API
	name string
}

var _ CheckoutClient = &StripeCheckout{}

// NewStripeCheckout returns a checkout client bound to the given secret key
func NewStripeCheckout(key string) *StripeCheckout {
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeCheckout{
		api:  sc,
		name: "stripe",
	}
}

// Gateway returns the name recorded on movements settled through this client
func (s *StripeCheckout) Gateway() string {
	return s.name
}

// CreateSession creates a one-off payment checkout and returns its redirect URL
func (s *StripeCheckout) CreateSession(ctx context.Context, opt SessionOptions) (*Session, error) {
	if opt.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("checkout amount must be positive, got %s", opt.Amount)
	}
	if len(opt.Reference) == 0 {
		return nil, fmt.Errorf("checkout reference is required")
	}

	cents := opt.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(opt.Reference),
		SuccessURL:        stripe.String(opt.SuccessURL),
		CancelURL:         stripe.String(opt.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(opt.Currency)),
					UnitAmount: stripe.Int64(cents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(opt.Description),
					},
				},
			},
		},
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create checkout session on Stripe")
	}

	return &Session{
		ID:  sess.ID,
		URL: sess.URL,
	}, nil
}
