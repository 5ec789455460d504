package payments

import (
	"encoding/json"
	"fmt"
	"math"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	CouponID      string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CheckoutParams describes a one-time Narra purchase.
type CheckoutParams struct {
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
	SuccessURL        string
	CancelURL         string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession creates a hosted checkout for the configured price,
// applying the configured coupon when there is one.
func (c *Client) CreateCheckoutSession(p CheckoutParams) (*CheckoutSession, error) {
	sess, err := checksession.New(c.checkoutParams(p))
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *Client) checkoutParams(p CheckoutParams) *stripe.CheckoutSessionParams {
	successURL := p.SuccessURL
	if successURL == "" {
		successURL = c.cfg.SuccessURL
	}
	cancelURL := p.CancelURL
	if cancelURL == "" {
		cancelURL = c.cfg.CancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ClientReferenceID)
	}
	// Stripe rejects promotion codes together with explicit discounts.
	if c.cfg.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(c.cfg.CouponID)},
		}
	} else {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// CompletedSession is the subset of a checkout session read after payment.
type CompletedSession struct {
	ID            string
	Paid          bool
	CustomerEmail string
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}

// GetCheckoutSession retrieves a checkout session by ID.
func (c *Client) GetCheckoutSession(id string) (*CompletedSession, error) {
	sess, err := checksession.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return completedSession(sess), nil
}

func completedSession(sess *stripe.CheckoutSession) *CompletedSession {
	out := &CompletedSession{
		ID:            sess.ID,
		Paid:          sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		CustomerEmail: sess.CustomerEmail,
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Metadata:      sess.Metadata,
	}
	if out.CustomerEmail == "" && sess.CustomerDetails != nil {
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	return out
}

type Price struct {
	UnitAmount int64
	Currency   string
}

// Price retrieves the configured price.
func (c *Client) Price() (*Price, error) {
	p, err := price.Get(c.cfg.PriceID, nil)
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	return &Price{UnitAmount: p.UnitAmount, Currency: string(p.Currency)}, nil
}

type Coupon struct {
	ID         string
	PercentOff float64
	AmountOff  int64
	Valid      bool
}

// Coupon retrieves the configured coupon. It returns nil, nil when no coupon
// is configured.
func (c *Client) Coupon() (*Coupon, error) {
	if c.cfg.CouponID == "" {
		return nil, nil
	}
	cp, err := coupon.Get(c.cfg.CouponID, nil)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return &Coupon{ID: cp.ID, PercentOff: cp.PercentOff, AmountOff: cp.AmountOff, Valid: cp.Valid}, nil
}

// Quote is a price with any coupon applied. Amounts are in the smallest
// currency unit.
type Quote struct {
	OriginalPrice      int64   `json:"originalPrice"`
	DiscountedPrice    int64   `json:"discountedPrice"`
	DiscountPercentage float64 `json:"discountPercentage"`
	Currency           string  `json:"currency"`
	CouponActive       bool    `json:"couponActive"`
}

// ApplyCoupon computes the discounted price. An absent or invalid coupon
// leaves the price unchanged.
func ApplyCoupon(p Price, cp *Coupon) Quote {
	q := Quote{
		OriginalPrice:   p.UnitAmount,
		DiscountedPrice: p.UnitAmount,
		Currency:        p.Currency,
	}
	if cp == nil || !cp.Valid || p.UnitAmount <= 0 {
		return q
	}

	switch {
	case cp.PercentOff > 0:
		off := int64(math.Round(float64(p.UnitAmount) * cp.PercentOff / 100))
		q.DiscountedPrice = p.UnitAmount - off
		q.DiscountPercentage = cp.PercentOff
	case cp.AmountOff > 0:
		q.DiscountedPrice = p.UnitAmount - cp.AmountOff
		q.DiscountPercentage = math.Round(float64(cp.AmountOff) * 100 / float64(p.UnitAmount))
	default:
		return q
	}
	if q.DiscountedPrice < 0 {
		q.DiscountedPrice = 0
		q.DiscountPercentage = 100
	}
	q.CouponActive = true
	return q
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}

// SessionFromEvent decodes the checkout session carried by a
// checkout.session.completed event.
func SessionFromEvent(event stripe.Event) (*CompletedSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	return completedSession(&sess), nil
}
