package payments

import (
	"testing"

	stripe "github.com/stripe/stripe-go/v82"
)

func TestApplyCoupon(t *testing.T) {
	tests := []struct {
		name        string
		price       Price
		coupon      *Coupon
		wantPrice   int64
		wantPercent float64
		wantActive  bool
	}{
		{"percent off", Price{UnitAmount: 30000, Currency: "mxn"}, &Coupon{PercentOff: 25, Valid: true}, 22500, 25, true},
		{"amount off", Price{UnitAmount: 30000}, &Coupon{AmountOff: 6000, Valid: true}, 24000, 20, true},
		{"amount off exceeds price", Price{UnitAmount: 1000}, &Coupon{AmountOff: 5000, Valid: true}, 0, 100, true},
		{"no coupon", Price{UnitAmount: 30000}, nil, 30000, 0, false},
		{"invalid coupon", Price{UnitAmount: 30000}, &Coupon{PercentOff: 50, Valid: false}, 30000, 0, false},
		{"rounding", Price{UnitAmount: 999}, &Coupon{PercentOff: 15, Valid: true}, 849, 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ApplyCoupon(tt.price, tt.coupon)
			if q.OriginalPrice != tt.price.UnitAmount {
				t.Errorf("OriginalPrice = %d, want %d", q.OriginalPrice, tt.price.UnitAmount)
			}
			if q.DiscountedPrice != tt.wantPrice {
				t.Errorf("DiscountedPrice = %d, want %d", q.DiscountedPrice, tt.wantPrice)
			}
			if q.DiscountPercentage != tt.wantPercent {
				t.Errorf("DiscountPercentage = %v, want %v", q.DiscountPercentage, tt.wantPercent)
			}
			if q.CouponActive != tt.wantActive {
				t.Errorf("CouponActive = %v, want %v", q.CouponActive, tt.wantActive)
			}
		})
	}
}

func TestCheckoutParams(t *testing.T) {
	c := &Client{cfg: Config{
		PriceID:    "price_123",
		CouponID:   "launch25",
		SuccessURL: "https://narra.test/gracias",
		CancelURL:  "https://narra.test/precios",
	}}

	params := c.checkoutParams(CheckoutParams{
		CustomerEmail: "buyer@example.com",
		Metadata:      map[string]string{"purchaseType": "gift"},
	})

	if got := stripe.StringValue(params.Mode); got != "payment" {
		t.Errorf("Mode = %q, want payment", got)
	}
	if got := stripe.StringValue(params.CustomerEmail); got != "buyer@example.com" {
		t.Errorf("CustomerEmail = %q", got)
	}
	if len(params.LineItems) != 1 || stripe.StringValue(params.LineItems[0].Price) != "price_123" {
		t.Errorf("LineItems = %+v", params.LineItems)
	}
	if len(params.Discounts) != 1 || stripe.StringValue(params.Discounts[0].Coupon) != "launch25" {
		t.Errorf("Discounts = %+v", params.Discounts)
	}
	if params.AllowPromotionCodes != nil {
		t.Error("promotion codes must not be combined with a coupon")
	}
	if params.Metadata["purchaseType"] != "gift" {
		t.Errorf("Metadata = %v", params.Metadata)
	}
	if got := stripe.StringValue(params.SuccessURL); got != "https://narra.test/gracias" {
		t.Errorf("SuccessURL = %q", got)
	}
}

func TestCheckoutParamsWithoutCoupon(t *testing.T) {
	c := &Client{cfg: Config{PriceID: "price_123"}}
	params := c.checkoutParams(CheckoutParams{SuccessURL: "https://x/ok", CancelURL: "https://x/no"})

	if len(params.Discounts) != 0 {
		t.Errorf("Discounts = %+v, want none", params.Discounts)
	}
	if !stripe.BoolValue(params.AllowPromotionCodes) {
		t.Error("expected promotion codes allowed without a coupon")
	}
	if got := stripe.StringValue(params.CancelURL); got != "https://x/no" {
		t.Errorf("CancelURL = %q", got)
	}
}

func TestSessionFromEvent(t *testing.T) {
	event := stripe.Event{Data: &stripe.EventData{Raw: []byte(`{
		"id": "cs_test_1",
		"object": "checkout.session",
		"payment_status": "paid",
		"amount_total": 22500,
		"currency": "mxn",
		"customer_details": {"email": "buyer@example.com"},
		"metadata": {"purchaseType": "gift", "authorEmail": "abuela@example.com"}
	}`)}}

	sess, err := SessionFromEvent(event)
	if err != nil {
		t.Fatalf("session from event: %v", err)
	}
	if !sess.Paid {
		t.Error("expected paid session")
	}
	if sess.CustomerEmail != "buyer@example.com" {
		t.Errorf("CustomerEmail = %q", sess.CustomerEmail)
	}
	if sess.Metadata["authorEmail"] != "abuela@example.com" {
		t.Errorf("Metadata = %v", sess.Metadata)
	}
}
