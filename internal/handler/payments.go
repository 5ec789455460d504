package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/payments"
	"github.com/narrahq/narra/internal/respond"
)

// Payments is the part of the Stripe wrapper the handlers use.
type Payments interface {
	CreateCheckoutSession(p payments.CheckoutParams) (*payments.CheckoutSession, error)
	GetCheckoutSession(id string) (*payments.CompletedSession, error)
	Price() (*payments.Price, error)
	Coupon() (*payments.Coupon, error)
}

// Purchase kinds and gift delivery timings.
const (
	PurchaseSelf = "self"
	PurchaseGift = "gift"
	GiftNow      = "now"
	GiftLater    = "later"
)

var checkoutSchema = decode.MustCompile("checkout.json", `{
	"type": "object",
	"required": ["purchaseType", "authorEmail"],
	"properties": {
		"purchaseType": {"enum": ["self", "gift"]},
		"giftTiming": {"enum": ["now", "later", ""]},
		"authorEmail": {"type": "string", "minLength": 3, "maxLength": 320, "pattern": "^\\s*[^@\\s]+@[^@\\s]+\\s*$"},
		"authorName": {"type": "string", "maxLength": 200},
		"buyerEmail": {"type": "string", "maxLength": 320},
		"buyerName": {"type": "string", "maxLength": 200},
		"giftMessage": {"type": "string", "maxLength": 450},
		"successUrl": {"type": "string", "maxLength": 2048},
		"cancelUrl": {"type": "string", "maxLength": 2048}
	},
	"if": {"properties": {"purchaseType": {"const": "gift"}}},
	"then": {
		"required": ["buyerEmail"],
		"properties": {"buyerEmail": {"pattern": "^\\s*[^@\\s]+@[^@\\s]+\\s*$"}}
	}
}`)

type PaymentsHandler struct {
	base
	payments Payments
}

func NewPaymentsHandler(cfg config.Config, p Payments, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{base: base{cfg: cfg, logger: logger}, payments: p}
}

type checkoutRequest struct {
	PurchaseType string `json:"purchaseType"`
	GiftTiming   string `json:"giftTiming"`
	AuthorEmail  string `json:"authorEmail"`
	AuthorName   string `json:"authorName"`
	BuyerEmail   string `json:"buyerEmail"`
	BuyerName    string `json:"buyerName"`
	GiftMessage  string `json:"giftMessage"`
	SuccessURL   string `json:"successUrl"`
	CancelURL    string `json:"cancelUrl"`
}

// checkoutParams builds the Stripe session parameters. Gifts are billed to
// the buyer whatever the delivery timing; self purchases to the author.
func (h *PaymentsHandler) checkoutParams(req checkoutRequest) payments.CheckoutParams {
	authorEmail := normalizeEmail(req.AuthorEmail)
	buyerEmail := normalizeEmail(req.BuyerEmail)

	timing := req.GiftTiming
	if req.PurchaseType == PurchaseGift && timing == "" {
		timing = GiftNow
	}

	customer := authorEmail
	if req.PurchaseType == PurchaseGift {
		customer = buyerEmail
	}

	success := req.SuccessURL
	if success == "" {
		success = h.cfg.BaseURL + "/app/compra-exitosa?session_id={CHECKOUT_SESSION_ID}"
	}
	cancel := req.CancelURL
	if cancel == "" {
		cancel = h.cfg.BaseURL + "/app/comprar"
	}

	return payments.CheckoutParams{
		CustomerEmail: customer,
		SuccessURL:    success,
		CancelURL:     cancel,
		Metadata: map[string]string{
			"purchaseType": req.PurchaseType,
			"giftTiming":   timing,
			"authorEmail":  authorEmail,
			"authorName":   strings.TrimSpace(req.AuthorName),
			"buyerEmail":   buyerEmail,
			"buyerName":    strings.TrimSpace(req.BuyerName),
			"giftMessage":  strings.TrimSpace(req.GiftMessage),
		},
	}
}

// CreateCheckout starts a Stripe checkout for a self or gift purchase.
func (h *PaymentsHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.StripeSecretKey, config.StripePriceID, config.AppBaseURL) {
		return
	}
	var req checkoutRequest
	if err := checkoutSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	sess, err := h.payments.CreateCheckoutSession(h.checkoutParams(req))
	if err != nil {
		h.fail(w, r, upstream("Failed to create checkout session", err))
		return
	}
	h.logger.Info("checkout session created", "session", sess.ID, "purchase_type", req.PurchaseType)
	respond.OK(w, map[string]any{"url": sess.URL, "sessionId": sess.ID})
}

// Price reports the current price with the configured coupon applied.
func (h *PaymentsHandler) Price(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.StripeSecretKey, config.StripePriceID) {
		return
	}
	price, err := h.payments.Price()
	if err != nil {
		h.fail(w, r, upstream("Failed to fetch price", err))
		return
	}
	coupon, err := h.payments.Coupon()
	if err != nil {
		// A broken coupon should not hide the price.
		h.logger.Warn("coupon lookup failed", "error", err)
		coupon = nil
	}

	q := payments.ApplyCoupon(*price, coupon)
	respond.OK(w, map[string]any{
		"originalPrice":      q.OriginalPrice,
		"discountedPrice":    q.DiscountedPrice,
		"discountPercentage": q.DiscountPercentage,
		"currency":           q.Currency,
		"couponActive":       q.CouponActive,
	})
}
