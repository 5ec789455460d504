package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/narrahq/narra/internal/payments"
	"github.com/narrahq/narra/internal/respond"
)

const maxWebhookBody = 65536

// EventVerifier checks a Stripe webhook signature and parses the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// EventLog deduplicates webhook deliveries.
type EventLog interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// GiftCompleter runs the post-payment gift flow.
type GiftCompleter interface {
	CompleteSession(ctx context.Context, sess *payments.CompletedSession) (*GiftResult, error)
}

// WebhookHandler completes gift purchases from Stripe events, so a buyer who
// closes the tab before the success page still gets their emails.
type WebhookHandler struct {
	verifier EventVerifier
	events   EventLog
	gifts    GiftCompleter
	logger   *slog.Logger
}

func NewWebhookHandler(v EventVerifier, events EventLog, gifts GiftCompleter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: v, events: events, gifts: gifts, logger: logger}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.Error(w, respond.BadRequest("read body"))
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		respond.Error(w, respond.BadRequest("invalid signature"))
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if err := h.handleCheckoutCompleted(r.Context(), event); err != nil {
			h.logger.Error("webhook: checkout completed", "event", event.ID, "error", err)
			// A non-2xx makes Stripe retry the delivery.
			respond.Error(w, err)
			return
		}
	default:
		h.logger.Debug("webhook: ignored event", "type", event.Type)
	}

	respond.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	sess, err := payments.SessionFromEvent(event)
	if err != nil {
		return err
	}
	if !sess.Paid || sess.Metadata["purchaseType"] != PurchaseGift {
		return nil
	}

	first, err := h.events.Claim(ctx, event.ID, string(event.Type))
	if err != nil {
		return err
	}
	if !first {
		h.logger.Info("webhook: duplicate delivery", "event", event.ID)
		return nil
	}

	res, err := h.gifts.CompleteSession(ctx, sess)
	if err != nil {
		if rerr := h.events.Release(ctx, event.ID); rerr != nil {
			h.logger.Error("webhook: release event", "event", event.ID, "error", rerr)
		}
		return err
	}
	h.logger.Info("webhook: gift completed", "event", event.ID, "author", res.AuthorID, "duplicate", res.Duplicate)
	return nil
}
