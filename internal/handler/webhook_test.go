package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/narrahq/narra/internal/database"
	"github.com/narrahq/narra/internal/payments"
	"github.com/narrahq/narra/internal/store"
)

type fakeVerifier struct {
	event stripe.Event
	err   error
}

func (f fakeVerifier) ConstructWebhookEvent(payload []byte, sig string) (stripe.Event, error) {
	if f.err != nil {
		return stripe.Event{}, f.err
	}
	return f.event, nil
}

type fakeGifts struct {
	sessions []*payments.CompletedSession
	err      error
}

func (f *fakeGifts) CompleteSession(_ context.Context, sess *payments.CompletedSession) (*GiftResult, error) {
	f.sessions = append(f.sessions, sess)
	if f.err != nil {
		return nil, f.err
	}
	return &GiftResult{AuthorID: "author-1", GiftTiming: sess.Metadata["giftTiming"]}, nil
}

func checkoutEvent(t *testing.T, id, paymentStatus, purchaseType string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"payment_status": paymentStatus,
		"customer_email": "nieto@example.com",
		"amount_total":   22500,
		"currency":       "mxn",
		"metadata":       map[string]string{"purchaseType": purchaseType, "giftTiming": "later", "authorEmail": "abuela@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return stripe.Event{
		ID:   id,
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func eventLog(t *testing.T) *store.StripeEventStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewStripeEventStore(db)
}

func deliver(h *WebhookHandler) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/stripe-webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)
	return rec
}

func TestWebhookCompletesGiftOnce(t *testing.T) {
	e := newEnv(t)
	gifts := &fakeGifts{}
	h := NewWebhookHandler(fakeVerifier{event: checkoutEvent(t, "evt_1", "paid", PurchaseGift)}, eventLog(t), gifts, e.logger)

	for i := 0; i < 2; i++ {
		rec := deliver(h)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d: %s", i, rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["received"]; got != true {
			t.Errorf("received = %v", got)
		}
	}
	if len(gifts.sessions) != 1 {
		t.Fatalf("completions = %d, want 1", len(gifts.sessions))
	}
	if s := gifts.sessions[0]; s.ID != "cs_test_1" || !s.Paid || s.Metadata["authorEmail"] != "abuela@example.com" {
		t.Errorf("session = %+v", s)
	}
}

func TestWebhookIgnoresUnpaidAndSelf(t *testing.T) {
	tests := map[string]stripe.Event{
		"unpaid gift":   checkoutEvent(t, "evt_2", "unpaid", PurchaseGift),
		"self purchase": checkoutEvent(t, "evt_3", "paid", PurchaseSelf),
		"other event":   {ID: "evt_4", Type: "invoice.paid"},
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			gifts := &fakeGifts{}
			h := NewWebhookHandler(fakeVerifier{event: ev}, eventLog(t), gifts, e.logger)

			if rec := deliver(h); rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
			if len(gifts.sessions) != 0 {
				t.Error("gift flow should not run")
			}
		})
	}
}

func TestWebhookFailureIsRetried(t *testing.T) {
	e := newEnv(t)
	gifts := &fakeGifts{err: errors.New("supabase down")}
	h := NewWebhookHandler(fakeVerifier{event: checkoutEvent(t, "evt_5", "paid", PurchaseGift)}, eventLog(t), gifts, e.logger)

	if rec := deliver(h); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	gifts.err = nil
	if rec := deliver(h); rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rec.Code)
	}
	if len(gifts.sessions) != 2 {
		t.Errorf("completions = %d, want 2 (failed attempt released the event)", len(gifts.sessions))
	}
}

func TestWebhookBadSignature(t *testing.T) {
	e := newEnv(t)
	gifts := &fakeGifts{}
	h := NewWebhookHandler(fakeVerifier{err: errors.New("no signatures found")}, eventLog(t), gifts, e.logger)

	if rec := deliver(h); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(gifts.sessions) != 0 {
		t.Error("unsigned event should not run the gift flow")
	}
}
