package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/narrahq/narra/internal/auth"
	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/email"
	"github.com/narrahq/narra/internal/payments"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

var giftSecrets = []config.Secret{
	config.SupabaseURL, config.SupabaseServiceRoleKey,
	config.ResendAPIKey, config.ResendFrom, config.AppBaseURL,
}

var (
	sessionSchema = decode.MustCompile("gift-complete.json", `{
		"type": "object",
		"required": ["sessionId"],
		"properties": {"sessionId": {"type": "string", "minLength": 1, "maxLength": 255}}
	}`)
	subscriberSchema = decode.MustCompile("subscriber.json", `{
		"type": "object",
		"required": ["email"],
		"properties": {
			"email": {"type": "string", "minLength": 3, "maxLength": 320, "pattern": "^\\s*[^@\\s]+@[^@\\s]+\\s*$"},
			"name": {"type": "string", "maxLength": 200}
		}
	}`)
	removeSubscriberSchema = decode.MustCompile("remove-subscriber.json", `{
		"type": "object",
		"required": ["subscriberId"],
		"properties": {"subscriberId": {"type": "string", "minLength": 1}}
	}`)
	newEmailSchema = decode.MustCompile("new-email.json", `{
		"type": "object",
		"required": ["newEmail"],
		"properties": {
			"newEmail": {"type": "string", "minLength": 3, "maxLength": 320, "pattern": "^\\s*[^@\\s]+@[^@\\s]+\\s*$"}
		}
	}`)
)

// ArchiveStore keeps a generated export and returns a download URL.
type ArchiveStore interface {
	Save(ctx context.Context, key, filename string, data []byte) (string, error)
}

type GiftHandler struct {
	base
	supabase *supabase.Client
	email    *email.Client
	payments Payments
	archives ArchiveStore
}

// NewGiftHandler builds the gift handler. archives may be nil, in which case
// exports are streamed directly.
func NewGiftHandler(cfg config.Config, sb *supabase.Client, ec *email.Client, p Payments, archives ArchiveStore, logger *slog.Logger) *GiftHandler {
	return &GiftHandler{
		base:     base{cfg: cfg, logger: logger},
		supabase: sb,
		email:    ec,
		payments: p,
		archives: archives,
	}
}

func (h *GiftHandler) manageURL(token string) string {
	return h.cfg.BaseURL + "/app/regalo/gestionar?token=" + url.QueryEscape(token)
}

// GiftResult describes a completed gift purchase.
type GiftResult struct {
	AuthorID   string
	GiftTiming string
	Duplicate  bool
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Complete finalizes a paid gift checkout: it records the purchase, makes
// sure the author has an account, issues the buyer's management token and
// sends the emails.
func (h *GiftHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, append(giftSecrets, config.StripeSecretKey)...) {
		return
	}
	var req sessionRequest
	if err := sessionSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	sess, err := h.payments.GetCheckoutSession(req.SessionID)
	if err != nil {
		h.fail(w, r, upstream("Failed to retrieve checkout session", err))
		return
	}
	if !sess.Paid {
		respond.Error(w, respond.BadRequest("Payment not completed"))
		return
	}
	if sess.Metadata["purchaseType"] != PurchaseGift {
		respond.Error(w, respond.BadRequest("Checkout session is not a gift purchase"))
		return
	}

	res, err := h.CompleteSession(r.Context(), sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, map[string]any{
		"authorId":   res.AuthorID,
		"giftTiming": res.GiftTiming,
		"duplicate":  res.Duplicate,
	})
}

// CompleteSession runs the post-payment flow for a paid session. The purchase
// row stays pending until every email has gone out, so a failed attempt is
// resumed by the next one. A completed session is reported as a duplicate and
// sends nothing.
func (h *GiftHandler) CompleteSession(ctx context.Context, sess *payments.CompletedSession) (*GiftResult, error) {
	md := sess.Metadata
	authorEmail := normalizeEmail(md["authorEmail"])
	buyerEmail := normalizeEmail(md["buyerEmail"])
	if buyerEmail == "" {
		buyerEmail = normalizeEmail(sess.CustomerEmail)
	}
	timing := md["giftTiming"]
	if timing == "" {
		timing = GiftNow
	}
	if authorEmail == "" {
		return nil, respond.BadRequest("Checkout session has no author email")
	}

	purchase, err := h.purchase(ctx, sess, authorEmail, buyerEmail, timing)
	if err != nil {
		return nil, err
	}
	if purchase.Status == purchaseCompleted {
		h.logger.Info("gift already completed", "session", sess.ID)
		user, err := h.supabase.FindUserByEmail(ctx, authorEmail)
		if err != nil {
			return nil, upstream("Failed to look up author", err)
		}
		res := &GiftResult{GiftTiming: timing, Duplicate: true}
		if user != nil {
			res.AuthorID = user.ID
		}
		return res, nil
	}

	user, err := h.ensureAuthor(ctx, authorEmail, md["authorName"], buyerEmail)
	if err != nil {
		return nil, err
	}

	token, err := h.purchaseToken(ctx, purchase.ID, user.ID, buyerEmail)
	if err != nil {
		return nil, err
	}

	if buyerEmail != "" {
		err = h.email.SendGiftManagement(ctx, email.GiftManagement{
			BuyerEmail: buyerEmail,
			BuyerName:  md["buyerName"],
			AuthorName: md["authorName"],
			ManageURL:  h.manageURL(token),
		})
		if err != nil {
			return nil, upstream("Failed to send management email", err)
		}
	}

	if timing == GiftNow {
		link, err := h.authorLink(ctx, authorEmail)
		if err != nil {
			return nil, err
		}
		err = h.email.SendGiftWelcome(ctx, email.GiftWelcome{
			AuthorEmail: authorEmail,
			AuthorName:  md["authorName"],
			BuyerName:   md["buyerName"],
			Message:     md["giftMessage"],
			Link:        link,
		})
		if err != nil {
			return nil, upstream("Failed to send welcome email", err)
		}
	}

	// The emails are out; a failed mark only means a retry sends them again.
	err = h.supabase.Update(ctx, tableGiftPurchases, supabase.Filter("id", purchase.ID),
		map[string]string{"status": purchaseCompleted}, nil)
	if err != nil {
		h.logger.Error("mark gift completed", "session", sess.ID, "error", err)
	}

	h.logger.Info("gift completed", "session", sess.ID, "author", user.ID, "timing", timing)
	return &GiftResult{AuthorID: user.ID, GiftTiming: timing}, nil
}

// purchase returns the recorded purchase for the session, inserting it as
// pending on first sight.
func (h *GiftHandler) purchase(ctx context.Context, sess *payments.CompletedSession, authorEmail, buyerEmail, timing string) (*giftPurchase, error) {
	var existing []giftPurchase
	if err := h.supabase.Select(ctx, tableGiftPurchases, supabase.Filter("stripe_session_id", sess.ID), &existing); err != nil {
		return nil, upstream("Failed to check purchase", err)
	}
	if len(existing) > 0 {
		if existing[0].Status != purchaseCompleted {
			h.logger.Info("resuming gift completion", "session", sess.ID, "purchase", existing[0].ID)
		}
		return &existing[0], nil
	}

	md := sess.Metadata
	var inserted []giftPurchase
	err := h.supabase.Insert(ctx, tableGiftPurchases, giftPurchase{
		StripeSessionID: sess.ID,
		AuthorEmail:     authorEmail,
		AuthorName:      md["authorName"],
		BuyerEmail:      buyerEmail,
		BuyerName:       md["buyerName"],
		GiftTiming:      timing,
		GiftMessage:     md["giftMessage"],
		AmountTotal:     sess.AmountTotal,
		Currency:        sess.Currency,
		Status:          purchasePending,
	}, &inserted)
	if err != nil {
		return nil, upstream("Failed to record purchase", err)
	}
	if len(inserted) == 0 {
		return nil, upstream("Failed to record purchase", errors.New("no row returned"))
	}
	return &inserted[0], nil
}

// purchaseToken returns the management token issued for the purchase,
// creating one if an earlier attempt stopped before it did.
func (h *GiftHandler) purchaseToken(ctx context.Context, purchaseID, authorID, buyerEmail string) (string, error) {
	q := supabase.Filter("gift_purchase_id", purchaseID)
	q.Set("limit", "1")
	var tokens []managementToken
	if err := h.supabase.Select(ctx, tableManagementTokens, q, &tokens); err != nil {
		return "", upstream("Failed to check management token", err)
	}
	if len(tokens) > 0 {
		return tokens[0].Token, nil
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}
	err = h.supabase.Insert(ctx, tableManagementTokens, managementToken{
		Token:          token,
		AuthorID:       authorID,
		BuyerEmail:     buyerEmail,
		GiftPurchaseID: purchaseID,
	}, nil)
	if err != nil {
		return "", upstream("Failed to create management token", err)
	}
	return token, nil
}

// ensureAuthor finds or creates the auth user and the authors row. New users
// are created already confirmed: the purchase, not a login, vouches for them.
func (h *GiftHandler) ensureAuthor(ctx context.Context, addr, name, giftedBy string) (*supabase.User, error) {
	user, err := h.supabase.FindUserByEmail(ctx, addr)
	if err != nil {
		return nil, upstream("Failed to look up author", err)
	}
	if user == nil {
		user, err = h.supabase.CreateUser(ctx, supabase.CreateUserParams{
			Email:        addr,
			EmailConfirm: true,
			UserMetadata: map[string]any{"name": name, "gifted_by": giftedBy},
		})
		if err != nil {
			return nil, upstream("Failed to create author account", err)
		}
	}
	err = h.supabase.Upsert(ctx, tableAuthors, "id", map[string]any{
		"id":    user.ID,
		"email": addr,
		"name":  name,
	}, nil)
	if err != nil {
		return nil, upstream("Failed to save author", err)
	}
	return user, nil
}

func (h *GiftHandler) authorLink(ctx context.Context, addr string) (string, error) {
	link, err := h.supabase.GenerateLink(ctx, supabase.GenerateLinkParams{
		Type:       supabase.LinkMagic,
		Email:      addr,
		RedirectTo: h.cfg.BaseURL + "/app/",
	})
	if err != nil {
		return "", upstream("Failed to generate magic link", err)
	}
	return FixRedirectURL(link.ActionLink, h.cfg.BaseURL), nil
}

// ResolveManagementToken maps a management token to its author.
func (h *GiftHandler) ResolveManagementToken(ctx context.Context, token string) (auth.AuthContext, error) {
	if missing := h.cfg.Missing(config.SupabaseURL, config.SupabaseServiceRoleKey); len(missing) > 0 {
		return auth.AuthContext{}, respond.Config(missing)
	}
	q := supabase.Filter("token", token)
	q.Set("limit", "1")
	var tokens []managementToken
	if err := h.supabase.Select(ctx, tableManagementTokens, q, &tokens); err != nil {
		return auth.AuthContext{}, upstream("Failed to validate token", err)
	}
	if len(tokens) == 0 {
		return auth.AuthContext{}, respond.Unauthorized("Invalid management token")
	}

	a, err := h.author(ctx, tokens[0].AuthorID)
	if err != nil {
		return auth.AuthContext{}, err
	}
	return auth.AuthContext{UserID: a.ID, AuthorID: a.ID, Email: a.Email}, nil
}

func (h *GiftHandler) author(ctx context.Context, id string) (*author, error) {
	var authors []author
	if err := h.supabase.Select(ctx, tableAuthors, supabase.Filter("id", id), &authors); err != nil {
		return nil, upstream("Failed to load author", err)
	}
	if len(authors) == 0 {
		return nil, respond.NotFound("Author not found")
	}
	return &authors[0], nil
}

type subscriberView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Manage returns the managed author and their subscribers.
func (h *GiftHandler) Manage(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	authorID := auth.AuthorID(r.Context())

	var (
		a    *author
		subs []subscriber
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		a, err = h.author(ctx, authorID)
		return err
	})
	g.Go(func() error {
		q := supabase.Filter("author_id", authorID)
		q.Set("order", "created_at.asc")
		if err := h.supabase.Select(ctx, tableSubscribers, q, &subs); err != nil {
			return upstream("Failed to load subscribers", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}

	views := make([]subscriberView, 0, len(subs))
	for _, s := range subs {
		v := subscriberView{ID: s.ID, Email: s.Email, Name: s.Name}
		if !s.CreatedAt.IsZero() {
			v.CreatedAt = s.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		views = append(views, v)
	}
	respond.OK(w, map[string]any{
		"author":      map[string]string{"id": a.ID, "name": a.Name, "email": a.Email},
		"subscribers": views,
	})
}

type subscriberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AddSubscriber adds a reader to the author's list and welcomes them.
func (h *GiftHandler) AddSubscriber(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, giftSecrets...) {
		return
	}
	var req subscriberRequest
	if err := subscriberSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	authorID := auth.AuthorID(r.Context())
	addr := normalizeEmail(req.Email)

	var existing []subscriber
	if err := h.supabase.Select(r.Context(), tableSubscribers, supabase.Filter("author_id", authorID, "email", addr), &existing); err != nil {
		h.fail(w, r, upstream("Failed to check subscriber", err))
		return
	}
	if len(existing) > 0 {
		respond.Error(w, respond.BadRequest("Este suscriptor ya existe"))
		return
	}

	accessToken, err := newToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var created []subscriber
	err = h.supabase.Insert(r.Context(), tableSubscribers, map[string]any{
		"author_id":    authorID,
		"email":        addr,
		"name":         req.Name,
		"access_token": accessToken,
	}, &created)
	if err != nil {
		h.fail(w, r, upstream("Failed to add subscriber", err))
		return
	}
	if len(created) == 0 {
		h.fail(w, r, respond.Upstream("Failed to add subscriber", errors.New("insert returned no rows"), nil))
		return
	}

	emailSent := true
	a, err := h.author(r.Context(), authorID)
	if err == nil {
		err = h.email.SendSubscriberWelcome(r.Context(), addr, a.Name)
	}
	if err != nil {
		emailSent = false
		h.logger.Warn("subscriber welcome not sent", "subscriber", created[0].ID, "error", err)
	}

	s := created[0]
	respond.OK(w, map[string]any{
		"subscriber": subscriberView{ID: s.ID, Email: s.Email, Name: s.Name},
		"emailSent":  emailSent,
	})
}

type removeSubscriberRequest struct {
	SubscriberID string `json:"subscriberId"`
}

// RemoveSubscriber deletes one of the author's subscribers. The delete is
// scoped by author so a token cannot reach other authors' readers.
func (h *GiftHandler) RemoveSubscriber(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	var req removeSubscriberRequest
	if id := r.URL.Query().Get("subscriberId"); id != "" {
		req.SubscriberID = id
	} else if err := removeSubscriberSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	q := supabase.Filter("id", req.SubscriberID, "author_id", auth.AuthorID(r.Context()))
	if err := h.supabase.Delete(r.Context(), tableSubscribers, q); err != nil {
		h.fail(w, r, upstream("Failed to remove subscriber", err))
		return
	}
	respond.OK(w, nil)
}

type newEmailRequest struct {
	NewEmail string `json:"newEmail"`
}

// ChangeAuthorEmail moves the managed author to a new address and tells both
// addresses about it.
func (h *GiftHandler) ChangeAuthorEmail(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, giftSecrets...) {
		return
	}
	var req newEmailRequest
	if err := newEmailSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	ctx := r.Context()
	authorID := auth.AuthorID(ctx)
	newAddr := normalizeEmail(req.NewEmail)

	a, err := h.author(ctx, authorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if normalizeEmail(a.Email) == newAddr {
		respond.Error(w, respond.BadRequest("El correo nuevo es igual al actual"))
		return
	}

	taken, err := h.supabase.FindUserByEmail(ctx, newAddr)
	if err != nil {
		h.fail(w, r, upstream("Failed to check email", err))
		return
	}
	if taken != nil && taken.ID != authorID {
		respond.Error(w, respond.BadRequest("Ese correo ya está en uso"))
		return
	}

	confirmed := true
	if _, err := h.supabase.UpdateUser(ctx, authorID, supabase.UpdateUserParams{Email: &newAddr, EmailConfirm: &confirmed}); err != nil {
		h.fail(w, r, upstream("Failed to update author email", err))
		return
	}
	if err := h.supabase.Update(ctx, tableAuthors, supabase.Filter("id", authorID), map[string]any{"email": newAddr}, nil); err != nil {
		h.fail(w, r, upstream("Failed to update author email", err))
		return
	}

	for _, to := range []string{a.Email, newAddr} {
		if err := h.email.SendAuthorEmailChanged(ctx, to, newAddr); err != nil {
			h.logger.Warn("email change notice not sent", "to", to, "error", err)
		}
	}
	h.logger.Info("author email changed by manager", "author", authorID)
	respond.OK(w, map[string]any{"email": newAddr})
}

// ResendLink emails the author a fresh sign-in link.
func (h *GiftHandler) ResendLink(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, giftSecrets...) {
		return
	}
	a, err := h.author(r.Context(), auth.AuthorID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	link, err := h.authorLink(r.Context(), a.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.email.SendMagicLink(r.Context(), a.Email, link); err != nil {
		h.fail(w, r, upstream("Failed to send email", err))
		return
	}
	respond.OK(w, map[string]any{"message": fmt.Sprintf("Enlace enviado a %s", a.Email)})
}
