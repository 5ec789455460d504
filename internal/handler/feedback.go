package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/respond"
	"github.com/narrahq/narra/internal/supabase"
)

const maxCommentLen = 2000

var (
	feedbackQuerySchema = decode.MustCompile("feedback-query.json", `{
		"type": "object",
		"required": ["authorId", "storyId", "subscriberId", "token"],
		"properties": {
			"authorId": {"type": "string", "minLength": 1},
			"storyId": {"type": "string", "minLength": 1},
			"subscriberId": {"type": "string", "minLength": 1},
			"token": {"type": "string", "minLength": 1}
		}
	}`)
	feedbackSchema = decode.MustCompile("feedback.json", `{
		"type": "object",
		"required": ["action", "authorId", "storyId", "subscriberId", "token"],
		"properties": {
			"action": {"enum": ["comment", "reaction"]},
			"authorId": {"type": "string", "minLength": 1},
			"storyId": {"type": "string", "minLength": 1},
			"subscriberId": {"type": "string", "minLength": 1},
			"token": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"reactionType": {"type": "string", "minLength": 1, "maxLength": 32}
		},
		"allOf": [
			{
				"if": {"properties": {"action": {"const": "comment"}}},
				"then": {"required": ["content"]}
			},
			{
				"if": {"properties": {"action": {"const": "reaction"}}},
				"then": {"required": ["reactionType"]}
			}
		]
	}`)
)

// FeedbackHandler serves subscriber comments and reactions on stories.
// Subscribers authenticate with their per-subscriber access token.
type FeedbackHandler struct {
	base
	supabase *supabase.Client
}

func NewFeedbackHandler(cfg config.Config, sb *supabase.Client, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{base: base{cfg: cfg, logger: logger}, supabase: sb}
}

type feedbackRequest struct {
	Action       string `json:"action"`
	AuthorID     string `json:"authorId"`
	StoryID      string `json:"storyId"`
	SubscriberID string `json:"subscriberId"`
	Token        string `json:"token"`
	Content      string `json:"content"`
	ReactionType string `json:"reactionType"`
}

// subscriber loads the subscriber of authorID and checks token against their
// access token.
func (h *FeedbackHandler) subscriber(ctx context.Context, authorID, subscriberID, token string) (*subscriber, error) {
	var subs []subscriber
	q := supabase.Filter("id", subscriberID, "author_id", authorID)
	if err := h.supabase.Select(ctx, tableSubscribers, q, &subs); err != nil {
		return nil, upstream("Failed to load subscriber", err)
	}
	if len(subs) == 0 {
		return nil, respond.NotFound("Subscriber not found")
	}
	if !tokensEqual(subs[0].AccessToken, token) {
		return nil, respond.Forbidden("Invalid access token")
	}
	return &subs[0], nil
}

// Get returns the story's comments and the subscriber's own reaction.
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	var req feedbackRequest
	if err := feedbackQuerySchema.Values(r.URL.Query(), &req); err != nil {
		respond.Error(w, err)
		return
	}
	if _, err := h.subscriber(r.Context(), req.AuthorID, req.SubscriberID, req.Token); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		comments  []comment
		reactions []reaction
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		q := supabase.Filter("author_id", req.AuthorID, "story_id", req.StoryID)
		q.Set("order", "created_at.asc")
		if err := h.supabase.Select(ctx, tableComments, q, &comments); err != nil {
			return upstream("Failed to load comments", err)
		}
		return nil
	})
	g.Go(func() error {
		q := supabase.Filter("author_id", req.AuthorID, "story_id", req.StoryID, "subscriber_id", req.SubscriberID)
		if err := h.supabase.Select(ctx, tableReactions, q, &reactions); err != nil {
			return upstream("Failed to load reaction", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}

	if comments == nil {
		comments = []comment{}
	}
	var mine any
	if len(reactions) > 0 {
		mine = reactions[0].ReactionType
	}
	respond.OK(w, map[string]any{"comments": comments, "reaction": mine})
}

// Post adds a comment or toggles a reaction.
func (h *FeedbackHandler) Post(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.SupabaseURL, config.SupabaseServiceRoleKey) {
		return
	}
	var req feedbackRequest
	if err := feedbackSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	sub, err := h.subscriber(r.Context(), req.AuthorID, req.SubscriberID, req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch req.Action {
	case "comment":
		h.comment(w, r, req, sub)
	case "reaction":
		h.react(w, r, req)
	}
}

func (h *FeedbackHandler) comment(w http.ResponseWriter, r *http.Request, req feedbackRequest, sub *subscriber) {
	content := strings.TrimSpace(req.Content)
	if n := utf8.RuneCountInString(content); n == 0 || n > maxCommentLen {
		respond.Error(w, respond.BadRequest("El comentario debe tener entre 1 y 2000 caracteres"))
		return
	}

	name := sub.Name
	if name == "" {
		name = sub.Email
	}
	var created []comment
	err := h.supabase.Insert(r.Context(), tableComments, map[string]any{
		"author_id":       req.AuthorID,
		"story_id":        req.StoryID,
		"subscriber_id":   req.SubscriberID,
		"subscriber_name": name,
		"content":         content,
	}, &created)
	if err != nil {
		h.fail(w, r, upstream("Failed to save comment", err))
		return
	}
	var out any
	if len(created) > 0 {
		out = created[0]
	}
	respond.OK(w, map[string]any{"comment": out})
}

// react toggles: the same reaction again removes it, a different one
// replaces it.
func (h *FeedbackHandler) react(w http.ResponseWriter, r *http.Request, req feedbackRequest) {
	ctx := r.Context()
	key := supabase.Filter("author_id", req.AuthorID, "story_id", req.StoryID, "subscriber_id", req.SubscriberID)

	var existing []reaction
	if err := h.supabase.Select(ctx, tableReactions, key, &existing); err != nil {
		h.fail(w, r, upstream("Failed to load reaction", err))
		return
	}

	if len(existing) > 0 && existing[0].ReactionType == req.ReactionType {
		if err := h.supabase.Delete(ctx, tableReactions, key); err != nil {
			h.fail(w, r, upstream("Failed to remove reaction", err))
			return
		}
		respond.OK(w, map[string]any{"reaction": nil, "removed": true})
		return
	}

	err := h.supabase.Upsert(ctx, tableReactions, reactionConflict, reaction{
		AuthorID:     req.AuthorID,
		StoryID:      req.StoryID,
		SubscriberID: req.SubscriberID,
		ReactionType: req.ReactionType,
	}, nil)
	if err != nil {
		h.fail(w, r, upstream("Failed to save reaction", err))
		return
	}
	respond.OK(w, map[string]any{"reaction": req.ReactionType, "removed": false})
}
