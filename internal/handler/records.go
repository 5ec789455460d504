package handler

import "time"

// PostgREST tables used by the handlers.
const (
	tableAuthors          = "authors"
	tableSubscribers      = "subscribers"
	tableStories          = "stories"
	tableStoryMedia       = "story_media"
	tableStoryVersions    = "story_versions"
	tableComments         = "story_comments"
	tableReactions        = "story_reactions"
	tableMagicLinkTokens  = "magic_link_tokens"
	tableGiftPurchases    = "gift_purchases"
	tableManagementTokens = "gift_management_tokens"
	tableEmailChanges     = "email_change_requests"

	rpcValidateMagicToken = "validate_magic_link_token"
	reactionConflict      = "author_id,story_id,subscriber_id"
)

type author struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type subscriber struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	AccessToken string    `json:"access_token,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type magicLinkToken struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type magicTokenValidation struct {
	Valid  bool   `json:"valid"`
	Email  string `json:"email"`
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type giftPurchase struct {
	ID              string `json:"id,omitempty"`
	StripeSessionID string `json:"stripe_session_id"`
	AuthorEmail     string `json:"author_email"`
	AuthorName      string `json:"author_name"`
	BuyerEmail      string `json:"buyer_email"`
	BuyerName       string `json:"buyer_name"`
	GiftTiming      string `json:"gift_timing"`
	GiftMessage     string `json:"gift_message"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	Status          string `json:"status,omitempty"`
}

// Gift purchase statuses.
const (
	purchasePending   = "pending"
	purchaseCompleted = "completed"
)

type managementToken struct {
	Token          string `json:"token"`
	AuthorID       string `json:"author_id"`
	BuyerEmail     string `json:"buyer_email"`
	GiftPurchaseID string `json:"gift_purchase_id,omitempty"`
}

// Email change request statuses.
const (
	changePending   = "pending"
	changeConfirmed = "confirmed"
	changeReverted  = "reverted"
)

type emailChangeRequest struct {
	ID           string    `json:"id,omitempty"`
	UserID       string    `json:"user_id"`
	OldEmail     string    `json:"old_email"`
	NewEmail     string    `json:"new_email"`
	ConfirmToken string    `json:"confirm_token"`
	RevertToken  string    `json:"revert_token"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type comment struct {
	ID             string    `json:"id,omitempty"`
	AuthorID       string    `json:"author_id"`
	StoryID        string    `json:"story_id"`
	SubscriberID   string    `json:"subscriber_id"`
	SubscriberName string    `json:"subscriber_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

type reaction struct {
	AuthorID     string `json:"author_id"`
	StoryID      string `json:"story_id"`
	SubscriberID string `json:"subscriber_id"`
	ReactionType string `json:"reaction_type"`
}

type storyRow struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at"`
}

type storyMediaRow struct {
	StoryID string `json:"story_id"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

type storyVersionRow struct {
	StoryID   string    `json:"story_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
