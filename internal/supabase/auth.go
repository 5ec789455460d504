package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const usersPerPage = 1000

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
}

type listUsersResponse struct {
	Users []User `json:"users"`
}

// FindUserByEmail pages through the admin user list. It returns nil, nil when
// no user has the address.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for page := 1; ; page++ {
		var resp listUsersResponse
		err := c.do(ctx, request{
			op:     "list users",
			method: http.MethodGet,
			path:   "/auth/v1/admin/users",
			query: url.Values{
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(usersPerPage)},
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		for i := range resp.Users {
			if strings.EqualFold(resp.Users[i].Email, email) {
				return &resp.Users[i], nil
			}
		}
		if len(resp.Users) < usersPerPage {
			return nil, nil
		}
	}
}

type CreateUserParams struct {
	Email        string         `json:"email"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

func (c *Client) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	var u User
	err := c.do(ctx, request{
		op:     "create user",
		method: http.MethodPost,
		path:   "/auth/v1/admin/users",
		body:   p,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type UpdateUserParams struct {
	Email        *string `json:"email,omitempty"`
	EmailConfirm *bool   `json:"email_confirm,omitempty"`
}

func (c *Client) UpdateUser(ctx context.Context, id string, p UpdateUserParams) (*User, error) {
	var u User
	err := c.do(ctx, request{
		op:     "update user",
		method: http.MethodPut,
		path:   "/auth/v1/admin/users/" + url.PathEscape(id),
		body:   p,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Link types accepted by generate_link.
const (
	LinkMagic  = "magiclink"
	LinkSignup = "signup"
)

type GenerateLinkParams struct {
	Type       string
	Email      string
	RedirectTo string
}

// Link is the credential material returned by generate_link.
type Link struct {
	ActionLink       string `json:"action_link"`
	EmailOTP         string `json:"email_otp"`
	HashedToken      string `json:"hashed_token"`
	RedirectTo       string `json:"redirect_to"`
	VerificationType string `json:"verification_type"`
}

// GenerateLink creates a one-time link and PIN without sending any email.
func (c *Client) GenerateLink(ctx context.Context, p GenerateLinkParams) (*Link, error) {
	body := map[string]any{"type": p.Type, "email": p.Email}
	if p.RedirectTo != "" {
		body["options"] = map[string]string{"redirect_to": p.RedirectTo}
	}

	var raw json.RawMessage
	err := c.do(ctx, request{
		op:     "generate link",
		method: http.MethodPost,
		path:   "/auth/v1/admin/generate_link",
		body:   body,
	}, &raw)
	if err != nil {
		return nil, err
	}

	// Older GoTrue versions nest the link fields under "properties".
	var resp struct {
		Link
		Properties *Link `json:"properties"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("supabase generate link: decode: %w", err)
	}
	link := resp.Link
	if resp.Properties != nil && resp.Properties.ActionLink != "" {
		link = *resp.Properties
	}
	if link.ActionLink == "" && link.EmailOTP == "" && link.HashedToken == "" {
		return nil, fmt.Errorf("supabase generate link: empty link in response")
	}
	return &link, nil
}

// Verification types for /auth/v1/verify.
const (
	VerifyEmail     = "email"
	VerifyMagicLink = "magiclink"
)

type VerifyParams struct {
	Type      string `json:"type"`
	Email     string `json:"email,omitempty"`
	Token     string `json:"token,omitempty"`
	TokenHash string `json:"token_hash,omitempty"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

// Verify exchanges a PIN or hashed token for a session.
func (c *Client) Verify(ctx context.Context, p VerifyParams) (*Session, error) {
	var s Session
	err := c.do(ctx, request{
		op:     "verify",
		method: http.MethodPost,
		path:   "/auth/v1/verify",
		body:   p,
	}, &s)
	if err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, fmt.Errorf("supabase verify: no session in response")
	}
	return &s, nil
}
