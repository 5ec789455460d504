// Package auth carries the authenticated caller through a request context.
package auth

import "context"

type contextKey struct{}

// Source says how the caller proved who they are.
type Source int

const (
	// SourceSession is a Supabase access token belonging to the author.
	SourceSession Source = iota + 1
	// SourceManagementToken is a gift buyer's management token scoped to one author.
	SourceManagementToken
)

func (s Source) String() string {
	switch s {
	case SourceSession:
		return "session"
	case SourceManagementToken:
		return "management_token"
	default:
		return "unknown"
	}
}

type AuthContext struct {
	UserID   string
	Email    string
	Role     string
	AuthorID string
	Token    string
	Source   Source
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func AuthorID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.AuthorID
}

// IsManager reports whether the caller is acting through a management token.
func IsManager(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Source == SourceManagementToken
}
