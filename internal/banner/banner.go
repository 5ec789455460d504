// Package banner tracks whether a client has dismissed the promotional banner.
package banner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DismissedKey is the storage key for the promotional banner flag.
const DismissedKey = "narra-promo-banner-dismissed"

// ErrNoClient is returned when a call is made without a client identifier.
var ErrNoClient = errors.New("banner: missing client id")

// Store persists small string values per client. Get returns ok=false when
// the key has never been set or was deleted.
type Store interface {
	Get(ctx context.Context, clientID, key string) (value string, ok bool, err error)
	Set(ctx context.Context, clientID, key, value string) error
	Delete(ctx context.Context, clientID, key string) error
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Visible reports whether the banner should be shown. A store failure shows
// the banner rather than hiding it.
func (s *Service) Visible(ctx context.Context, clientID string) (bool, error) {
	if clientID == "" {
		return true, ErrNoClient
	}
	v, ok, err := s.store.Get(ctx, clientID, DismissedKey)
	if err != nil {
		s.logger.Warn("banner lookup failed", "client", clientID, "error", err)
		return true, fmt.Errorf("get dismissal: %w", err)
	}
	return !(ok && v == "true"), nil
}

// Dismiss hides the banner for the client until Reset.
func (s *Service) Dismiss(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrNoClient
	}
	if err := s.store.Set(ctx, clientID, DismissedKey, "true"); err != nil {
		return fmt.Errorf("set dismissal: %w", err)
	}
	return nil
}

// Reset clears the dismissal so the banner shows again.
func (s *Service) Reset(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrNoClient
	}
	if err := s.store.Delete(ctx, clientID, DismissedKey); err != nil {
		return fmt.Errorf("clear dismissal: %w", err)
	}
	return nil
}
