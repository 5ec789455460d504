package banner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, clientID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[clientID][key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, clientID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[clientID] == nil {
		m.values[clientID] = make(map[string]string)
	}
	m.values[clientID][key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, clientID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[clientID], key)
	if len(m.values[clientID]) == 0 {
		delete(m.values, clientID)
	}
	return nil
}

// SQLStore keeps values in the banner_dismissals table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM banner_dismissals WHERE client_id = ? AND key = ?`,
		clientID, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select dismissal: %w", err)
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, clientID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO banner_dismissals (client_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (client_id, key) DO UPDATE SET value = excluded.value, dismissed_at = CURRENT_TIMESTAMP`,
		clientID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert dismissal: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, clientID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM banner_dismissals WHERE client_id = ? AND key = ?`,
		clientID, key,
	)
	if err != nil {
		return fmt.Errorf("delete dismissal: %w", err)
	}
	return nil
}
