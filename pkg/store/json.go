package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// JSONStore keeps every user's history in one JSON file.
type JSONStore struct {
	path   string
	users  map[string][]json.RawMessage
	logger *slog.Logger
	mu     sync.RWMutex
}

// fileData is the on-disk layout.
type fileData struct {
	Version   int                          `json:"version"`
	UpdatedAt string                       `json:"updated_at"`
	Sessions  map[string][]json.RawMessage `json:"sessions"`
}

const currentVersion = 1

// NewJSONStore opens the store at path. The file is created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path:   path,
		users:  make(map[string][]json.RawMessage),
		logger: slog.Default().With("component", "store", "backend", "json"),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load store: %w", err)
		}
	}
	return s, nil
}

// NewDefaultJSONStore opens ~/.rehearse/sessions.json.
func NewDefaultJSONStore() (*JSONStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return NewJSONStore(filepath.Join(home, ".rehearse", "sessions.json"))
}

// Path returns the backing file.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var stored fileData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	if stored.Sessions != nil {
		s.users = stored.Sessions
	}
	return nil
}

// flush writes the file atomically. Callers hold mu.
func (s *JSONStore) flush() error {
	stored := fileData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Sessions:  s.users,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *JSONStore) Save(_ context.Context, userID string, r session.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(userID)
	s.users[key] = append(s.users[key], data)
	if err := s.flush(); err != nil {
		s.users[key] = s.users[key][:len(s.users[key])-1]
		return err
	}
	return nil
}

// ListAll implements Store.
func (s *JSONStore) ListAll(_ context.Context, userID string) ([]session.Record, error) {
	s.mu.RLock()
	raw := s.users[Key(userID)]
	blobs := make([][]byte, len(raw))
	for i, b := range raw {
		blobs[i] = b
	}
	s.mu.RUnlock()

	return decodeAll(blobs, s.logger), nil
}

// BaselineAverage implements Store.
func (s *JSONStore) BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error) {
	records, err := s.ListAll(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	avg, ok := session.BaselineAverage(records, category)
	return avg, ok, nil
}

// Count returns the number of records across all users.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, list := range s.users {
		n += len(list)
	}
	return n
}

// Close implements Store.
func (s *JSONStore) Close() error { return nil }
