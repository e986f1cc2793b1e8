package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ernie/gamehost/internal/domain"
)

// ErrCorrupt is returned by Load when the persisted session cannot be read back
var ErrCorrupt = errors.New("persisted session is corrupt")

// Store persists the session between runs.
// Load returns nil, nil when nothing is stored.
type Store interface {
	Load() (*domain.Session, error)
	Save(*domain.Session) error
	Clear() error
}

// FileStore keeps the session as JSON in a file readable only by its owner
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*domain.Session, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.AccessToken == "" || s.User.ID == "" {
		return nil, fmt.Errorf("%w: missing token or user", ErrCorrupt)
	}
	return &s, nil
}

func (f FileStore) Save(s *domain.Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f FileStore) Clear() error {
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryStore is a Store that lives only as long as the process
type MemoryStore struct {
	mu      sync.Mutex
	session *domain.Session
	// LoadErr, when set, is returned by Load
	LoadErr error
}

func (m *MemoryStore) Load() (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Save(s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.LoadErr = nil
	return nil
}
