package session

import (
	"sync"

	"github.com/ernie/gamehost/internal/domain"
)

// Holder is the single in-memory session shared by the session manager
// (writer) and the data-access layer (readers)
type Holder struct {
	mu      sync.RWMutex
	session *domain.Session
}

// NewHolder returns an empty holder
func NewHolder() *Holder {
	return &Holder{}
}

// Get returns a copy of the current session, or nil
func (h *Holder) Get() *domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return nil
	}
	s := *h.session
	return &s
}

// Set replaces the current session
func (h *Holder) Set(s *domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == nil {
		h.session = nil
		return
	}
	cp := *s
	h.session = &cp
}

// Clear drops the current session
func (h *Holder) Clear() {
	h.Set(nil)
}

// AccessToken returns the current access token, or "" when signed out
func (h *Holder) AccessToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return ""
	}
	return h.session.AccessToken
}

// User returns a copy of the signed-in user, or nil
func (h *Holder) User() *domain.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return nil
	}
	u := h.session.User
	return &u
}
