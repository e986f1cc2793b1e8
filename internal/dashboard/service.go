// Package dashboard is the typed data-access layer the front ends use to read
// server state and queue commands. It reads the current session from a
// session.Holder and talks to the backend through backend.Client.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/session"
)

var (
	// ErrNotConfigured is returned by writes when no backend is configured
	ErrNotConfigured = backend.ErrNotConfigured
	// ErrNotAuthenticated is returned by writes when nobody is signed in
	ErrNotAuthenticated = errors.New("not authenticated")
)

// NewCommand is what a caller supplies to queue a command
type NewCommand struct {
	Type        domain.CommandType
	RconCommand string
	Description string
	Params      map[string]any
}

// HistoryFilter selects command history
type HistoryFilter struct {
	ServerID string
	Limit    int
}

// Service is the data-access layer
type Service struct {
	client backend.Client
	holder *session.Holder

	warnOnce sync.Once

	mu      sync.Mutex
	profile *domain.Profile
}

// NewService creates a data-access service reading the session from holder
func NewService(client backend.Client, holder *session.Holder) *Service {
	return &Service{client: client, holder: holder}
}

// Configured reports whether a backend is available
func (s *Service) Configured() bool {
	return s.client.Configured()
}

func (s *Service) unconfigured() bool {
	if s.client.Configured() {
		return false
	}
	s.warnOnce.Do(func() {
		log.Printf("Warning: backend is not configured; dashboard data is unavailable")
	})
	return true
}

// writeToken returns the access token for a write, failing before any network call
func (s *Service) writeToken() (string, error) {
	if s.unconfigured() {
		return "", ErrNotConfigured
	}
	token := s.holder.AccessToken()
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// GetServerStats returns the latest stats for a server, or nil when there are none
func (s *Service) GetServerStats(ctx context.Context, serverID string) (*domain.ServerStats, error) {
	if s.unconfigured() {
		return nil, nil
	}
	stats, err := s.client.GetServerStats(ctx, s.holder.AccessToken(), serverID)
	if err != nil {
		return nil, fmt.Errorf("fetching server stats: %w", err)
	}
	return stats, nil
}

// SubscribeToServerStats calls fn with every new stats row for serverID.
// The returned handle is never nil, even when err is set.
func (s *Service) SubscribeToServerStats(ctx context.Context, serverID string, fn func(domain.ServerStats)) (backend.Subscription, error) {
	if s.unconfigured() {
		return backend.NoopSubscription{}, nil
	}
	sub, err := s.client.Subscribe(ctx, s.holder.AccessToken(), domain.TableServerStats, serverID, func(ev domain.ChangeEvent) {
		decoded, err := ev.DecodeStats()
		if err != nil {
			log.Printf("Ignoring malformed stats event: %v", err)
			return
		}
		fn(decoded.Stats)
	})
	if err != nil {
		return backend.NoopSubscription{}, fmt.Errorf("subscribing to server stats: %w", err)
	}
	return sub, nil
}

// CreateServerCommand queues a command for serverID as the signed-in user
func (s *Service) CreateServerCommand(ctx context.Context, serverID string, cmd NewCommand) (*domain.Command, error) {
	token, err := s.writeToken()
	if err != nil {
		return nil, err
	}
	created, err := s.client.InsertCommand(ctx, token, backend.CommandInsert{
		ServerID:    serverID,
		CommandType: cmd.Type,
		RconCommand: cmd.RconCommand,
		Description: cmd.Description,
		Params:      cmd.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("creating command: %w", err)
	}
	return created, nil
}

// GetCommandHistory returns commands newest first
func (s *Service) GetCommandHistory(ctx context.Context, f HistoryFilter) ([]domain.Command, error) {
	if s.unconfigured() {
		return []domain.Command{}, nil
	}
	commands, err := s.client.ListCommands(ctx, s.holder.AccessToken(), backend.CommandQuery{ServerID: f.ServerID, Limit: f.Limit})
	if err != nil {
		return nil, fmt.Errorf("fetching command history: %w", err)
	}
	return commands, nil
}

// SubscribeToServerCommands calls fn with every change to the command queue
// of serverID, or of all servers when serverID is empty. Callers reconcile
// the events into their own list by command id.
func (s *Service) SubscribeToServerCommands(ctx context.Context, serverID string, fn func(domain.CommandEvent)) (backend.Subscription, error) {
	if s.unconfigured() {
		return backend.NoopSubscription{}, nil
	}
	sub, err := s.client.Subscribe(ctx, s.holder.AccessToken(), domain.TableServerCommands, serverID, func(ev domain.ChangeEvent) {
		decoded, err := ev.DecodeCommand()
		if err != nil {
			log.Printf("Ignoring malformed command event: %v", err)
			return
		}
		fn(decoded)
	})
	if err != nil {
		return backend.NoopSubscription{}, fmt.Errorf("subscribing to commands: %w", err)
	}
	return sub, nil
}

// GetProfile returns the signed-in user's profile, or nil when signed out
func (s *Service) GetProfile(ctx context.Context) (*domain.Profile, error) {
	if s.unconfigured() {
		return nil, nil
	}
	token := s.holder.AccessToken()
	if token == "" {
		return nil, nil
	}

	s.mu.Lock()
	cached := s.profile
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	profile, err := s.client.GetProfile(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	s.cacheProfile(profile)
	return profile, nil
}

// UpdateProfile saves settings changes for the signed-in user
func (s *Service) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.Profile, error) {
	token, err := s.writeToken()
	if err != nil {
		return nil, err
	}
	profile, err := s.client.UpdateProfile(ctx, token, upd)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	s.cacheProfile(profile)
	return profile, nil
}

// SyncUser copies the signed-in identity into the user's profile row
func (s *Service) SyncUser(ctx context.Context) (*domain.Profile, error) {
	token, err := s.writeToken()
	if err != nil {
		return nil, err
	}
	var profile domain.Profile
	if err := s.client.RPC(ctx, token, "sync_user", nil, &profile); err != nil {
		return nil, fmt.Errorf("syncing user: %w", err)
	}
	s.cacheProfile(&profile)
	return &profile, nil
}

// ClearCache drops cached user-derived data
func (s *Service) ClearCache() {
	s.cacheProfile(nil)
}

func (s *Service) cacheProfile(p *domain.Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}
