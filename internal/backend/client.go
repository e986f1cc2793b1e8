// Package backend is the client side of the gamehost backend: a Client
// interface with an HTTP implementation and a null object used when no
// backend is configured.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/ernie/gamehost/internal/config"
	"github.com/ernie/gamehost/internal/domain"
)

// ErrNotConfigured is returned by write and auth operations of the null backend
var ErrNotConfigured = errors.New("backend is not configured")

// APIError carries a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// IsUnauthorized reports whether err is a 401 from the backend
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}

// CommandInsert is the producer-side payload for a new queue row
type CommandInsert struct {
	ServerID    string             `json:"server_id"`
	CommandType domain.CommandType `json:"command_type"`
	RconCommand string             `json:"rcon_command"`
	Description string             `json:"description"`
	Params      map[string]any     `json:"params"`
}

// CommandQuery filters the command history
type CommandQuery struct {
	ServerID string
	Status   domain.CommandStatus
	Limit    int
}

// Subscription is a handle to a realtime subscription.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Client is everything the dashboard needs from the backend
type Client interface {
	Configured() bool

	SignUp(ctx context.Context, email, password, username string) (*domain.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	GetUser(ctx context.Context, accessToken string) (*domain.User, error)
	SignOut(ctx context.Context, accessToken string) error
	AuthorizeURL(provider, redirectTo string) (string, error)

	// GetServerStats returns nil without error when the row does not exist
	GetServerStats(ctx context.Context, accessToken, serverID string) (*domain.ServerStats, error)
	InsertCommand(ctx context.Context, accessToken string, cmd CommandInsert) (*domain.Command, error)
	ListCommands(ctx context.Context, accessToken string, q CommandQuery) ([]domain.Command, error)
	GetProfile(ctx context.Context, accessToken string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, accessToken string, upd domain.ProfileUpdate) (*domain.Profile, error)
	RPC(ctx context.Context, accessToken, name string, params, out any) error

	// Subscribe delivers change events for a table filtered to one server,
	// or every server when serverID is empty
	Subscribe(ctx context.Context, accessToken, table, serverID string, fn func(domain.ChangeEvent)) (Subscription, error)
}

// New returns an HTTP client when the backend URL and anon key are both
// configured, and the null backend otherwise
func New(cfg config.ClientConfig) Client {
	if !cfg.BackendConfigured() {
		return Null{}
	}
	return NewHTTP(cfg.BackendURL, cfg.AnonKey)
}
