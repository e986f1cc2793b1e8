package backend

import (
	"context"

	"github.com/ernie/gamehost/internal/domain"
)

// Null is the backend used when none is configured. Reads return empty
// results, writes and auth return ErrNotConfigured.
type Null struct{}

var _ Client = Null{}

func (Null) Configured() bool { return false }

func (Null) SignUp(context.Context, string, string, string) (*domain.Session, error) {
	return nil, ErrNotConfigured
}

func (Null) SignInWithPassword(context.Context, string, string) (*domain.Session, error) {
	return nil, ErrNotConfigured
}

func (Null) RefreshSession(context.Context, string) (*domain.Session, error) {
	return nil, ErrNotConfigured
}

func (Null) GetUser(context.Context, string) (*domain.User, error) {
	return nil, ErrNotConfigured
}

func (Null) SignOut(context.Context, string) error { return nil }

func (Null) AuthorizeURL(string, string) (string, error) { return "", ErrNotConfigured }

func (Null) GetServerStats(context.Context, string, string) (*domain.ServerStats, error) {
	return nil, nil
}

func (Null) InsertCommand(context.Context, string, CommandInsert) (*domain.Command, error) {
	return nil, ErrNotConfigured
}

func (Null) ListCommands(context.Context, string, CommandQuery) ([]domain.Command, error) {
	return []domain.Command{}, nil
}

func (Null) GetProfile(context.Context, string) (*domain.Profile, error) { return nil, nil }

func (Null) UpdateProfile(context.Context, string, domain.ProfileUpdate) (*domain.Profile, error) {
	return nil, ErrNotConfigured
}

func (Null) RPC(context.Context, string, string, any, any) error { return ErrNotConfigured }

func (Null) Subscribe(context.Context, string, string, string, func(domain.ChangeEvent)) (Subscription, error) {
	return NoopSubscription{}, nil
}

// NoopSubscription is a handle for a subscription that was never established
type NoopSubscription struct{}

func (NoopSubscription) Unsubscribe() {}
