package commands

import (
	"context"
	"errors"
	"time"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
)

// ToastDuration is how long a toast stays on screen
const ToastDuration = 4 * time.Second

// ToastKind selects toast styling
type ToastKind int

const (
	ToastSuccess ToastKind = iota
	ToastError
)

// Toast is a transient notification
type Toast struct {
	Kind      ToastKind
	Message   string
	ExpiresAt time.Time
}

// Expired reports whether the toast should be dismissed
func (t Toast) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Creator queues commands; dashboard.Service implements it
type Creator interface {
	CreateServerCommand(ctx context.Context, serverID string, cmd dashboard.NewCommand) (*domain.Command, error)
}

// Report is the outcome of Execute
type Report struct {
	Action  Action
	Command *domain.Command
	Err     error
	Toast   Toast
}

// Execute queues action on serverID and reports the result as a toast.
// Errors are returned in the report, never panicked or dropped.
func Execute(ctx context.Context, creator Creator, serverID string, action Action) Report {
	return execute(ctx, creator, serverID, action, time.Now())
}

func execute(ctx context.Context, creator Creator, serverID string, action Action, now time.Time) Report {
	r := Report{Action: action}
	cmd, err := creator.CreateServerCommand(ctx, serverID, action.NewCommand())
	if err != nil {
		r.Err = err
		r.Toast = Toast{Kind: ToastError, Message: ErrorMessage(err), ExpiresAt: now.Add(ToastDuration)}
		return r
	}
	r.Command = cmd
	r.Toast = Toast{Kind: ToastSuccess, Message: action.Label() + " queued", ExpiresAt: now.Add(ToastDuration)}
	return r
}

// ErrorMessage turns an error from the command path into user-facing text
func ErrorMessage(err error) string {
	var verr *ValidationError
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, dashboard.ErrNotConfigured):
		return "Server commands are unavailable: no backend configured"
	case errors.Is(err, dashboard.ErrNotAuthenticated):
		return "Sign in to send server commands"
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 403 {
			return "Only admins can send server commands"
		}
		return apiErr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled"
	}
	return err.Error()
}

// InFlight tracks which actions are awaiting a response, keyed by Action.Key,
// so only the triggering control shows a spinner. Owned by one goroutine.
type InFlight struct {
	active map[string]bool
}

// NewInFlight returns an empty tracker
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]bool)}
}

// Start marks key busy. It returns false if key was already busy.
func (f *InFlight) Start(key string) bool {
	if f.active[key] {
		return false
	}
	f.active[key] = true
	return true
}

// Done clears key
func (f *InFlight) Done(key string) {
	delete(f.active, key)
}

// Active reports whether key is busy
func (f *InFlight) Active(key string) bool {
	return f.active[key]
}

// Any reports whether anything is busy
func (f *InFlight) Any() bool {
	return len(f.active) > 0
}
