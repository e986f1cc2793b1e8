package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/session"
)

type fakeClient struct {
	backend.Null

	mu        sync.Mutex
	calls     int
	lastToken string
	inserted  []backend.CommandInsert
	insertErr error
	profile   *domain.Profile
	subFn     func(domain.ChangeEvent)
	subErr    error
	unsubs    int
}

func (f *fakeClient) Configured() bool { return true }

func (f *fakeClient) record(token string) {
	f.mu.Lock()
	f.calls++
	f.lastToken = token
	f.mu.Unlock()
}

func (f *fakeClient) GetServerStats(ctx context.Context, token, serverID string) (*domain.ServerStats, error) {
	f.record(token)
	return &domain.ServerStats{ServerID: serverID, PlayersOnline: 4}, nil
}

func (f *fakeClient) InsertCommand(ctx context.Context, token string, cmd backend.CommandInsert) (*domain.Command, error) {
	f.record(token)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, cmd)
	return &domain.Command{ID: "c1", ServerID: cmd.ServerID, CommandType: cmd.CommandType, RconCommand: cmd.RconCommand, Status: domain.StatusPending}, nil
}

func (f *fakeClient) ListCommands(ctx context.Context, token string, q backend.CommandQuery) ([]domain.Command, error) {
	f.record(token)
	return []domain.Command{{ID: "c1"}}, nil
}

func (f *fakeClient) GetProfile(ctx context.Context, token string) (*domain.Profile, error) {
	f.record(token)
	return f.profile, nil
}

func (f *fakeClient) RPC(ctx context.Context, token, name string, params, out any) error {
	f.record(token)
	if name != "sync_user" {
		return &backend.APIError{StatusCode: 404, Message: "unknown function"}
	}
	*(out.(*domain.Profile)) = domain.Profile{UserID: "u1", Username: "synced"}
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, token, table, serverID string, fn func(domain.ChangeEvent)) (backend.Subscription, error) {
	f.record(token)
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subFn = fn
	return subFunc(func() {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
	}), nil
}

type subFunc func()

func (s subFunc) Unsubscribe() { s() }

func signedIn() *session.Holder {
	h := session.NewHolder()
	h.Set(&domain.Session{AccessToken: "tok", User: domain.User{ID: "u1"}})
	return h
}

func TestUnconfiguredReadsAreEmpty(t *testing.T) {
	svc := NewService(backend.Null{}, signedIn())
	ctx := context.Background()

	stats, err := svc.GetServerStats(ctx, "srv1")
	if err != nil || stats != nil {
		t.Errorf("GetServerStats = %v, %v; want nil, nil", stats, err)
	}
	history, err := svc.GetCommandHistory(ctx, HistoryFilter{ServerID: "srv1"})
	if err != nil || history == nil || len(history) != 0 {
		t.Errorf("GetCommandHistory = %v, %v; want empty slice", history, err)
	}
	profile, err := svc.GetProfile(ctx)
	if err != nil || profile != nil {
		t.Errorf("GetProfile = %v, %v; want nil, nil", profile, err)
	}

	sub, err := svc.SubscribeToServerStats(ctx, "srv1", func(domain.ServerStats) {})
	if err != nil || sub == nil {
		t.Fatalf("SubscribeToServerStats = %v, %v", sub, err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestUnconfiguredWritesFail(t *testing.T) {
	svc := NewService(backend.Null{}, signedIn())
	ctx := context.Background()

	if _, err := svc.CreateServerCommand(ctx, "srv1", NewCommand{Type: domain.CommandRestart, RconCommand: "restart"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateServerCommand err = %v, want ErrNotConfigured", err)
	}
	if _, err := svc.UpdateProfile(ctx, domain.ProfileUpdate{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("UpdateProfile err = %v, want ErrNotConfigured", err)
	}
	if _, err := svc.SyncUser(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SyncUser err = %v, want ErrNotConfigured", err)
	}
}

func TestWritesRequireSession(t *testing.T) {
	fc := &fakeClient{}
	svc := NewService(fc, session.NewHolder())
	ctx := context.Background()

	if _, err := svc.CreateServerCommand(ctx, "srv1", NewCommand{Type: domain.CommandRestart, RconCommand: "restart"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("CreateServerCommand err = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.UpdateProfile(ctx, domain.ProfileUpdate{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("UpdateProfile err = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.SyncUser(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SyncUser err = %v, want ErrNotAuthenticated", err)
	}
	if fc.calls != 0 {
		t.Errorf("made %d network calls without a session", fc.calls)
	}
}

func TestCreateServerCommand(t *testing.T) {
	fc := &fakeClient{}
	svc := NewService(fc, signedIn())

	cmd, err := svc.CreateServerCommand(context.Background(), "srv1", NewCommand{
		Type:        domain.CommandAnnounce,
		RconCommand: "announce hello",
		Description: "Send announcement",
		Params:      map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("CreateServerCommand: %v", err)
	}
	if cmd.Status != domain.StatusPending || cmd.ServerID != "srv1" {
		t.Errorf("unexpected command %+v", cmd)
	}
	if fc.lastToken != "tok" {
		t.Errorf("token = %q, want tok", fc.lastToken)
	}
	got := fc.inserted[0]
	if got.CommandType != domain.CommandAnnounce || got.RconCommand != "announce hello" || got.Params["message"] != "hello" {
		t.Errorf("unexpected insert %+v", got)
	}
}

func TestCreateServerCommandWrapsBackendError(t *testing.T) {
	fc := &fakeClient{insertErr: &backend.APIError{StatusCode: 403, Message: "admin required"}}
	svc := NewService(fc, signedIn())

	_, err := svc.CreateServerCommand(context.Background(), "srv1", NewCommand{Type: domain.CommandStop, RconCommand: "stop"})
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 403 {
		t.Fatalf("err = %v, want wrapped APIError 403", err)
	}
}

func TestSubscribeToServerCommandsDecodes(t *testing.T) {
	fc := &fakeClient{}
	svc := NewService(fc, signedIn())

	var got []domain.CommandEvent
	sub, err := svc.SubscribeToServerCommands(context.Background(), "srv1", func(ev domain.CommandEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, _ := domain.NewChangeEvent(domain.EventUpdate, domain.TableServerCommands, "srv1", domain.Command{ID: "c1", Status: domain.StatusCompleted})
	fc.subFn(ev)
	fc.subFn(domain.ChangeEvent{Event: domain.EventUpdate, Row: []byte("{not json")})

	if len(got) != 1 || got[0].Command.ID != "c1" || got[0].Command.Status != domain.StatusCompleted {
		t.Errorf("events = %+v", got)
	}

	sub.Unsubscribe()
	if fc.unsubs != 1 {
		t.Errorf("unsubs = %d", fc.unsubs)
	}
}

func TestSubscribeFailureReturnsSafeHandle(t *testing.T) {
	fc := &fakeClient{subErr: &backend.APIError{StatusCode: 400, Message: "admin required"}}
	svc := NewService(fc, signedIn())

	sub, err := svc.SubscribeToServerStats(context.Background(), "srv1", func(domain.ServerStats) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if sub == nil {
		t.Fatal("handle must never be nil")
	}
	sub.Unsubscribe()
}

func TestProfileCache(t *testing.T) {
	fc := &fakeClient{profile: &domain.Profile{UserID: "u1", Username: "alice"}}
	svc := NewService(fc, signedIn())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := svc.GetProfile(ctx)
		if err != nil || p == nil || p.Username != "alice" {
			t.Fatalf("GetProfile = %v, %v", p, err)
		}
	}
	if fc.calls != 1 {
		t.Errorf("calls = %d, want 1 (cached)", fc.calls)
	}

	p, err := svc.SyncUser(ctx)
	if err != nil || p.Username != "synced" {
		t.Fatalf("SyncUser = %v, %v", p, err)
	}
	if cached, _ := svc.GetProfile(ctx); cached.Username != "synced" {
		t.Errorf("cache not refreshed by sync: %v", cached)
	}

	svc.ClearCache()
	if p, _ := svc.GetProfile(ctx); p.Username != "alice" {
		t.Errorf("after ClearCache got %v", p)
	}
}
