package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ernie/gamehost/internal/api"
	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/config"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
)

const (
	testAnonKey    = "anon"
	testServiceKey = "service"
)

// startBackend runs the real backend router against a temporary database
func startBackend(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "backend.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	bus, err := realtime.NewBus(realtime.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(bus.Close)

	router := api.NewRouter(store, auth.NewService("secret", time.Hour, time.Hour), bus, api.Options{
		PublicURL:  "http://localhost",
		AnonKey:    testAnonKey,
		ServiceKey: testServiceKey,
		LoginRate:  100,
		LoginBurst: 100,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func makeAdmin(t *testing.T, store *storage.Store, userID string) {
	t.Helper()
	if err := store.UpdateUserAdmin(context.Background(), userID, true); err != nil {
		t.Fatal(err)
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	if _, ok := New(config.ClientConfig{}).(Null); !ok {
		t.Error("empty config should give the null backend")
	}
	if _, ok := New(config.ClientConfig{BackendURL: "http://x"}).(Null); !ok {
		t.Error("missing anon key should give the null backend")
	}
	if _, ok := New(config.ClientConfig{BackendURL: "http://x", AnonKey: "k"}).(*HTTP); !ok {
		t.Error("full config should give the HTTP backend")
	}
}

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	var c Client = Null{}

	if stats, err := c.GetServerStats(ctx, "", "srv1"); stats != nil || err != nil {
		t.Errorf("GetServerStats = %v, %v", stats, err)
	}
	if list, err := c.ListCommands(ctx, "", CommandQuery{}); list == nil || len(list) != 0 || err != nil {
		t.Errorf("ListCommands = %v, %v", list, err)
	}
	if _, err := c.InsertCommand(ctx, "t", CommandInsert{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("InsertCommand err = %v", err)
	}
	if _, err := c.SignInWithPassword(ctx, "a", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SignInWithPassword err = %v", err)
	}
	sub, err := c.Subscribe(ctx, "", domain.TableServerStats, "srv1", func(domain.ChangeEvent) {})
	if err != nil {
		t.Fatal(err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestHTTPAuthFlow(t *testing.T) {
	srv, _ := startBackend(t)
	c := NewHTTP(srv.URL, testAnonKey)
	ctx := context.Background()

	session, err := c.SignUp(ctx, "alice@example.com", "password123", "alice")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	user, err := c.GetUser(ctx, session.AccessToken)
	if err != nil || user.ID != session.User.ID {
		t.Fatalf("GetUser = %+v, %v", user, err)
	}

	_, err = c.SignInWithPassword(ctx, "alice@example.com", "wrong-password")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message == "" {
		t.Errorf("bad password err = %v", err)
	}
	if !IsUnauthorized(err) {
		t.Error("IsUnauthorized should match a 401")
	}

	refreshed, err := c.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if err := c.SignOut(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := c.RefreshSession(ctx, refreshed.RefreshToken); !IsUnauthorized(err) {
		t.Errorf("refresh after sign out err = %v", err)
	}

	if _, err := NewHTTP(srv.URL, "wrong").GetUser(ctx, session.AccessToken); !IsUnauthorized(err) {
		t.Errorf("wrong api key err = %v", err)
	}
}

func TestHTTPCommandsAndStats(t *testing.T) {
	srv, store := startBackend(t)
	c := NewHTTP(srv.URL, testAnonKey)
	ctx := context.Background()

	session, err := c.SignUp(ctx, "admin@example.com", "password123", "admin")
	if err != nil {
		t.Fatal(err)
	}
	makeAdmin(t, store, session.User.ID)
	session, err = c.SignInWithPassword(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	stats, err := c.GetServerStats(ctx, session.AccessToken, "srv1")
	if stats != nil || err != nil {
		t.Errorf("missing stats = %v, %v; want nil, nil", stats, err)
	}

	cmd, err := c.InsertCommand(ctx, session.AccessToken, CommandInsert{
		ServerID: "srv1", CommandType: domain.CommandStart, RconCommand: "start", Description: "Start server",
	})
	if err != nil {
		t.Fatalf("InsertCommand: %v", err)
	}
	if cmd.Status != domain.StatusPending || cmd.CreatedBy != session.User.ID {
		t.Errorf("unexpected command %+v", cmd)
	}

	list, err := c.ListCommands(ctx, session.AccessToken, CommandQuery{ServerID: "srv1", Limit: 5})
	if err != nil || len(list) != 1 || list[0].ID != cmd.ID {
		t.Errorf("ListCommands = %+v, %v", list, err)
	}

	var profile domain.Profile
	if err := c.RPC(ctx, session.AccessToken, "sync_user", nil, &profile); err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if profile.UserID != session.User.ID {
		t.Errorf("profile = %+v", profile)
	}
}

func TestHTTPSubscribe(t *testing.T) {
	srv, store := startBackend(t)
	c := NewHTTP(srv.URL, testAnonKey)
	ctx := context.Background()

	session, err := c.SignUp(ctx, "admin@example.com", "password123", "admin")
	if err != nil {
		t.Fatal(err)
	}

	// Non-admins cannot watch the command queue
	if _, err := c.Subscribe(ctx, session.AccessToken, domain.TableServerCommands, "srv1", func(domain.ChangeEvent) {}); err == nil {
		t.Error("expected subscription error for non-admin")
	}

	makeAdmin(t, store, session.User.ID)
	session, err = c.SignInWithPassword(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var events []domain.ChangeEvent
	got := make(chan struct{}, 1)
	sub, err := c.Subscribe(ctx, session.AccessToken, domain.TableServerCommands, "srv1", func(ev domain.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		select {
		case got <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cmd, err := c.InsertCommand(ctx, session.AccessToken, CommandInsert{ServerID: "srv1", CommandType: domain.CommandStop, RconCommand: "quit"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no realtime event received")
	}

	mu.Lock()
	ev := events[0]
	mu.Unlock()
	decoded, err := ev.DecodeCommand()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Event != domain.EventInsert || decoded.Command.ID != cmd.ID {
		t.Errorf("event = %+v", ev)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestRealtimeURL(t *testing.T) {
	c := NewHTTP("https://api.example.com/base/", "k")
	u, err := c.realtimeURL("tok")
	if err != nil {
		t.Fatal(err)
	}
	if u != "wss://api.example.com/base/realtime/v1/websocket?apikey=k&token=tok" {
		t.Errorf("url = %q", u)
	}
}

func TestWorkerPutServerStats(t *testing.T) {
	srv, _ := startBackend(t)
	ctx := context.Background()

	bad := NewWorker(srv.URL, testAnonKey, "wrong")
	err := bad.PutServerStats(ctx, &domain.ServerStats{ServerID: "srv1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong service key: err = %v", err)
	}

	w := NewWorker(srv.URL, testAnonKey, testServiceKey)
	if err := w.PutServerStats(ctx, &domain.ServerStats{ServerID: "srv1", PlayersOnline: 5, MaxPlayers: 12, Map: "q3dm6"}); err != nil {
		t.Fatalf("PutServerStats: %v", err)
	}

	stats, err := NewHTTP(srv.URL, testAnonKey).GetServerStats(ctx, "", "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if stats == nil || stats.PlayersOnline != 5 || stats.Map != "q3dm6" {
		t.Errorf("unexpected stats %+v", stats)
	}
}
