package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ernie/gamehost/internal/domain"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewBus(Options{})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

type collector struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (c *collector) add(ev domain.ChangeEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) waitFor(t *testing.T, n int) []domain.ChangeEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]domain.ChangeEvent(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events", n)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func mustEvent(t *testing.T, table, serverID string) domain.ChangeEvent {
	t.Helper()
	ev, err := domain.NewChangeEvent(domain.EventUpdate, table, serverID, map[string]string{"server_id": serverID})
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestSubscribeFiltersByServer(t *testing.T) {
	bus := newTestBus(t)

	var one, all collector
	subOne, err := bus.Subscribe(domain.TableServerCommands, "srv1", one.add)
	if err != nil {
		t.Fatal(err)
	}
	defer subOne.Unsubscribe()
	subAll, err := bus.Subscribe(domain.TableServerCommands, "", all.add)
	if err != nil {
		t.Fatal(err)
	}
	defer subAll.Unsubscribe()

	for _, ev := range []domain.ChangeEvent{
		mustEvent(t, domain.TableServerCommands, "srv1"),
		mustEvent(t, domain.TableServerCommands, "srv2"),
		mustEvent(t, domain.TableServerStats, "srv1"),
	} {
		if err := bus.Publish(ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := bus.Flush(); err != nil {
		t.Fatal(err)
	}

	got := all.waitFor(t, 2)
	if len(got) != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", len(got))
	}
	gotOne := one.waitFor(t, 1)
	if gotOne[0].ServerID != "srv1" || gotOne[0].Table != domain.TableServerCommands {
		t.Errorf("unexpected event %+v", gotOne[0])
	}
	time.Sleep(50 * time.Millisecond)
	if one.len() != 1 {
		t.Errorf("filtered subscriber got %d events, want 1", one.len())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := newTestBus(t)

	var c collector
	sub, err := bus.Subscribe(domain.TableServerStats, "srv1", c.add)
	if err != nil {
		t.Fatal(err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	var nilSub *Subscription
	nilSub.Unsubscribe()

	if err := bus.Publish(mustEvent(t, domain.TableServerStats, "srv1")); err != nil {
		t.Fatal(err)
	}
	bus.Flush()
	time.Sleep(50 * time.Millisecond)
	if c.len() != 0 {
		t.Errorf("received %d events after unsubscribe", c.len())
	}
}

func TestSubjectValidation(t *testing.T) {
	tests := []struct {
		table, serverID string
		want            string
		err             error
	}{
		{domain.TableServerCommands, "srv1", "realtime.server_commands.srv1", nil},
		{domain.TableServerStats, "", "realtime.server_stats.*", nil},
		{domain.TableServerStats, "a.b", "", ErrInvalidServerID},
		{domain.TableServerStats, "*", "", ErrInvalidServerID},
		{"users", "srv1", "", ErrUnknownTable},
	}
	for _, tt := range tests {
		got, err := Subject(tt.table, tt.serverID)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("Subject(%q, %q) = %q, %v; want %q, %v", tt.table, tt.serverID, got, err, tt.want, tt.err)
		}
	}
}

func TestPublishRequiresServerID(t *testing.T) {
	bus := newTestBus(t)
	ev := mustEvent(t, domain.TableServerCommands, "")
	if err := bus.Publish(ev); !errors.Is(err, ErrInvalidServerID) {
		t.Errorf("err = %v, want ErrInvalidServerID", err)
	}
}
