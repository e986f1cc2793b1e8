package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/commands"
	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
)

type fakeData struct {
	mu       sync.Mutex
	created  []dashboard.NewCommand
	unsubs   int
	statsFn  func(domain.ServerStats)
	eventsFn func(domain.CommandEvent)
}

func (f *fakeData) CreateServerCommand(ctx context.Context, serverID string, cmd dashboard.NewCommand) (*domain.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, cmd)
	return &domain.Command{ID: "new", ServerID: serverID, CommandType: cmd.Type, Description: cmd.Description, Status: domain.StatusPending, CreatedAt: time.Now()}, nil
}

func (f *fakeData) GetServerStats(ctx context.Context, serverID string) (*domain.ServerStats, error) {
	return &domain.ServerStats{ServerID: serverID, PlayersOnline: 3, MaxPlayers: 16, Map: "q3dm17", RconConnected: true}, nil
}

func (f *fakeData) GetCommandHistory(ctx context.Context, filter dashboard.HistoryFilter) ([]domain.Command, error) {
	return []domain.Command{{ID: "old", ServerID: filter.ServerID, CommandType: domain.CommandRestart, Status: domain.StatusCompleted}}, nil
}

func (f *fakeData) unsubscribe() {
	f.mu.Lock()
	f.unsubs++
	f.mu.Unlock()
}

func (f *fakeData) SubscribeToServerStats(ctx context.Context, serverID string, fn func(domain.ServerStats)) (backend.Subscription, error) {
	f.mu.Lock()
	f.statsFn = fn
	f.mu.Unlock()
	return unsub(f.unsubscribe), nil
}

func (f *fakeData) SubscribeToServerCommands(ctx context.Context, serverID string, fn func(domain.CommandEvent)) (backend.Subscription, error) {
	f.mu.Lock()
	f.eventsFn = fn
	f.mu.Unlock()
	return unsub(f.unsubscribe), nil
}

type unsub func()

func (u unsub) Unsubscribe() { u() }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

// runReport executes the batch returned for an action and feeds back the report
func runReport(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatal("expected a batch")
	}
	for _, c := range batch {
		if msg, ok := c().(reportMsg); ok {
			m, _ = update(t, m, msg)
			return m
		}
	}
	t.Fatal("no report in batch")
	return m
}

func newModel(t *testing.T) (Model, *fakeData) {
	t.Helper()
	data := &fakeData{}
	m := New(context.Background(), Deps{Data: data, ServerID: "srv1"})
	t.Cleanup(m.Close)
	return m, data
}

func TestInitialLoad(t *testing.T) {
	m, _ := newModel(t)
	m, _ = update(t, m, m.fetchStats()())
	m, _ = update(t, m, m.fetchHistory()())

	view := m.View()
	if !strings.Contains(view, "3/16 players") || !strings.Contains(view, "q3dm17") {
		t.Errorf("stats missing from view:\n%s", view)
	}
	if m.log.Len() != 1 {
		t.Errorf("history rows = %d", m.log.Len())
	}
}

func TestRealtimeEventsUpdateList(t *testing.T) {
	m, data := newModel(t)
	m, _ = update(t, m, m.fetchHistory()())
	if msg := m.subscribe()(); msg.(subscribedMsg).err != nil {
		t.Fatal(msg)
	}

	go data.eventsFn(domain.CommandEvent{Event: domain.EventUpdate, Command: domain.Command{ID: "odd", CreatedAt: time.Now(), Status: domain.CommandStatus("exploded")}})
	msg := m.waitForEvent()()
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Error("event listener not re-armed")
	}
	if m.log.Len() != 2 {
		t.Fatalf("rows = %d, want 2", m.log.Len())
	}
	if !strings.Contains(m.View(), "unknown") {
		t.Error("out-of-enum status should render as unknown")
	}
}

func TestDestructiveActionNeedsConfirmation(t *testing.T) {
	m, data := newModel(t)

	m, cmd := update(t, m, key("r"))
	if m.mode != modeConfirm || cmd != nil {
		t.Fatalf("restart should open confirmation, mode=%v", m.mode)
	}
	m, _ = update(t, m, key("n"))
	if m.mode != modeList || len(data.created) != 0 {
		t.Fatal("cancel should return to list without sending")
	}

	m, _ = update(t, m, key("r"))
	m, cmd = update(t, m, key("y"))
	if !m.inflight.Active(string(domain.CommandRestart)) {
		t.Error("restart should be in flight")
	}
	m = runReport(t, m, cmd)

	if len(data.created) != 1 || data.created[0].Type != domain.CommandRestart {
		t.Fatalf("created = %+v", data.created)
	}
	if m.inflight.Any() {
		t.Error("in-flight flag not cleared")
	}
	if len(m.toasts) != 1 || m.toasts[0].Kind != commands.ToastSuccess {
		t.Errorf("toasts = %+v", m.toasts)
	}
	if _, ok := m.log.Get("new"); !ok {
		t.Error("queued command not shown")
	}
}

func TestInFlightActionIsNotResent(t *testing.T) {
	m, _ := newModel(t)
	m, first := update(t, m, key("s"))
	if first == nil {
		t.Fatal("start should execute without confirmation")
	}
	m, second := update(t, m, key("s"))
	if second != nil {
		t.Error("second start sent while the first is in flight")
	}
	if !strings.Contains(m.helpView(), m.spinner.View()) {
		t.Error("spinner missing next to the busy action")
	}
}

func TestAnnounceForm(t *testing.T) {
	m, data := newModel(t)

	m, _ = update(t, m, key("a"))
	if m.mode != modeForm {
		t.Fatal("announce should open a form")
	}
	m, _ = update(t, m, key("enter"))
	if m.mode != modeForm || len(m.toasts) != 1 || m.toasts[0].Kind != commands.ToastError {
		t.Fatalf("empty form should stay open with an error toast, toasts=%+v", m.toasts)
	}
	if len(data.created) != 0 {
		t.Fatal("validation failure must not send")
	}

	m = typeText(t, m, "hello")
	m, cmd := update(t, m, key("enter"))
	if m.mode != modeList {
		t.Error("form should close after sending")
	}
	runReport(t, m, cmd)
	if len(data.created) != 1 || data.created[0].RconCommand != "announce hello" {
		t.Errorf("created = %+v", data.created)
	}
}

func TestKickFormThenConfirm(t *testing.T) {
	m, data := newModel(t)
	m, _ = update(t, m, key("k"))
	m = typeText(t, m, "bob")
	m, _ = update(t, m, key("tab"))
	m = typeText(t, m, "afk")
	m, _ = update(t, m, key("enter"))
	if m.mode != modeConfirm || m.pending.RconCommand != "kick bob" {
		t.Fatalf("kick should ask for confirmation, mode=%v", m.mode)
	}
	m, cmd := update(t, m, key("enter"))
	runReport(t, m, cmd)
	if len(data.created) != 1 || data.created[0].Params["reason"] != "afk" {
		t.Errorf("created = %+v", data.created)
	}
}

func TestToastsExpire(t *testing.T) {
	m, _ := newModel(t)
	m.toast(commands.ToastSuccess, "done")
	m, _ = update(t, m, tickMsg(m.now.Add(3*time.Second)))
	if len(m.toasts) != 1 {
		t.Fatal("toast expired early")
	}
	m, _ = update(t, m, tickMsg(m.now.Add(2*time.Second)))
	if len(m.toasts) != 0 {
		t.Error("toast not dismissed after 4s")
	}
}

func TestQuitTearsDown(t *testing.T) {
	m, data := newModel(t)
	m.subscribe()()

	_, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if data.unsubs != 2 {
		t.Errorf("unsubs = %d, want 2", data.unsubs)
	}
	if m.res.ctx.Err() == nil {
		t.Error("context not cancelled on quit")
	}

	// Subscriptions that land after teardown are released at once
	m.subscribe()()
	if data.unsubs != 4 {
		t.Errorf("late subscriptions not released, unsubs = %d", data.unsubs)
	}
	m.Close()
}
