// Package tui is the terminal admin console: live server stats, the command
// queue as it changes, and the admin actions that feed it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ernie/gamehost/internal/backend"
	"github.com/ernie/gamehost/internal/commands"
	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/livestatus"
)

const historyLimit = 100

// DataSource is the part of dashboard.Service the console uses
type DataSource interface {
	commands.Creator
	GetServerStats(ctx context.Context, serverID string) (*domain.ServerStats, error)
	GetCommandHistory(ctx context.Context, f dashboard.HistoryFilter) ([]domain.Command, error)
	SubscribeToServerStats(ctx context.Context, serverID string, fn func(domain.ServerStats)) (backend.Subscription, error)
	SubscribeToServerCommands(ctx context.Context, serverID string, fn func(domain.CommandEvent)) (backend.Subscription, error)
}

// Deps wires the console to its data
type Deps struct {
	Data     DataSource
	Poller   *livestatus.Poller
	ServerID string
	Username string
}

type viewMode int

const (
	modeList viewMode = iota
	modeConfirm
	modeForm
)

type (
	statsMsg struct {
		stats *domain.ServerStats
		err   error
	}
	historyMsg struct {
		commands []domain.Command
		err      error
	}
	subscribedMsg struct{ err error }
	statsEventMsg domain.ServerStats
	commandEventMsg domain.CommandEvent
	liveMsg       livestatus.Status
	reportMsg     commands.Report
	tickMsg       time.Time
)

// resources are the background listeners owned by one console run. They are
// shared by every copy of Model so teardown sees all of them.
type resources struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg

	mu     sync.Mutex
	subs   []backend.Subscription
	closed bool
}

func (r *resources) add(sub backend.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.Unsubscribe()
		return
	}
	r.subs = append(r.subs, sub)
}

func (r *resources) close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// send queues a message from a listener goroutine
func (r *resources) send(msg tea.Msg) {
	select {
	case r.events <- msg:
	case <-r.ctx.Done():
	}
}

// Model is the bubbletea model of the console
type Model struct {
	deps Deps
	res  *resources

	stats    *domain.ServerStats
	statsErr error
	histErr  error
	live     *livestatus.Status
	log      *commands.Log
	inflight *commands.InFlight
	toasts   []commands.Toast
	spinner  spinner.Model

	mode    viewMode
	pending *commands.Action
	form    *form

	now    time.Time
	width  int
	height int
}

// New creates a console model. Close must be called once the program exits.
func New(ctx context.Context, deps Deps) Model {
	ctx, cancel := context.WithCancel(ctx)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		deps:     deps,
		res:      &resources{ctx: ctx, cancel: cancel, events: make(chan tea.Msg, 64)},
		log:      commands.NewLog(historyLimit),
		inflight: commands.NewInFlight(),
		spinner:  s,
		now:      time.Now(),
	}
}

// Close unsubscribes from realtime updates and stops the poller. Safe to call more than once.
func (m Model) Close() {
	m.res.close()
}

// Run shows the console until the user quits
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStats(),
		m.fetchHistory(),
		m.subscribe(),
		m.startPoller(),
		m.waitForEvent(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchStats() tea.Cmd {
	ctx, data, id := m.res.ctx, m.deps.Data, m.deps.ServerID
	return func() tea.Msg {
		stats, err := data.GetServerStats(ctx, id)
		return statsMsg{stats: stats, err: err}
	}
}

func (m Model) fetchHistory() tea.Cmd {
	ctx, data, id := m.res.ctx, m.deps.Data, m.deps.ServerID
	return func() tea.Msg {
		list, err := data.GetCommandHistory(ctx, dashboard.HistoryFilter{ServerID: id, Limit: historyLimit})
		return historyMsg{commands: list, err: err}
	}
}

func (m Model) subscribe() tea.Cmd {
	res, data, id := m.res, m.deps.Data, m.deps.ServerID
	return func() tea.Msg {
		statsSub, err := data.SubscribeToServerStats(res.ctx, id, func(s domain.ServerStats) {
			res.send(statsEventMsg(s))
		})
		res.add(statsSub)
		if err != nil {
			return subscribedMsg{err: err}
		}
		cmdSub, err := data.SubscribeToServerCommands(res.ctx, id, func(ev domain.CommandEvent) {
			res.send(commandEventMsg(ev))
		})
		res.add(cmdSub)
		return subscribedMsg{err: err}
	}
}

func (m Model) startPoller() tea.Cmd {
	if m.deps.Poller == nil {
		return nil
	}
	res, poller := m.res, m.deps.Poller
	return func() tea.Msg {
		go poller.Run(res.ctx, func(s livestatus.Status, err error) {
			if err == nil {
				res.send(liveMsg(s))
			}
		})
		return nil
	}
}

func (m Model) waitForEvent() tea.Cmd {
	res := m.res
	return func() tea.Msg {
		select {
		case msg := <-res.events:
			return msg
		case <-res.ctx.Done():
			return nil
		}
	}
}

func (m Model) execute(action commands.Action) tea.Cmd {
	if !m.inflight.Start(action.Key()) {
		return nil
	}
	ctx, data, id := m.res.ctx, m.deps.Data, m.deps.ServerID
	run := func() tea.Msg {
		return reportMsg(commands.Execute(ctx, data, id, action))
	}
	return tea.Batch(run, m.spinner.Tick)
}

func (m *Model) toast(kind commands.ToastKind, msg string) {
	m.toasts = append(m.toasts, commands.Toast{Kind: kind, Message: msg, ExpiresAt: m.now.Add(commands.ToastDuration)})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statsMsg:
		m.statsErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
		}
		return m, nil

	case historyMsg:
		m.histErr = msg.err
		if msg.err == nil {
			m.log.Load(msg.commands)
		}
		return m, nil

	case subscribedMsg:
		if msg.err != nil {
			m.toast(commands.ToastError, "Live updates unavailable: "+commands.ErrorMessage(msg.err))
		}
		return m, nil

	case statsEventMsg:
		s := domain.ServerStats(msg)
		m.stats = &s
		m.statsErr = nil
		return m, m.waitForEvent()

	case commandEventMsg:
		m.log.Apply(domain.CommandEvent(msg))
		return m, m.waitForEvent()

	case liveMsg:
		s := livestatus.Status(msg)
		m.live = &s
		return m, m.waitForEvent()

	case reportMsg:
		r := commands.Report(msg)
		m.inflight.Done(r.Action.Key())
		m.toasts = append(m.toasts, r.Toast)
		if r.Command != nil {
			m.log.Apply(domain.CommandEvent{Event: domain.EventInsert, Command: *r.Command})
		}
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		kept := m.toasts[:0]
		for _, t := range m.toasts {
			if !t.Expired(m.now) {
				kept = append(kept, t)
			}
		}
		m.toasts = kept
		return m, tick()

	case spinner.TickMsg:
		if !m.inflight.Any() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.mode == modeForm {
		return m, m.form.update(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.res.close()
		return m, tea.Quit
	}

	switch m.mode {
	case modeConfirm:
		switch msg.String() {
		case "y", "enter":
			action := *m.pending
			m.pending = nil
			m.mode = modeList
			return m, m.execute(action)
		case "n", "esc":
			m.pending = nil
			m.mode = modeList
		}
		return m, nil

	case modeForm:
		switch msg.String() {
		case "esc":
			m.form = nil
			m.mode = modeList
			return m, nil
		case "tab", "down":
			return m, m.form.next()
		case "enter":
			action, err := m.form.spec.build(m.form.values())
			if err != nil {
				m.toast(commands.ToastError, commands.ErrorMessage(err))
				return m, nil
			}
			m.form = nil
			m.mode = modeList
			return m.request(action)
		}
		return m, m.form.update(msg)
	}

	switch key := msg.String(); key {
	case "q":
		m.res.close()
		return m, tea.Quit
	case "R":
		return m, tea.Batch(m.fetchStats(), m.fetchHistory())
	case "r":
		return m.request(commands.Restart())
	case "x":
		return m.request(commands.Stop())
	case "s":
		return m.request(commands.Start())
	default:
		if spec, ok := formSpecs[key]; ok {
			m.form = newForm(spec)
			m.mode = modeForm
			return m, textinput.Blink
		}
	}
	return m, nil
}

// request runs action, asking for confirmation first when it is destructive
func (m Model) request(action commands.Action) (tea.Model, tea.Cmd) {
	if action.Type.Destructive() {
		m.pending = &action
		m.mode = modeConfirm
		return m, nil
	}
	return m, m.execute(action)
}

func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render("gamehost · " + m.deps.ServerID)
	if m.live != nil && m.live.Live {
		title += " " + liveStyle.Render("● LIVE")
	}
	if m.deps.Username != "" {
		title += " " + dimStyle.Render("signed in as "+m.deps.Username)
	}
	b.WriteString(title + "\n")
	b.WriteString(m.statsView() + "\n")

	switch m.mode {
	case modeConfirm:
		b.WriteString(m.confirmView() + "\n")
	case modeForm:
		b.WriteString(m.form.view() + "\n")
	default:
		b.WriteString(m.commandsView() + "\n")
	}

	for _, t := range m.toasts {
		if t.Kind == commands.ToastError {
			b.WriteString(toastErrorStyle.Render(t.Message) + "\n")
		} else {
			b.WriteString(toastSuccessStyle.Render(t.Message) + "\n")
		}
	}
	b.WriteString(m.helpView())
	return b.String()
}

func (m Model) statsView() string {
	if m.statsErr != nil {
		return errorStyle.Render("Failed to load server stats: " + commands.ErrorMessage(m.statsErr))
	}
	s := m.stats
	if s == nil {
		return statsStyle.Render(dimStyle.Render("No stats reported yet"))
	}
	rcon := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("rcon ok")
	if !s.RconConnected {
		rcon = errorStyle.Render("rcon down")
		if s.LastRconError != nil {
			rcon += dimStyle.Render(" (" + *s.LastRconError + ")")
		}
	}
	line := fmt.Sprintf("%d/%d players  map %s  %s  v%s  %s",
		s.PlayersOnline, s.MaxPlayers, s.Map, s.GameMode, s.Version, rcon)
	if !s.UpdatedAt.IsZero() {
		line += dimStyle.Render("  updated " + m.ago(s.UpdatedAt))
	}
	return statsStyle.Render(line)
}

func (m Model) commandsView() string {
	if m.histErr != nil {
		return errorStyle.Render("Failed to load command history: " + commands.ErrorMessage(m.histErr))
	}
	list := m.log.Commands()
	if len(list) == 0 {
		return dimStyle.Render("No commands yet")
	}

	rows := len(list)
	if m.height > 0 {
		if limit := m.height - 12; limit > 0 && limit < rows {
			rows = limit
		}
	}

	var b strings.Builder
	for _, c := range list[:rows] {
		dur := ""
		if d, ok := c.Duration(m.now); ok {
			dur = d.Round(time.Second).String()
		}
		desc := c.Description
		if desc == "" {
			desc = c.RconCommand
		}
		fmt.Fprintf(&b, "%s  %s %-14s %-40s %8s\n",
			dimStyle.Render(c.CreatedAt.Local().Format("15:04:05")),
			badge(c.Status),
			commands.TypeLabel(c.CommandType),
			truncate(desc, 40),
			dur)
		if c.ErrorMessage != nil && *c.ErrorMessage != "" {
			b.WriteString("          " + errorStyle.Render(*c.ErrorMessage) + "\n")
		}
	}
	return b.String()
}

func (m Model) confirmView() string {
	a := m.pending
	body := fmt.Sprintf("%s on %s?\n\n%s\n\n%s  %s",
		a.Description, m.deps.ServerID,
		dimStyle.Render(a.RconCommand),
		helpItem("y", "confirm"), helpItem("n", "cancel"))
	return modalStyle.Render(body)
}

func (m Model) helpView() string {
	items := []struct{ key, desc, action string }{
		{"r", "restart", string(domain.CommandRestart)},
		{"x", "stop", string(domain.CommandStop)},
		{"s", "start", string(domain.CommandStart)},
		{"a", "announce", string(domain.CommandAnnounce)},
		{"m", "message", string(domain.CommandMessage)},
		{"k", "kick", string(domain.CommandKick)},
		{"b", "ban", string(domain.CommandBan)},
		{"c", "custom", string(domain.CommandCustom)},
		{"R", "refresh", ""},
		{"q", "quit", ""},
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		p := helpItem(it.key, it.desc)
		if it.action != "" && m.inflight.Active(it.action) {
			p = m.spinner.View() + p
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, dimStyle.Render(" • "))
}

func (m Model) ago(t time.Time) string {
	d := m.now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}

func helpItem(key, desc string) string {
	return keyStyle.Render(key) + " " + descStyle.Render(desc)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
