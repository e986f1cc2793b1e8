// Package commands holds the client side of the command queue protocol:
// reconciling realtime change events into a local list, building admin
// actions, and the execute-and-report helper every action goes through.
package commands

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/ernie/gamehost/internal/domain"
)

// Reconcile applies one change event to list and returns the new list in
// canonical order (newest created first). INSERT and UPDATE upsert by id,
// DELETE removes. list is not modified.
//
// Two versions of the same row are merged with Newer, so applying any set of
// events in any order yields the same list.
func Reconcile(list []domain.Command, ev domain.CommandEvent) []domain.Command {
	out := make([]domain.Command, 0, len(list)+1)
	found := false
	for _, c := range list {
		if c.ID != ev.Command.ID {
			out = append(out, c)
			continue
		}
		found = true
		if ev.Event == domain.EventDelete {
			continue
		}
		if Newer(ev.Command, c) {
			out = append(out, ev.Command.Clone())
		} else {
			out = append(out, c)
		}
	}
	if !found && ev.Event != domain.EventDelete && ev.Command.ID != "" {
		out = append(out, ev.Command.Clone())
	}
	Sort(out)
	return out
}

// Newer reports whether a should replace b as the current version of a row.
// Rows only move forward through the lifecycle, so the further-along version
// wins; ties fall back to a byte comparison to keep the choice deterministic.
func Newer(a, b domain.Command) bool {
	if ra, rb := a.Status.Rank(), b.Status.Rank(); ra != rb {
		return ra > rb
	}
	if a.AttemptCount != b.AttemptCount {
		return a.AttemptCount > b.AttemptCount
	}
	if c := compareTime(a.StartedAt, b.StartedAt); c != 0 {
		return c > 0
	}
	if c := compareTime(a.CompletedAt, b.CompletedAt); c != 0 {
		return c > 0
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb) > 0
}

func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// Sort orders commands by created_at descending, then id descending
func Sort(list []domain.Command) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// Log is a command list kept current from history loads and realtime events.
// A Log is owned by one goroutine.
//
// Every row seen is retained and the limit only bounds what is presented, so a
// row pushed out by newer ones comes back when those are deleted.
type Log struct {
	items   []domain.Command
	deleted map[string]bool
	limit   int
}

// NewLog creates a log that presents at most limit rows; 0 presents everything
func NewLog(limit int) *Log {
	return &Log{deleted: make(map[string]bool), limit: limit}
}

// Load merges a fetched history page into the log
func (l *Log) Load(history []domain.Command) {
	for _, c := range history {
		l.Apply(domain.CommandEvent{Event: domain.EventInsert, Command: c})
	}
}

// Apply reconciles a single change event. A deleted id stays deleted even if
// an older insert for it arrives later.
func (l *Log) Apply(ev domain.CommandEvent) {
	id := ev.Command.ID
	if ev.Event == domain.EventDelete {
		l.deleted[id] = true
	} else if l.deleted[id] {
		return
	}
	l.items = Reconcile(l.items, ev)
}

// visible is the newest limit rows
func (l *Log) visible() []domain.Command {
	if l.limit > 0 && len(l.items) > l.limit {
		return l.items[:l.limit]
	}
	return l.items
}

// Commands returns a copy of the presented rows in canonical order
func (l *Log) Commands() []domain.Command {
	rows := l.visible()
	out := make([]domain.Command, len(rows))
	copy(out, rows)
	return out
}

// Get returns the presented row with the given id
func (l *Log) Get(id string) (domain.Command, bool) {
	for _, c := range l.visible() {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Command{}, false
}

// Len returns the number of rows presented
func (l *Log) Len() int {
	return len(l.visible())
}
