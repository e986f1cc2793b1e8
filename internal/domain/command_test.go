package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCommandStatusLabel(t *testing.T) {
	tests := []struct {
		status CommandStatus
		want   string
	}{
		{StatusPending, "pending"},
		{StatusProcessing, "processing"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCancelled, "cancelled"},
		{CommandStatus("exploded"), "unknown"},
		{CommandStatus(""), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.Label(); got != tt.want {
			t.Errorf("Label(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CommandStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusCancelled, true},
		{CommandStatus("weird"), StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCommandDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cmd := Command{}
	if _, ok := cmd.Duration(start); ok {
		t.Error("Expected no duration for a command that has not started")
	}

	cmd.StartedAt = &start
	if d, ok := cmd.Duration(start.Add(3 * time.Second)); !ok || d != 3*time.Second {
		t.Errorf("Expected 3s running duration, got %v (ok=%v)", d, ok)
	}
	// Recomputed against a later now, the running duration ticks forward
	if d, _ := cmd.Duration(start.Add(7 * time.Second)); d != 7*time.Second {
		t.Errorf("Expected 7s running duration, got %v", d)
	}

	done := start.Add(5 * time.Second)
	cmd.CompletedAt = &done
	if d, _ := cmd.Duration(start.Add(time.Hour)); d != 5*time.Second {
		t.Errorf("Expected completed duration 5s regardless of now, got %v", d)
	}
}

func TestCommandClone(t *testing.T) {
	cmd := Command{ID: "a", Params: map[string]any{"message": "hi"}}
	c := cmd.Clone()
	c.Params["message"] = "changed"
	if cmd.Params["message"] != "hi" {
		t.Error("Clone shares the params map with the original")
	}
}

func TestCommandTypeValid(t *testing.T) {
	for _, ct := range []CommandType{CommandRestart, CommandStop, CommandStart, CommandAnnounce, CommandMessage, CommandKick, CommandBan, CommandCustom} {
		if !ct.Valid() {
			t.Errorf("Expected %s to be valid", ct)
		}
	}
	if CommandType("format_disk").Valid() {
		t.Error("Expected unknown command type to be invalid")
	}
	if !CommandBan.Destructive() || CommandAnnounce.Destructive() {
		t.Error("Unexpected destructive classification")
	}
}

func TestChangeEventDecodeCommand(t *testing.T) {
	result := "ok"
	ev, err := NewChangeEvent(EventUpdate, TableServerCommands, "srv1", Command{
		ID: "c1", ServerID: "srv1", Status: StatusCompleted, Result: &result,
	})
	if err != nil {
		t.Fatalf("NewChangeEvent: %v", err)
	}

	data, _ := json.Marshal(ev)
	var wire ChangeEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	decoded, err := wire.DecodeCommand()
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if decoded.Event != EventUpdate || decoded.Command.ID != "c1" || decoded.Command.Status != StatusCompleted {
		t.Errorf("Unexpected decoded event: %+v", decoded)
	}
	if decoded.Command.Result == nil || *decoded.Command.Result != "ok" {
		t.Errorf("Expected result ok, got %v", decoded.Command.Result)
	}
}
