package domain

import "time"

// CommandStatus is the lifecycle state of a queued server command
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusProcessing CommandStatus = "processing"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
	StatusCancelled  CommandStatus = "cancelled"
)

// StatusUnknown is the label shown for any status outside the known set
const StatusUnknown = "unknown"

// Known reports whether s is one of the defined statuses
func (s CommandStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are expected
func (s CommandStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Label returns the display label, "unknown" for out-of-enum values
func (s CommandStatus) Label() string {
	if !s.Known() {
		return StatusUnknown
	}
	return string(s)
}

// Rank orders statuses along the lifecycle: pending < processing < terminal.
// Unknown statuses rank with processing: a worker wrote them after pickup,
// so they replace pending but never a terminal row.
func (s CommandStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 3
	}
	return 2
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Repeating the same status is allowed (workers re-write rows on retry).
func CanTransition(from, to CommandStatus) bool {
	if from == to {
		return from.Known()
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// CommandType identifies the kind of administrative action
type CommandType string

const (
	CommandRestart  CommandType = "restart"
	CommandStop     CommandType = "stop"
	CommandStart    CommandType = "start"
	CommandAnnounce CommandType = "announce"
	CommandMessage  CommandType = "message"
	CommandKick     CommandType = "kick_player"
	CommandBan      CommandType = "ban_player"
	CommandCustom   CommandType = "custom"
)

var commandTypes = map[CommandType]bool{
	CommandRestart: true, CommandStop: true, CommandStart: true,
	CommandAnnounce: true, CommandMessage: true,
	CommandKick: true, CommandBan: true, CommandCustom: true,
}

// Valid reports whether t is a known command type
func (t CommandType) Valid() bool {
	return commandTypes[t]
}

// Destructive reports whether the action interrupts players and needs confirmation
func (t CommandType) Destructive() bool {
	switch t {
	case CommandRestart, CommandStop, CommandKick, CommandBan:
		return true
	}
	return false
}

// DefaultMaxAttempts is used when a command is inserted without an explicit limit
const DefaultMaxAttempts = 3

// Command is a row of the server_commands queue table. Producers only insert;
// status, result, error and executor fields are written by the worker.
type Command struct {
	ID               string         `json:"id"`
	ServerID         string         `json:"server_id"`
	CommandType      CommandType    `json:"command_type"`
	RconCommand      string         `json:"rcon_command"`
	Description      string         `json:"description"`
	Params           map[string]any `json:"params"`
	Status           CommandStatus  `json:"status"`
	Result           *string        `json:"result"`
	ErrorMessage     *string        `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	CreatedBy        string         `json:"created_by"`
	AttemptCount     int            `json:"attempt_count"`
	MaxAttempts      int            `json:"max_attempts"`
	ExecutorHostname *string        `json:"executor_hostname"`
	ExecutorPID      *int           `json:"executor_pid"`
}

// Duration returns the elapsed run time of the command.
// For in-flight commands it runs up to now, so callers must pass the current
// time on every render. ok is false when the command has not started.
func (c *Command) Duration(now time.Time) (d time.Duration, ok bool) {
	if c.StartedAt == nil {
		return 0, false
	}
	end := now
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	d = end.Sub(*c.StartedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Clone returns a deep copy so callers can hold rows without sharing maps
func (c Command) Clone() Command {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}
