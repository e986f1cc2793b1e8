package domain

import "encoding/json"

// Tables that publish realtime change events
const (
	TableServerCommands = "server_commands"
	TableServerStats    = "server_stats"
)

// Change event types
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is a row change delivered to realtime subscribers
type ChangeEvent struct {
	Event    string          `json:"event"`
	Table    string          `json:"table"`
	ServerID string          `json:"server_id"`
	Row      json.RawMessage `json:"row"`
}

// CommandEvent is a decoded change on the server_commands table
type CommandEvent struct {
	Event   string  `json:"event"`
	Command Command `json:"row"`
}

// StatsEvent is a decoded change on the server_stats table
type StatsEvent struct {
	Event string      `json:"event"`
	Stats ServerStats `json:"row"`
}

// NewChangeEvent encodes row into a change event
func NewChangeEvent(event, table, serverID string, row any) (ChangeEvent, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Event: event, Table: table, ServerID: serverID, Row: data}, nil
}

// DecodeCommand decodes the row of a server_commands change
func (e ChangeEvent) DecodeCommand() (CommandEvent, error) {
	var cmd Command
	if err := json.Unmarshal(e.Row, &cmd); err != nil {
		return CommandEvent{}, err
	}
	return CommandEvent{Event: e.Event, Command: cmd}, nil
}

// DecodeStats decodes the row of a server_stats change
func (e ChangeEvent) DecodeStats() (StatsEvent, error) {
	var stats ServerStats
	if err := json.Unmarshal(e.Row, &stats); err != nil {
		return StatsEvent{}, err
	}
	return StatsEvent{Event: e.Event, Stats: stats}, nil
}
