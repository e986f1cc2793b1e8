package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ernie/gamehost/internal/dashboard"
	"github.com/ernie/gamehost/internal/domain"
)

// ValidationError reports a missing or bad action parameter
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Action is everything needed to queue one admin command
type Action struct {
	Type        domain.CommandType
	RconCommand string
	Description string
	Params      map[string]any
}

// Key identifies the action for in-flight tracking
func (a Action) Key() string {
	return string(a.Type)
}

// Label is a short human name for toasts and buttons
func (a Action) Label() string {
	return TypeLabel(a.Type)
}

// NewCommand converts the action into a data-access insert
func (a Action) NewCommand() dashboard.NewCommand {
	return dashboard.NewCommand{
		Type:        a.Type,
		RconCommand: a.RconCommand,
		Description: a.Description,
		Params:      a.Params,
	}
}

// TypeLabel returns the display name of a command type
func TypeLabel(t domain.CommandType) string {
	switch t {
	case domain.CommandRestart:
		return "Restart"
	case domain.CommandStop:
		return "Stop"
	case domain.CommandStart:
		return "Start"
	case domain.CommandAnnounce:
		return "Announcement"
	case domain.CommandMessage:
		return "Message"
	case domain.CommandKick:
		return "Kick"
	case domain.CommandBan:
		return "Ban"
	case domain.CommandCustom:
		return "Custom command"
	}
	return string(t)
}

func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &ValidationError{Field: field, Message: field + " is required"}
	}
	return v, nil
}

// quoteArg quotes a console argument when it contains whitespace or quotes
func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

// Restart restarts the game server
func Restart() Action {
	return Action{Type: domain.CommandRestart, RconCommand: "restart", Description: "Restart server", Params: map[string]any{}}
}

// Stop stops the game server
func Stop() Action {
	return Action{Type: domain.CommandStop, RconCommand: "stop", Description: "Stop server", Params: map[string]any{}}
}

// Start starts the game server
func Start() Action {
	return Action{Type: domain.CommandStart, RconCommand: "start", Description: "Start server", Params: map[string]any{}}
}

// Announce broadcasts a message to everyone on the server
func Announce(message string) (Action, error) {
	msg, err := required("message", message)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Type:        domain.CommandAnnounce,
		RconCommand: "announce " + msg,
		Description: "Send announcement",
		Params:      map[string]any{"message": msg},
	}, nil
}

// Message sends a private message to one player
func Message(player, message string) (Action, error) {
	p, err := required("player", player)
	if err != nil {
		return Action{}, err
	}
	msg, err := required("message", message)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Type:        domain.CommandMessage,
		RconCommand: "tell " + quoteArg(p) + " " + msg,
		Description: fmt.Sprintf("Message %s", p),
		Params:      map[string]any{"player": p, "message": msg},
	}, nil
}

// Kick removes a player from the server
func Kick(player, reason string) (Action, error) {
	p, err := required("player", player)
	if err != nil {
		return Action{}, err
	}
	params := map[string]any{"player": p}
	desc := fmt.Sprintf("Kick %s", p)
	if r := strings.TrimSpace(reason); r != "" {
		params["reason"] = r
		desc += ": " + r
	}
	return Action{
		Type:        domain.CommandKick,
		RconCommand: "kick " + quoteArg(p),
		Description: desc,
		Params:      params,
	}, nil
}

// Ban bans a player. A reason is required so the ban list stays auditable.
func Ban(player, reason string) (Action, error) {
	p, err := required("player", player)
	if err != nil {
		return Action{}, err
	}
	r, err := required("reason", reason)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Type:        domain.CommandBan,
		RconCommand: "ban " + quoteArg(p),
		Description: fmt.Sprintf("Ban %s: %s", p, r),
		Params:      map[string]any{"player": p, "reason": r},
	}, nil
}

// Custom sends a raw console command
func Custom(command string) (Action, error) {
	cmd, err := required("command", command)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Type:        domain.CommandCustom,
		RconCommand: cmd,
		Description: "Custom command",
		Params:      map[string]any{"command": cmd},
	}, nil
}
