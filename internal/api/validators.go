package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxUsernameLength   = 32
	maxBioLength        = 500
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseCommandFilter reads server_id, status and limit from the query string
func parseCommandFilter(r *http.Request) (storage.CommandFilter, error) {
	q := r.URL.Query()
	f := storage.CommandFilter{
		ServerID: q.Get("server_id"),
		Status:   domain.CommandStatus(q.Get("status")),
		Limit:    parseLimit(r, defaultHistoryLimit, maxHistoryLimit),
	}
	if f.ServerID != "" && !realtime.ValidServerID(f.ServerID) {
		return f, errors.New("invalid server id")
	}
	if f.Status != "" && !f.Status.Known() {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	return f, nil
}

func validateCreateCommand(body CreateCommandRequest) error {
	if !realtime.ValidServerID(body.ServerID) {
		return errors.New("invalid server id")
	}
	if !body.CommandType.Valid() {
		return fmt.Errorf("invalid command type %q", body.CommandType)
	}
	if strings.TrimSpace(body.RconCommand) == "" {
		return errors.New("rcon_command is required")
	}
	return nil
}

func validateProfileUpdate(body domain.ProfileUpdate) error {
	if body.Username != nil {
		name := strings.TrimSpace(*body.Username)
		if name == "" {
			return errors.New("username cannot be empty")
		}
		if utf8.RuneCountInString(name) > maxUsernameLength {
			return fmt.Errorf("username must be at most %d characters", maxUsernameLength)
		}
	}
	if body.Bio != nil && utf8.RuneCountInString(*body.Bio) > maxBioLength {
		return fmt.Errorf("bio must be at most %d characters", maxBioLength)
	}
	return nil
}
