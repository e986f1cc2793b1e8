package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ernie/gamehost/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullString(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanNullInt64ToIntPtr(ni sql.NullInt64) *int {
	if ni.Valid {
		v := int(ni.Int64)
		return &v
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user row from the database
func scanUser(s scanner) (*User, error) {
	var user User
	var email, passwordHash, steamID, discordID, lastLogin sql.NullString
	var createdAt string
	err := s.Scan(&user.ID, &email, &user.Username, &passwordHash, &user.Provider,
		&steamID, &discordID, &user.AvatarURL, &user.IsAdmin, &createdAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.Email = scanNullStringValue(email)
	user.PasswordHash = scanNullStringValue(passwordHash)
	user.SteamID = scanNullString(steamID)
	user.DiscordID = scanNullString(discordID)
	if user.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if user.LastLogin, err = scanNullTime(lastLogin); err != nil {
		return nil, err
	}
	return &user, nil
}

// scanProfile scans a profile row from the database
func scanProfile(s scanner) (*domain.Profile, error) {
	var p domain.Profile
	var steamID, discordID, lastSynced sql.NullString
	var createdAt string
	err := s.Scan(&p.UserID, &p.Username, &p.AvatarURL, &steamID, &discordID, &p.Bio, &lastSynced, &createdAt)
	if err != nil {
		return nil, err
	}
	p.SteamID = scanNullString(steamID)
	p.DiscordID = scanNullString(discordID)
	if p.LastSyncedAt, err = scanNullTime(lastSynced); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

const commandColumns = `id, server_id, command_type, rcon_command, description, params, status,
	result, error_message, created_at, started_at, completed_at, created_by,
	attempt_count, max_attempts, executor_hostname, executor_pid`

// scanCommand scans a server_commands row
func scanCommand(s scanner) (*domain.Command, error) {
	var c domain.Command
	var params string
	var result, errMsg, startedAt, completedAt, hostname sql.NullString
	var createdAt string
	var pid sql.NullInt64

	err := s.Scan(&c.ID, &c.ServerID, &c.CommandType, &c.RconCommand, &c.Description, &params, &c.Status,
		&result, &errMsg, &createdAt, &startedAt, &completedAt, &c.CreatedBy,
		&c.AttemptCount, &c.MaxAttempts, &hostname, &pid)
	if err != nil {
		return nil, err
	}

	if params != "" {
		if err := json.Unmarshal([]byte(params), &c.Params); err != nil {
			return nil, err
		}
	}
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	c.Result = scanNullString(result)
	c.ErrorMessage = scanNullString(errMsg)
	c.ExecutorHostname = scanNullString(hostname)
	c.ExecutorPID = scanNullInt64ToIntPtr(pid)
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if c.StartedAt, err = scanNullTime(startedAt); err != nil {
		return nil, err
	}
	if c.CompletedAt, err = scanNullTime(completedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

const statsColumns = `server_id, players_online, max_players, map, game_mode, version, rcon_connected,
	last_rcon_error, sync_interval_seconds, game_data, players, updated_at`

// scanStats scans a server_stats row
func scanStats(s scanner) (*domain.ServerStats, error) {
	var st domain.ServerStats
	var lastErr sql.NullString
	var gameData, players, updatedAt string

	err := s.Scan(&st.ServerID, &st.PlayersOnline, &st.MaxPlayers, &st.Map, &st.GameMode, &st.Version,
		&st.RconConnected, &lastErr, &st.SyncIntervalSeconds, &gameData, &players, &updatedAt)
	if err != nil {
		return nil, err
	}

	st.LastRconError = scanNullString(lastErr)
	if err := json.Unmarshal([]byte(gameData), &st.GameData); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(players), &st.Players); err != nil {
		return nil, err
	}
	if st.Players == nil {
		st.Players = []domain.PlayerInfo{}
	}
	if st.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}
