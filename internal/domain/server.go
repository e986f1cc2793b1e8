package domain

import "time"

// ServerStats is the worker's latest snapshot of a game server
type ServerStats struct {
	ServerID            string         `json:"server_id"`
	PlayersOnline       int            `json:"players_online"`
	MaxPlayers          int            `json:"max_players"`
	Map                 string         `json:"map"`
	GameMode            string         `json:"game_mode"`
	Version             string         `json:"version"`
	RconConnected       bool           `json:"rcon_connected"`
	LastRconError       *string        `json:"last_rcon_error"`
	SyncIntervalSeconds int            `json:"sync_interval_seconds"`
	GameData            map[string]any `json:"game_data"`
	Players             []PlayerInfo   `json:"players"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// PlayerInfo represents a player currently on a server
type PlayerInfo struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Ping    int    `json:"ping"`
	Team    string `json:"team,omitempty"`
	SteamID string `json:"steam_id,omitempty"`
}
