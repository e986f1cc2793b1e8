package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ernie/gamehost/internal/domain"
)

// UpsertServerStats replaces the snapshot for a server
func (s *Store) UpsertServerStats(ctx context.Context, st *domain.ServerStats) error {
	gameData := st.GameData
	if gameData == nil {
		gameData = map[string]any{}
	}
	players := st.Players
	if players == nil {
		players = []domain.PlayerInfo{}
	}
	gd, err := json.Marshal(gameData)
	if err != nil {
		return fmt.Errorf("encoding game data: %w", err)
	}
	pl, err := json.Marshal(players)
	if err != nil {
		return fmt.Errorf("encoding players: %w", err)
	}
	st.GameData = gameData
	st.Players = players
	st.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO server_stats (server_id, players_online, max_players, map, game_mode, version,
			rcon_connected, last_rcon_error, sync_interval_seconds, game_data, players, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			players_online = excluded.players_online,
			max_players = excluded.max_players,
			map = excluded.map,
			game_mode = excluded.game_mode,
			version = excluded.version,
			rcon_connected = excluded.rcon_connected,
			last_rcon_error = excluded.last_rcon_error,
			sync_interval_seconds = excluded.sync_interval_seconds,
			game_data = excluded.game_data,
			players = excluded.players,
			updated_at = excluded.updated_at
	`, st.ServerID, st.PlayersOnline, st.MaxPlayers, st.Map, st.GameMode, st.Version,
		boolToInt(st.RconConnected), st.LastRconError, st.SyncIntervalSeconds,
		string(gd), string(pl), formatTimestamp(st.UpdatedAt))
	return err
}

// GetServerStats returns the latest snapshot for a server
func (s *Store) GetServerStats(ctx context.Context, serverID string) (*domain.ServerStats, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+statsColumns+" FROM server_stats WHERE server_id = ?", serverID)
	st, err := scanStats(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return st, err
}
