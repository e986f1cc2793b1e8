package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/google/uuid"
)

// CommandFilter selects rows from the command history
type CommandFilter struct {
	ServerID string
	Status   domain.CommandStatus
	Limit    int
}

// InsertCommand queues a new command. ID, status, timestamps and attempt
// counters are assigned here regardless of what the caller supplied.
func (s *Store) InsertCommand(ctx context.Context, cmd *domain.Command, maxAttempts int) error {
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	cmd.ID = uuid.NewString()
	cmd.Params = params
	cmd.Status = domain.StatusPending
	cmd.CreatedAt = s.now().UTC()
	cmd.StartedAt = nil
	cmd.CompletedAt = nil
	cmd.Result = nil
	cmd.ErrorMessage = nil
	cmd.AttemptCount = 0
	cmd.MaxAttempts = maxAttempts
	cmd.ExecutorHostname = nil
	cmd.ExecutorPID = nil

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO server_commands (id, server_id, command_type, rcon_command, description, params,
			status, created_at, created_by, attempt_count, max_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, cmd.ID, cmd.ServerID, string(cmd.CommandType), cmd.RconCommand, cmd.Description, string(data),
		string(cmd.Status), formatTimestamp(cmd.CreatedAt), cmd.CreatedBy, cmd.MaxAttempts)
	return err
}

// GetCommand returns a command by ID
func (s *Store) GetCommand(ctx context.Context, id string) (*domain.Command, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM server_commands WHERE id = ?", id)
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cmd, err
}

// ListCommands returns commands newest first
func (s *Store) ListCommands(ctx context.Context, f CommandFilter) ([]domain.Command, error) {
	var where []string
	var args []any
	if f.ServerID != "" {
		where = append(where, "server_id = ?")
		args = append(args, f.ServerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT " + commandColumns + " FROM server_commands"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := []domain.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}
	return commands, rows.Err()
}

// ClaimCommand moves the oldest pending command to processing on behalf of a
// worker. Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimCommand(ctx context.Context, serverID, hostname string, pid int) (*domain.Command, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := "SELECT id FROM server_commands WHERE status = ?"
	args := []any{string(domain.StatusPending)}
	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}
	query += " ORDER BY created_at, id LIMIT 1"

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE server_commands
		SET status = ?, started_at = ?, attempt_count = attempt_count + 1,
			executor_hostname = ?, executor_pid = ?
		WHERE id = ?
	`, string(domain.StatusProcessing), formatTimestamp(s.now()), nullString(hostname), pid, id)
	if err != nil {
		return nil, err
	}

	cmd, err := scanCommand(tx.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM server_commands WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	return cmd, tx.Commit()
}

// CommandUpdate is a worker-reported change to a command
type CommandUpdate struct {
	Status           domain.CommandStatus `json:"status"`
	Result           *string              `json:"result,omitempty"`
	ErrorMessage     *string              `json:"error_message,omitempty"`
	AttemptCount     *int                 `json:"attempt_count,omitempty"`
	ExecutorHostname *string              `json:"executor_hostname,omitempty"`
	ExecutorPID      *int                 `json:"executor_pid,omitempty"`
}

// UpdateCommand applies a worker update. completed_at is set exactly when the
// new status is terminal, and started_at is filled the first time a command
// enters processing. With enforce set, illegal transitions are rejected with
// ErrIllegalTransition; otherwise any status is stored as reported.
func (s *Store) UpdateCommand(ctx context.Context, id string, upd CommandUpdate, enforce bool) (*domain.Command, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanCommand(tx.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM server_commands WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if enforce && !domain.CanTransition(current.Status, upd.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, upd.Status)
	}

	now := formatTimestamp(s.now())
	var completedAt sql.NullString
	if upd.Status.IsTerminal() {
		completedAt = sql.NullString{String: now, Valid: true}
		if current.CompletedAt != nil {
			completedAt.String = formatTimestamp(*current.CompletedAt)
		}
	}
	startedAt := sql.NullString{}
	if current.StartedAt != nil {
		startedAt = sql.NullString{String: formatTimestamp(*current.StartedAt), Valid: true}
	} else if upd.Status == domain.StatusProcessing || upd.Status.IsTerminal() {
		startedAt = sql.NullString{String: now, Valid: true}
	}

	result := current.Result
	if upd.Result != nil {
		result = upd.Result
	}
	errMsg := current.ErrorMessage
	if upd.ErrorMessage != nil {
		errMsg = upd.ErrorMessage
	}
	attempts := current.AttemptCount
	if upd.AttemptCount != nil {
		attempts = *upd.AttemptCount
	}
	hostname := current.ExecutorHostname
	if upd.ExecutorHostname != nil {
		hostname = upd.ExecutorHostname
	}
	pid := current.ExecutorPID
	if upd.ExecutorPID != nil {
		pid = upd.ExecutorPID
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE server_commands
		SET status = ?, result = ?, error_message = ?, started_at = ?, completed_at = ?,
			attempt_count = ?, executor_hostname = ?, executor_pid = ?
		WHERE id = ?
	`, string(upd.Status), result, errMsg, startedAt, completedAt, attempts, hostname, pid, id)
	if err != nil {
		return nil, err
	}

	updated, err := scanCommand(tx.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM server_commands WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	return updated, tx.Commit()
}

// CountCommandsByStatus returns queue depth per status
func (s *Store) CountCommandsByStatus(ctx context.Context) (map[domain.CommandStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM server_commands GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.CommandStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.CommandStatus(status)] = n
	}
	return counts, rows.Err()
}
