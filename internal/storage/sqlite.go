package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrTokenRevoked      = errors.New("refresh token revoked or expired")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// timestampLayout is fixed width so TEXT columns sort chronologically
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// formatTimestamp converts time.Time to a sortable UTC string
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		// Rows written by hand or older tools may use second precision
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// --- User methods ---

// User is a stored account, including credentials never sent to clients
type User struct {
	domain.User
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

const userColumns = `id, email, username, password_hash, provider, steam_id, discord_id, avatar_url, is_admin, created_at, last_login`

// CreateUser inserts a new user and assigns its ID
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Provider == "" {
		u.Provider = domain.ProviderEmail
	}
	u.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, provider, steam_id, discord_id, avatar_url, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, nullString(u.Email), u.Username, nullString(u.PasswordHash), u.Provider,
		u.SteamID, u.DiscordID, u.AvatarURL, boolToInt(u.IsAdmin), formatTimestamp(u.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetUserByID returns a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail returns a user by email (case-insensitive)
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "lower(email) = lower(?)", email)
}

// GetUserByUsername returns a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return user, err
}

// UpsertExternalUser finds the user linked to an external identity or creates one.
// provider is domain.ProviderSteam or domain.ProviderDiscord.
func (s *Store) UpsertExternalUser(ctx context.Context, provider, externalID, username, avatarURL, email string) (*User, error) {
	column := ""
	switch provider {
	case domain.ProviderSteam:
		column = "steam_id"
	case domain.ProviderDiscord:
		column = "discord_id"
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}

	user, err := s.getUser(ctx, column+" = ?", externalID)
	if err == nil {
		if avatarURL != "" && avatarURL != user.AvatarURL {
			if _, err := s.db.ExecContext(ctx, "UPDATE users SET avatar_url = ? WHERE id = ?", avatarURL, user.ID); err != nil {
				return nil, err
			}
			user.AvatarURL = avatarURL
		}
		return user, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	id := externalID
	user = &User{User: domain.User{
		Username:  username,
		Provider:  provider,
		AvatarURL: avatarURL,
		Email:     email,
	}}
	if provider == domain.ProviderSteam {
		user.SteamID = &id
	} else {
		user.DiscordID = &id
	}
	if err := s.CreateUser(ctx, user); err != nil {
		if err == ErrConflict && email != "" {
			// Email already registered with a password account: link instead of failing
			existing, gerr := s.GetUserByEmail(ctx, email)
			if gerr != nil {
				return nil, err
			}
			if _, uerr := s.db.ExecContext(ctx, "UPDATE users SET "+column+" = ? WHERE id = ?", externalID, existing.ID); uerr != nil {
				return nil, uerr
			}
			return s.GetUserByID(ctx, existing.ID)
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns all users ordered by creation
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserLastLogin records a successful sign-in
func (s *Store) UpdateUserLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_login = ? WHERE id = ?", formatTimestamp(s.now()), userID)
	return err
}

// UpdateUserPassword sets a new password hash
func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.expectOne(s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, userID))
}

// UpdateUserAdmin sets the admin flag
func (s *Store) UpdateUserAdmin(ctx context.Context, userID string, isAdmin bool) error {
	return s.expectOne(s.db.ExecContext(ctx, "UPDATE users SET is_admin = ? WHERE id = ?", boolToInt(isAdmin), userID))
}

func (s *Store) expectOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Refresh token methods ---

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateRefreshToken stores a new refresh token for a session. Only a hash is kept.
func (s *Store) CreateRefreshToken(ctx context.Context, userID, sessionID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, session_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, hashToken(token), userID, sessionID, formatTimestamp(expiresAt), formatTimestamp(s.now()))
	return err
}

// ConsumeRefreshToken revokes a refresh token and returns its owner and session.
// Each token can be used once; a replacement must be issued by the caller.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (userID, sessionID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var expiresAt string
	var revokedAt sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, session_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = ?
	`, hashToken(token)).Scan(&userID, &sessionID, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return "", "", ErrTokenRevoked
	}
	if err != nil {
		return "", "", err
	}

	exp, err := parseTimestamp(expiresAt)
	if err != nil {
		return "", "", err
	}
	if revokedAt.Valid || !s.now().Before(exp) {
		return "", "", ErrTokenRevoked
	}

	if _, err := tx.ExecContext(ctx, "UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ?",
		formatTimestamp(s.now()), hashToken(token)); err != nil {
		return "", "", err
	}
	return userID, sessionID, tx.Commit()
}

// RevokeSession revokes every refresh token issued to a session
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = ? WHERE session_id = ? AND revoked_at IS NULL
	`, formatTimestamp(s.now()), sessionID)
	return err
}

// DeleteExpiredRefreshTokens removes tokens past their expiry
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < ?", formatTimestamp(s.now()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Profile methods ---

// SyncProfile creates or refreshes the profile row from the user's identity.
// User-edited fields (bio, and username once set) are preserved.
func (s *Store) SyncProfile(ctx context.Context, user *User) (*domain.Profile, error) {
	now := formatTimestamp(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, username, avatar_url, steam_id, discord_id, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE profiles.avatar_url END,
			steam_id = excluded.steam_id,
			discord_id = excluded.discord_id,
			last_synced_at = excluded.last_synced_at
	`, user.ID, user.Username, user.AvatarURL, user.SteamID, user.DiscordID, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, user.ID)
}

// GetProfile returns a user's profile
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, avatar_url, steam_id, discord_id, bio, last_synced_at, created_at
		FROM profiles WHERE user_id = ?
	`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// UpdateProfile applies user-editable settings
func (s *Store) UpdateProfile(ctx context.Context, userID string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	var sets []string
	var args []any
	if upd.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *upd.Username)
	}
	if upd.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *upd.AvatarURL)
	}
	if upd.Bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *upd.Bio)
	}
	if len(sets) > 0 {
		args = append(args, userID)
		if err := s.expectOne(s.db.ExecContext(ctx,
			"UPDATE profiles SET "+strings.Join(sets, ", ")+" WHERE user_id = ?", args...)); err != nil {
			return nil, err
		}
	}
	return s.GetProfile(ctx, userID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
