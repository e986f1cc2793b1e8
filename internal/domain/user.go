package domain

import "time"

// Identity providers
const (
	ProviderEmail   = "email"
	ProviderSteam   = "steam"
	ProviderDiscord = "discord"
)

// User is the identity issued by the auth subsystem
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email,omitempty"`
	Username  string  `json:"username"`
	Provider  string  `json:"provider"`
	SteamID   *string `json:"steam_id,omitempty"`
	DiscordID *string `json:"discord_id,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	IsAdmin   bool    `json:"is_admin"`
}

// Session is the credential bundle held by a signed-in client
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Profile is the site's own record for a user, kept in sync after sign-in
type Profile struct {
	UserID       string     `json:"user_id"`
	Username     string     `json:"username"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	SteamID      *string    `json:"steam_id,omitempty"`
	DiscordID    *string    `json:"discord_id,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ProfileUpdate carries the settings a user may change. Nil fields are left as-is.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}
