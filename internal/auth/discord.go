package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const discordAPI = "https://discord.com/api"

// DiscordEndpoint is Discord's OAuth2 endpoint
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  discordAPI + "/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// DiscordIdentity is the subset of /users/@me used for sign-in
type DiscordIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// AvatarURL returns the CDN URL of the user's avatar, or "" if unset
func (d DiscordIdentity) AvatarURL() string {
	if d.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", d.ID, d.Avatar)
}

// Discord implements the Discord OAuth2 authorization code flow
type Discord struct {
	config oauth2.Config
	apiURL string
}

// NewDiscord creates a Discord provider; redirectURL is this backend's callback endpoint
func NewDiscord(clientID, clientSecret, redirectURL string) *Discord {
	return &Discord{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     DiscordEndpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify", "email"},
		},
		apiURL: discordAPI,
	}
}

// AuthCodeURL returns the provider redirect for the given state token
func (d *Discord) AuthCodeURL(state string) string {
	return d.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for the user's Discord identity
func (d *Discord) Exchange(ctx context.Context, code string) (*DiscordIdentity, error) {
	token, err := d.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging discord code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"/users/@me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching discord identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching discord identity: status %d", resp.StatusCode)
	}

	var identity DiscordIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decoding discord identity: %w", err)
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("discord identity missing id")
	}
	return &identity, nil
}
