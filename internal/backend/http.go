package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/gorilla/websocket"
)

// HTTP talks to a gamehost backend over its REST, auth and realtime endpoints
type HTTP struct {
	baseURL string
	anonKey string
	client  *http.Client
	dialer  *websocket.Dialer
}

var _ Client = (*HTTP)(nil)

// NewHTTP creates a client for the backend at baseURL
func NewHTTP(baseURL, anonKey string) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *HTTP) Configured() bool { return true }

func (c *HTTP) SignUp(ctx context.Context, email, password, username string) (*domain.Session, error) {
	var session domain.Session
	body := map[string]string{"email": email, "password": password, "username": username}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTP) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var session domain.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTP) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	var session domain.Session
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTP) GetUser(ctx context.Context, accessToken string) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTP) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

func (c *HTTP) AuthorizeURL(provider, redirectTo string) (string, error) {
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

func (c *HTTP) GetServerStats(ctx context.Context, accessToken, serverID string) (*domain.ServerStats, error) {
	var stats domain.ServerStats
	err := c.do(ctx, http.MethodGet, "/rest/v1/server_stats/"+url.PathEscape(serverID), accessToken, nil, &stats)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTP) InsertCommand(ctx context.Context, accessToken string, cmd CommandInsert) (*domain.Command, error) {
	var created domain.Command
	if err := c.do(ctx, http.MethodPost, "/rest/v1/server_commands", accessToken, cmd, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTP) ListCommands(ctx context.Context, accessToken string, q CommandQuery) ([]domain.Command, error) {
	params := url.Values{}
	if q.ServerID != "" {
		params.Set("server_id", q.ServerID)
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/rest/v1/server_commands"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	commands := []domain.Command{}
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

func (c *HTTP) GetProfile(ctx context.Context, accessToken string) (*domain.Profile, error) {
	var profile domain.Profile
	err := c.do(ctx, http.MethodGet, "/rest/v1/profiles/me", accessToken, nil, &profile)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *HTTP) UpdateProfile(ctx context.Context, accessToken string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	var profile domain.Profile
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles/me", accessToken, upd, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *HTTP) RPC(ctx context.Context, accessToken, name string, params, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(name), accessToken, params, out)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// Non-2xx responses become *APIError carrying the backend's message.
func (c *HTTP) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
