package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	SteamOpenIDEndpoint = "https://steamcommunity.com/openid/login"
	steamPlayerSummary  = "https://api.steampowered.com/ISteamUser/GetPlayerSummaries/v0002/"
	openIDNamespace     = "http://specs.openid.net/auth/2.0"
	openIDIdentifier    = "http://specs.openid.net/auth/2.0/identifier_select"
)

var (
	ErrSteamVerification = errors.New("steam authentication failed")

	steamIDPattern = regexp.MustCompile(`/openid/id/(\d+)$`)
)

// SteamOpenID implements the Steam OpenID 2.0 login flow
type SteamOpenID struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewSteamOpenID creates a Steam OpenID client against the public endpoint
func NewSteamOpenID(apiKey string) *SteamOpenID {
	return &SteamOpenID{
		Endpoint: SteamOpenIDEndpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// LoginURL builds the checkid_setup redirect. Steam sends the browser back to returnTo.
func (s *SteamOpenID) LoginURL(realm, returnTo string) string {
	params := url.Values{}
	params.Set("openid.ns", openIDNamespace)
	params.Set("openid.mode", "checkid_setup")
	params.Set("openid.return_to", returnTo)
	params.Set("openid.realm", realm)
	params.Set("openid.identity", openIDIdentifier)
	params.Set("openid.claimed_id", openIDIdentifier)
	return s.Endpoint + "?" + params.Encode()
}

// Verify checks an OpenID positive assertion with Steam and returns the 64-bit Steam ID.
// The assertion must come from this endpoint, be addressed to returnTo (the
// callback URL without its query) and sign every field the login relies on.
// All openid.* parameters are then posted back with mode check_authentication.
func (s *SteamOpenID) Verify(ctx context.Context, query url.Values, returnTo string) (string, error) {
	if err := s.checkAssertion(query, returnTo); err != nil {
		return "", err
	}

	form := url.Values{}
	for key, values := range query {
		if strings.HasPrefix(key, "openid.") {
			form[key] = values
		}
	}
	form.Set("openid.mode", "check_authentication")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("contacting steam: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading steam response: %w", err)
	}
	if !strings.Contains(string(body), "is_valid:true") {
		return "", ErrSteamVerification
	}

	steamID, ok := ExtractSteamID(query.Get("openid.claimed_id"))
	if !ok {
		return "", fmt.Errorf("%w: malformed claimed_id", ErrSteamVerification)
	}
	return steamID, nil
}

// signedFields must all be covered by openid.signed
var signedFields = []string{"op_endpoint", "claimed_id", "identity", "return_to", "response_nonce", "assoc_handle"}

// checkAssertion rejects assertions that are not for this endpoint and callback
// before anything is sent to Steam
func (s *SteamOpenID) checkAssertion(query url.Values, returnTo string) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrSteamVerification, fmt.Sprintf(format, args...))
	}

	if mode := query.Get("openid.mode"); mode != "id_res" {
		return fail("unexpected mode %q", mode)
	}
	if ns := query.Get("openid.ns"); ns != openIDNamespace {
		return fail("unexpected namespace %q", ns)
	}
	if ep := query.Get("openid.op_endpoint"); ep != s.Endpoint {
		return fail("unexpected op_endpoint %q", ep)
	}
	if query.Get("openid.claimed_id") != query.Get("openid.identity") {
		return fail("claimed_id and identity differ")
	}

	signed := make(map[string]bool)
	for _, f := range strings.Split(query.Get("openid.signed"), ",") {
		signed[strings.TrimSpace(f)] = true
	}
	for _, f := range signedFields {
		if !signed[f] {
			return fail("%s is not signed", f)
		}
	}

	got, err := url.Parse(query.Get("openid.return_to"))
	if err != nil {
		return fail("malformed return_to")
	}
	want, err := url.Parse(returnTo)
	if err != nil {
		return fmt.Errorf("parsing callback url: %w", err)
	}
	if got.Scheme != want.Scheme || got.Host != want.Host || got.Path != want.Path {
		return fail("return_to %q does not match %q", got.Redacted(), returnTo)
	}
	// Parameters carried in return_to must match the ones Steam sent back
	for key, values := range got.Query() {
		if query.Get(key) != values[0] {
			return fail("return_to parameter %s does not match", key)
		}
	}
	return nil
}

// ExtractSteamID pulls the numeric ID out of a claimed_id URL of the form .../openid/id/<digits>
func ExtractSteamID(claimedID string) (string, bool) {
	m := steamIDPattern.FindStringSubmatch(claimedID)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SteamPersona is the public profile returned by the Steam Web API
type SteamPersona struct {
	Name      string
	AvatarURL string
}

// Persona fetches the display name and avatar for a Steam ID. Without an API
// key it returns a placeholder name and no error.
func (s *SteamOpenID) Persona(ctx context.Context, steamID string) (SteamPersona, error) {
	fallback := SteamPersona{Name: "steam_" + steamID}
	if s.APIKey == "" {
		return fallback, nil
	}

	u := steamPlayerSummary + "?" + url.Values{"key": {s.APIKey}, "steamids": {steamID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fallback, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return fallback, err
	}
	defer resp.Body.Close()

	var body struct {
		Response struct {
			Players []struct {
				PersonaName string `json:"personaname"`
				AvatarFull  string `json:"avatarfull"`
			} `json:"players"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fallback, err
	}
	if len(body.Response.Players) == 0 {
		return fallback, nil
	}
	p := body.Response.Players[0]
	return SteamPersona{Name: p.PersonaName, AvatarURL: p.AvatarFull}, nil
}

func (s *SteamOpenID) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}
