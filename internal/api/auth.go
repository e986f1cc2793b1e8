package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/metrics"
	"github.com/ernie/gamehost/internal/storage"
)

// SignUpRequest is the request body for account creation
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// TokenRequest is the request body for both token grants
type TokenRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// handleSignUp creates an email account and signs it in
func (r *Router) handleSignUp(w http.ResponseWriter, req *http.Request) {
	var body SignUpRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	body.Username = strings.TrimSpace(body.Username)
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if body.Username == "" {
		body.Username = strings.SplitN(body.Email, "@", 2)[0]
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := &storage.User{
		User:         domain.User{Email: body.Email, Username: body.Username, Provider: domain.ProviderEmail},
		PasswordHash: hash,
	}
	if err := r.store.CreateUser(req.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "user already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if _, err := r.store.SyncProfile(req.Context(), user); err != nil {
		log.Printf("Error creating profile for %s: %v", user.ID, err)
	}

	session, err := r.issueSession(req.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	metrics.AuthAttempts.WithLabelValues("signup", "success").Inc()
	log.Printf("New account %s (%s)", user.Username, user.ID)
	writeJSON(w, http.StatusOK, session)
}

// handleToken issues a session for grant_type=password or rotates one for grant_type=refresh_token
func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	var body TokenRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch grant := req.URL.Query().Get("grant_type"); grant {
	case "password":
		r.passwordGrant(w, req, body)
	case "refresh_token":
		r.refreshGrant(w, req, body)
	default:
		writeError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

func (r *Router) passwordGrant(w http.ResponseWriter, req *http.Request, body TokenRequest) {
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := r.store.GetUserByEmail(req.Context(), body.Email)
	if err != nil || !auth.CheckPassword(body.Password, user.PasswordHash) {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		writeError(w, http.StatusUnauthorized, "invalid login credentials")
		return
	}

	session, err := r.issueSession(req.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
	writeJSON(w, http.StatusOK, session)
}

func (r *Router) refreshGrant(w http.ResponseWriter, req *http.Request, body TokenRequest) {
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	userID, sessionID, err := r.store.ConsumeRefreshToken(req.Context(), body.RefreshToken)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "failure").Inc()
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	user, err := r.store.GetUserByID(req.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	session, err := r.issueSessionWithID(req.Context(), user, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()
	writeJSON(w, http.StatusOK, session)
}

// handleGetUser returns the user behind the access token
func (r *Router) handleGetUser(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	user, err := r.store.GetUserByID(req.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, user.User)
}

// handleLogout revokes every refresh token of the caller's session
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	if err := r.store.RevokeSession(req.Context(), claims.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorize redirects the browser to an identity provider
func (r *Router) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	provider := req.URL.Query().Get("provider")
	redirectTo := req.URL.Query().Get("redirect_to")
	if redirectTo == "" {
		redirectTo = r.opts.PublicURL + "/"
	}
	if !r.redirectAllowed(redirectTo) {
		writeError(w, http.StatusBadRequest, "redirect_to is not allowed")
		return
	}

	switch provider {
	case domain.ProviderSteam:
		if r.opts.Steam == nil {
			writeError(w, http.StatusNotFound, "steam sign-in is not enabled")
			return
		}
	case domain.ProviderDiscord:
		if r.opts.Discord == nil {
			writeError(w, http.StatusNotFound, "discord sign-in is not enabled")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	state, err := r.auth.GenerateState(provider, redirectTo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create login state")
		return
	}

	var target string
	if provider == domain.ProviderSteam {
		returnTo := r.steamCallbackURL() + "?" + url.Values{"state": {state}}.Encode()
		target = r.opts.Steam.LoginURL(r.opts.PublicURL, returnTo)
	} else {
		target = r.opts.Discord.AuthCodeURL(state)
	}
	http.Redirect(w, req, target, http.StatusFound)
}

func (r *Router) steamCallbackURL() string {
	return r.opts.PublicURL + "/auth/v1/callback/steam"
}

// handleSteamCallback verifies the OpenID assertion and signs the Steam user in
func (r *Router) handleSteamCallback(w http.ResponseWriter, req *http.Request) {
	if r.opts.Steam == nil {
		writeError(w, http.StatusNotFound, "steam sign-in is not enabled")
		return
	}
	query := req.URL.Query()
	redirectTo, err := r.auth.ParseState(query.Get("state"), domain.ProviderSteam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	steamID, err := r.opts.Steam.Verify(req.Context(), query, r.steamCallbackURL())
	if err != nil {
		log.Printf("Steam verification failed: %v", err)
		metrics.AuthAttempts.WithLabelValues("steam", "failure").Inc()
		redirectWithError(w, req, redirectTo, "steam authentication failed")
		return
	}

	persona, err := r.opts.Steam.Persona(req.Context(), steamID)
	if err != nil {
		log.Printf("Error fetching steam persona for %s: %v", steamID, err)
	}
	user, err := r.store.UpsertExternalUser(req.Context(), domain.ProviderSteam, steamID, persona.Name, persona.AvatarURL, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	metrics.AuthAttempts.WithLabelValues("steam", "success").Inc()
	r.completeExternalLogin(w, req, user, redirectTo)
}

// handleDiscordCallback exchanges the authorization code and signs the Discord user in
func (r *Router) handleDiscordCallback(w http.ResponseWriter, req *http.Request) {
	if r.opts.Discord == nil {
		writeError(w, http.StatusNotFound, "discord sign-in is not enabled")
		return
	}
	query := req.URL.Query()
	redirectTo, err := r.auth.ParseState(query.Get("state"), domain.ProviderDiscord)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if e := query.Get("error"); e != "" {
		redirectWithError(w, req, redirectTo, e)
		return
	}

	identity, err := r.opts.Discord.Exchange(req.Context(), query.Get("code"))
	if err != nil {
		log.Printf("Discord exchange failed: %v", err)
		metrics.AuthAttempts.WithLabelValues("discord", "failure").Inc()
		redirectWithError(w, req, redirectTo, "discord authentication failed")
		return
	}

	user, err := r.store.UpsertExternalUser(req.Context(), domain.ProviderDiscord, identity.ID, identity.Username, identity.AvatarURL(), identity.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	metrics.AuthAttempts.WithLabelValues("discord", "success").Inc()
	r.completeExternalLogin(w, req, user, redirectTo)
}

// completeExternalLogin issues a session and hands it to the client in the URL fragment
func (r *Router) completeExternalLogin(w http.ResponseWriter, req *http.Request, user *storage.User, redirectTo string) {
	session, err := r.issueSession(req.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	fragment := url.Values{
		"access_token":  {session.AccessToken},
		"refresh_token": {session.RefreshToken},
		"expires_at":    {strconv.FormatInt(session.ExpiresAt.Unix(), 10)},
		"token_type":    {"bearer"},
	}
	http.Redirect(w, req, stripFragment(redirectTo)+"#"+fragment.Encode(), http.StatusFound)
}

func redirectWithError(w http.ResponseWriter, req *http.Request, redirectTo, message string) {
	fragment := url.Values{"error": {"access_denied"}, "error_description": {message}}
	http.Redirect(w, req, stripFragment(redirectTo)+"#"+fragment.Encode(), http.StatusFound)
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// redirectAllowed accepts the public URL, configured prefixes and loopback addresses
func (r *Router) redirectAllowed(target string) bool {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if host := u.Hostname(); u.Scheme == "http" && (host == "127.0.0.1" || host == "localhost" || host == "::1") {
		return true
	}
	if r.opts.PublicURL != "" && strings.HasPrefix(target, r.opts.PublicURL+"/") {
		return true
	}
	for _, prefix := range r.opts.RedirectAllowlist {
		if prefix != "" && strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

// issueSession starts a new session for user
func (r *Router) issueSession(ctx context.Context, user *storage.User) (*domain.Session, error) {
	return r.issueSessionWithID(ctx, user, auth.NewSessionID())
}

// issueSessionWithID creates an access token and a fresh refresh token for an existing session id
func (r *Router) issueSessionWithID(ctx context.Context, user *storage.User, sessionID string) (*domain.Session, error) {
	access, expiresAt, err := r.auth.GenerateToken(user.User, sessionID)
	if err != nil {
		return nil, err
	}
	refresh := auth.NewRefreshToken()
	if err := r.store.CreateRefreshToken(ctx, user.ID, sessionID, refresh, expiresAt.Add(r.auth.RefreshDuration())); err != nil {
		return nil, err
	}
	if err := r.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		log.Printf("Error recording login for %s: %v", user.ID, err)
	}
	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		User:         user.User,
	}, nil
}
