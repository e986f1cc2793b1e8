package api

import (
	"context"
	"log"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/metrics"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
	"github.com/klauspost/compress/gzhttp"
)

const realtimePath = "/realtime/v1/websocket"

// Options configures the backend HTTP surface
type Options struct {
	StaticDir  string
	PublicURL  string
	AnonKey    string
	ServiceKey string
	// RedirectAllowlist lists URL prefixes OAuth sign-in may return to, in
	// addition to PublicURL and loopback addresses
	RedirectAllowlist  []string
	MaxAttempts        int
	EnforceTransitions bool
	LoginRate          float64
	LoginBurst         int
	// TrustedProxies lists addresses or CIDR prefixes of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string
	// Steam and Discord are nil when the provider is disabled
	Steam   *auth.SteamOpenID
	Discord *auth.Discord
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	api     http.Handler
	store   *storage.Store
	auth    *auth.Service
	bus     *realtime.Bus
	limiter *keyedLimiter
	proxies []netip.Prefix
	opts    Options
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, authService *auth.Service, bus *realtime.Bus, opts Options) *Router {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	r := &Router{
		mux:     http.NewServeMux(),
		store:   store,
		auth:    authService,
		bus:     bus,
		limiter: newKeyedLimiter(opts.LoginRate, opts.LoginBurst),
		proxies: parseTrustedProxies(opts.TrustedProxies),
		opts:    opts,
	}

	// Auth routes
	r.handle("POST /auth/v1/signup", r.rateLimit(r.handleSignUp))
	r.handle("POST /auth/v1/token", r.rateLimit(r.handleToken))
	r.handle("GET /auth/v1/user", r.requireAuth(r.handleGetUser))
	r.handle("POST /auth/v1/logout", r.requireAuth(r.handleLogout))
	r.handlePublic("GET /auth/v1/authorize", r.handleAuthorize)
	r.handlePublic("GET /auth/v1/callback/steam", r.handleSteamCallback)
	r.handlePublic("GET /auth/v1/callback/discord", r.handleDiscordCallback)

	// Table routes
	r.handle("GET /rest/v1/server_stats/{server_id}", r.handleGetServerStats)
	r.handle("GET /rest/v1/server_commands", r.requireAdmin(r.handleListCommands))
	r.handle("POST /rest/v1/server_commands", r.requireAdmin(r.handleCreateCommand))
	r.handle("GET /rest/v1/server_commands/{id}", r.requireAdmin(r.handleGetCommand))
	r.handle("GET /rest/v1/profiles/me", r.requireAuth(r.handleGetProfile))
	r.handle("PATCH /rest/v1/profiles/me", r.requireAuth(r.handleUpdateProfile))
	r.handle("POST /rest/v1/rpc/{name}", r.requireAuth(r.handleRPC))

	// Worker routes (service key only)
	r.handle("POST /rest/v1/server_commands/claim", r.requireService(r.handleClaimCommand))
	r.handle("PATCH /rest/v1/server_commands/{id}", r.requireService(r.handleUpdateCommand))
	r.handle("PUT /rest/v1/server_stats/{server_id}", r.requireService(r.handlePutServerStats))

	// Health check and metrics
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /metrics", r.handleMetrics)

	// Static files - only serve if staticDir is configured
	if opts.StaticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	r.api = gzhttp.GzipHandler(r.mux)
	return r
}

// handle registers an instrumented route that requires the anon key
func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, metrics.Instrument(pattern, r.requireAPIKey(h)))
}

// handlePublic registers an instrumented route reached by browser redirects,
// which cannot carry the apikey header
func (r *Router) handlePublic(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, metrics.Instrument(pattern, h))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, apikey")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// The websocket upgrade must not go through the gzip writer
	if req.URL.Path == realtimePath {
		r.handleRealtime(w, req)
		return
	}

	r.api.ServeHTTP(w, req)
}

// StartMaintenance periodically removes expired refresh tokens until ctx is done
func (r *Router) StartMaintenance(ctx context.Context) {
	go r.limiter.run(ctx)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.store.DeleteExpiredRefreshTokens(ctx)
				if err != nil {
					log.Printf("Error pruning refresh tokens: %v", err)
				} else if n > 0 {
					log.Printf("Pruned %d expired refresh tokens", n)
				}
			}
		}
	}()
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	staticDir := r.opts.StaticDir

	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}
	fullPath := filepath.Join(staticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(staticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback: serve index.html for unknown paths
		fullPath = filepath.Join(staticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".ico":
		return "image/x-icon"
	default:
		return ""
	}
}
