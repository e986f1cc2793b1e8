package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/browser"

	"github.com/ernie/gamehost/internal/session"
)

const oauthTimeout = 5 * time.Minute

// callbackPage forwards the URL fragment, which never reaches the server, back as a query string
const callbackPage = `<!doctype html>
<html><head><title>gamehost sign-in</title></head>
<body>
<p id="msg">Completing sign-in...</p>
<script>
fetch("/complete?" + window.location.hash.substring(1)).then(function () {
  document.getElementById("msg").textContent = "Signed in. You can close this window.";
});
</script>
</body></html>`

// loginWithProvider runs a browser sign-in through a loopback callback server
func loginWithProvider(ctx context.Context, manager *session.Manager, provider string, openBrowser bool) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting callback listener: %w", err)
	}
	redirectTo := fmt.Sprintf("http://%s/callback", ln.Addr())

	authURL, err := manager.SignInWithOAuth(provider, redirectTo)
	if err != nil {
		ln.Close()
		return err
	}

	results := make(chan url.Values, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(callbackPage))
	})
	mux.HandleFunc("GET /complete", func(w http.ResponseWriter, r *http.Request) {
		select {
		case results <- r.URL.Query():
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(ln)
	defer server.Close()

	fmt.Printf("Opening %s sign-in in your browser...\n", provider)
	if !openBrowser || browser.OpenURL(authURL) != nil {
		fmt.Printf("Visit this URL to sign in:\n\n  %s\n\n", authURL)
	}

	select {
	case values := <-results:
		return manager.CompleteOAuth(ctx, values)
	case <-time.After(oauthTimeout):
		return fmt.Errorf("timed out waiting for sign-in")
	case <-ctx.Done():
		return ctx.Err()
	}
}
