package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	testClaimedID = "https://steamcommunity.com/openid/id/76561198012345678"
	testCallback  = "http://localhost:8080/auth/v1/callback/steam"
)

func steamAssertion(endpoint string) url.Values {
	return url.Values{
		"openid.ns":             {openIDNamespace},
		"openid.mode":           {"id_res"},
		"openid.op_endpoint":    {endpoint},
		"openid.claimed_id":     {testClaimedID},
		"openid.identity":       {testClaimedID},
		"openid.return_to":      {testCallback + "?state=abc"},
		"openid.response_nonce": {"2024-01-01T00:00:00Zabc"},
		"openid.assoc_handle":   {"1234567890"},
		"openid.signed":         {"signed,op_endpoint,claimed_id,identity,return_to,response_nonce,assoc_handle"},
		"openid.sig":            {"c2lnbmF0dXJl"},
		"state":                 {"abc"},
	}
}

func fakeSteam(t *testing.T, body string) (*httptest.Server, func() url.Values) {
	t.Helper()
	var mu sync.Mutex
	var received url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		mu.Lock()
		received = form
		mu.Unlock()
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() url.Values {
		mu.Lock()
		defer mu.Unlock()
		return received
	}
}

func TestSteamVerifyValid(t *testing.T) {
	srv, received := fakeSteam(t, "ns:http://specs.openid.net/auth/2.0\nis_valid:true\n")
	steam := &SteamOpenID{Endpoint: srv.URL, Client: srv.Client()}

	id, err := steam.Verify(context.Background(), steamAssertion(srv.URL), testCallback)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != "76561198012345678" {
		t.Errorf("steam id = %q, want 76561198012345678", id)
	}

	form := received()
	if form.Get("openid.mode") != "check_authentication" {
		t.Errorf("re-posted mode = %q", form.Get("openid.mode"))
	}
	if form.Get("openid.sig") != "c2lnbmF0dXJl" || form.Get("openid.claimed_id") != testClaimedID {
		t.Errorf("openid params not forwarded: %v", form)
	}
	if form.Has("state") {
		t.Error("non-openid params must not be forwarded")
	}
}

func TestSteamVerifyInvalid(t *testing.T) {
	srv, _ := fakeSteam(t, "ns:http://specs.openid.net/auth/2.0\nis_valid:false\n")
	steam := &SteamOpenID{Endpoint: srv.URL, Client: srv.Client()}

	id, err := steam.Verify(context.Background(), steamAssertion(srv.URL), testCallback)
	if !errors.Is(err, ErrSteamVerification) {
		t.Fatalf("err = %v, want ErrSteamVerification", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
}

func TestSteamVerifyRejectsWrongMode(t *testing.T) {
	steam := &SteamOpenID{Endpoint: "http://127.0.0.1:1"}
	q := steamAssertion(steam.Endpoint)
	q.Set("openid.mode", "cancel")
	if _, err := steam.Verify(context.Background(), q, testCallback); !errors.Is(err, ErrSteamVerification) {
		t.Errorf("err = %v, want ErrSteamVerification", err)
	}
}

func TestSteamVerifyRejectsForgedAssertions(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		io.WriteString(w, "is_valid:true\n")
	}))
	defer srv.Close()
	steam := &SteamOpenID{Endpoint: srv.URL, Client: srv.Client()}

	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"foreign endpoint", func(q url.Values) { q.Set("openid.op_endpoint", "https://evil.example/openid/login") }},
		{"claimed id not signed", func(q url.Values) {
			q.Set("openid.signed", "signed,op_endpoint,identity,return_to,response_nonce,assoc_handle")
		}},
		{"return_to not signed", func(q url.Values) {
			q.Set("openid.signed", "signed,op_endpoint,claimed_id,identity,response_nonce,assoc_handle")
		}},
		{"identity differs", func(q url.Values) { q.Set("openid.identity", "https://steamcommunity.com/openid/id/1") }},
		{"other callback", func(q url.Values) { q.Set("openid.return_to", "http://evil.example/auth/v1/callback/steam?state=abc") }},
		{"state swapped", func(q url.Values) { q.Set("state", "other") }},
		{"wrong namespace", func(q url.Values) { q.Set("openid.ns", "http://openid.net/signon/1.1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := steamAssertion(srv.URL)
			tt.mutate(q)
			if _, err := steam.Verify(context.Background(), q, testCallback); !errors.Is(err, ErrSteamVerification) {
				t.Errorf("err = %v, want ErrSteamVerification", err)
			}
		})
	}
	if calls != 0 {
		t.Errorf("steam contacted %d times for rejected assertions", calls)
	}
}

func TestExtractSteamID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{testClaimedID, "76561198012345678", true},
		{"http://steamcommunity.com/openid/id/1", "1", true},
		{"https://steamcommunity.com/openid/id/abc", "", false},
		{"https://steamcommunity.com/openid/id/123/extra", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractSteamID(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractSteamID(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSteamLoginURL(t *testing.T) {
	steam := NewSteamOpenID("")
	raw := steam.LoginURL("http://localhost:8080", "http://localhost:8080/auth/v1/callback/steam?state=x")
	if !strings.HasPrefix(raw, SteamOpenIDEndpoint+"?") {
		t.Fatalf("url = %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("openid.mode") != "checkid_setup" {
		t.Errorf("mode = %q", q.Get("openid.mode"))
	}
	if q.Get("openid.realm") != "http://localhost:8080" {
		t.Errorf("realm = %q", q.Get("openid.realm"))
	}
	if q.Get("openid.return_to") != "http://localhost:8080/auth/v1/callback/steam?state=x" {
		t.Errorf("return_to = %q", q.Get("openid.return_to"))
	}
}

func TestSteamPersonaWithoutKey(t *testing.T) {
	steam := NewSteamOpenID("")
	p, err := steam.Persona(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "steam_42" {
		t.Errorf("name = %q", p.Name)
	}
}
