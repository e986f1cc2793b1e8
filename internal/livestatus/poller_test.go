package livestatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWithoutBaseURL(t *testing.T) {
	if New("") != nil {
		t.Fatal("expected nil poller without a base URL")
	}
	var p *Poller
	p.Run(context.Background(), func(Status, error) { t.Error("callback on nil poller") })
}

func TestNewBuildsURL(t *testing.T) {
	p := New("https://api.example.com/")
	if p.URL != "https://api.example.com/live-status" || p.Interval != DefaultInterval {
		t.Errorf("unexpected poller %+v", p)
	}
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live-status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"live":true,"title":"Friday frags","platform":"twitch","viewer_count":42}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL).Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Live || s.Title != "Friday frags" || s.ViewerCount != 42 {
		t.Errorf("unexpected status %+v", s)
	}
}

func TestCheckBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Check(context.Background()); err == nil {
		t.Error("expected error for 502")
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"live":false}`))
	}))
	defer srv.Close()

	p := New(srv.URL)
	p.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Status, 100)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func(s Status, err error) {
			if err == nil {
				results <- s
			}
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d polls before timeout", i)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	stopped := hits.Load()
	time.Sleep(50 * time.Millisecond)
	if hits.Load() != stopped {
		t.Error("poller kept running after cancel")
	}
}
