// Package livestatus polls the site API for whether a stream is live.
package livestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultInterval is the poll period
const DefaultInterval = 60 * time.Second

// Status is the live-status document served at <api base>/live-status
type Status struct {
	Live        bool   `json:"live"`
	Title       string `json:"title,omitempty"`
	Platform    string `json:"platform,omitempty"`
	URL         string `json:"url,omitempty"`
	ViewerCount int    `json:"viewer_count"`
}

// Poller fetches Status on a fixed interval
type Poller struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
}

// New creates a poller against apiBaseURL. It returns nil when no base URL is configured.
func New(apiBaseURL string) *Poller {
	if apiBaseURL == "" {
		return nil
	}
	return &Poller{
		URL:      strings.TrimRight(apiBaseURL, "/") + "/live-status",
		Interval: DefaultInterval,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Check fetches the current status once
func (p *Poller) Check(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("checking live status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("checking live status: status %d", resp.StatusCode)
	}
	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("decoding live status: %w", err)
	}
	return s, nil
}

// Run checks immediately and then every Interval, calling fn with each
// result, until ctx is cancelled. A nil poller returns at once.
func (p *Poller) Run(ctx context.Context, fn func(Status, error)) {
	if p == nil {
		return
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := p.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("Live status check failed: %v", err)
		}
		fn(s, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
