package probe

import (
	"context"
	"log"
	"time"

	"github.com/ernie/gamehost/internal/domain"
)

// DefaultInterval is how often the reporter polls the game server
const DefaultInterval = 15 * time.Second

// Sink receives stats snapshots; backend.Worker implements it
type Sink interface {
	PutServerStats(ctx context.Context, stats *domain.ServerStats) error
}

// Reporter polls one game server and writes its stats to a Sink
type Reporter struct {
	Address  string
	ServerID string
	Interval time.Duration
	Client   *Client
	Sink     Sink

	now func() time.Time
}

// Report polls once and writes the snapshot. An unreachable server is
// reported as such rather than skipped.
func (r *Reporter) Report(ctx context.Context) (*domain.ServerStats, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	client := r.Client
	if client == nil {
		client = &Client{}
	}

	stats, err := client.QueryStatus(ctx, r.Address)
	if err != nil {
		msg := err.Error()
		stats = &domain.ServerStats{
			RconConnected: false,
			LastRconError: &msg,
			Players:       []domain.PlayerInfo{},
		}
	}
	stats.ServerID = r.ServerID
	stats.SyncIntervalSeconds = int(r.interval() / time.Second)
	stats.UpdatedAt = now().UTC()

	if err := r.Sink.PutServerStats(ctx, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *Reporter) interval() time.Duration {
	if r.Interval <= 0 {
		return DefaultInterval
	}
	return r.Interval
}

// Run reports immediately and then every Interval until ctx is cancelled
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	for {
		stats, err := r.Report(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("Failed to report stats for %s: %v", r.ServerID, err)
		} else if !stats.RconConnected {
			log.Printf("Server %s at %s unreachable: %s", r.ServerID, r.Address, *stats.LastRconError)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
