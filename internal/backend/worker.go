package backend

import (
	"context"
	"net/url"

	"github.com/ernie/gamehost/internal/domain"
)

// Worker calls the service-key endpoints used by processes that run next to
// game servers. It is not part of Client: dashboards never hold the service key.
type Worker struct {
	http       *HTTP
	serviceKey string
}

// NewWorker creates a worker client for the backend at baseURL
func NewWorker(baseURL, anonKey, serviceKey string) *Worker {
	return &Worker{http: NewHTTP(baseURL, anonKey), serviceKey: serviceKey}
}

// PutServerStats replaces the stats snapshot of stats.ServerID
func (w *Worker) PutServerStats(ctx context.Context, stats *domain.ServerStats) error {
	return w.http.do(ctx, "PUT", "/rest/v1/server_stats/"+url.PathEscape(stats.ServerID), w.serviceKey, stats, nil)
}
