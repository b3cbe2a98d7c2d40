package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/quake-monitor-service/internal/config"
	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

const (
	userAgent    = "quake-monitor/1.0"
	maxBodyBytes = 32 << 20
)

// Client retrieves provider feeds over HTTP and splits them into one
// RawRecord per feature. Polls of each provider are rate limited through
// Wait; Fetch itself never blocks on the limiter.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a feed client. The per-request deadline comes from the
// caller's context.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the provider's rate limit allows another poll. Callers
// take one token per poll, not per retry attempt.
func (c *Client) Wait(ctx context.Context, p config.Provider) error {
	if err := c.limiter(p).Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", p.Name, err)
	}
	return nil
}

// Fetch performs one GET of the provider's feed.
func (c *Client) Fetch(ctx context.Context, p config.Provider) ([]domain.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s feed request: %w", p.Name, err)
	}
	defer resp.Body.Close()

	// FDSN services answer 204 when the query matches no events.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s feed error: status %d: %s", p.Name, resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode %s feed: %w", p.Name, err)
	}

	received := c.now().UTC()
	records := make([]domain.RawRecord, 0, len(fc.Features))
	for _, f := range fc.Features {
		records = append(records, domain.RawRecord{
			Provider:   p.Name,
			Format:     p.Format,
			Payload:    f,
			ReceivedAt: received,
		})
	}
	c.logger.Debug("feed fetched", "provider", p.Name, "records", len(records))
	return records, nil
}

func (c *Client) limiter(p config.Provider) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[p.Name]; ok {
		return l
	}
	limit := rate.Inf
	if p.RatePerMinute > 0 {
		limit = rate.Limit(p.RatePerMinute / 60)
	}
	l := rate.NewLimiter(limit, 1)
	c.limiters[p.Name] = l
	return l
}

// GeoJSON-style feature collection shared by the USGS and EMSC feeds. Each
// feature is kept raw and parsed later by the domain normalizer.
type featureCollection struct {
	Features []json.RawMessage `json:"features"`
}
