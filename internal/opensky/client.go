package opensky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flight_fence/internal/metrics"
	"flight_fence/internal/models"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single upstream request
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 64 << 20

var (
	errRateLimited  = errors.New("local request budget exhausted")
	errMissingState = errors.New("response has no states key")
)

// Fetcher returns one snapshot of raw state arrays, or false when the feed
// could not be read
type Fetcher interface {
	Fetch(ctx context.Context) ([]json.RawMessage, bool)
}

// Options configures a Client
type Options struct {
	URL     string
	Timeout time.Duration
	// MaxRequestsPerMinute throttles upstream calls; 0 disables throttling
	MaxRequestsPerMinute int
	// BBox, when set, is sent upstream as lamin/lomin/lamax/lomax
	BBox *models.Region
}

// Client fetches state snapshots from the OpenSky REST API.
// Safe for concurrent use by the collector and request handlers.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// statesResponse mirrors the states/all body. States stays raw so a missing
// key can be told apart from a null one.
type statesResponse struct {
	Time   int64           `json:"time"`
	States json.RawMessage `json:"states"`
}

// NewClient creates a feed client
func NewClient(opts Options, m *metrics.Metrics) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	if opts.BBox != nil {
		q := u.Query()
		q.Set("lamin", strconv.FormatFloat(opts.BBox.MinLat, 'f', -1, 64))
		q.Set("lomin", strconv.FormatFloat(opts.BBox.MinLon, 'f', -1, 64))
		q.Set("lamax", strconv.FormatFloat(opts.BBox.MaxLat, 'f', -1, 64))
		q.Set("lomax", strconv.FormatFloat(opts.BBox.MaxLon, 'f', -1, 64))
		u.RawQuery = q.Encode()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		url:        u.String(),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
	if opts.MaxRequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxRequestsPerMinute)), 1)
	}

	return c, nil
}

// URL returns the effective request URL
func (c *Client) URL() string {
	return c.url
}

// Fetch performs one request and returns the raw state arrays.
// The boolean is false when no data could be obtained this time; the cause is
// logged as a warning and never returned to the caller.
func (c *Client) Fetch(ctx context.Context) ([]json.RawMessage, bool) {
	start := time.Now()

	states, outcome, err := c.fetch(ctx)
	c.metrics.RecordFetch(outcome, time.Since(start))

	if err != nil {
		slog.Warn("Feed fetch failed", "url", c.url, "outcome", outcome, "error", err)
		return nil, false
	}

	slog.Debug("Feed fetch succeeded", "states", len(states), "duration", time.Since(start))
	return states, true
}

func (c *Client) fetch(ctx context.Context) ([]json.RawMessage, string, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, metrics.FetchRateLimited, errRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, metrics.FetchTransport, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, metrics.FetchTransport, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, metrics.FetchBadStatus, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body statesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return nil, metrics.FetchTransport, fmt.Errorf("reading body: %w", err)
		}
		return nil, metrics.FetchMalformed, fmt.Errorf("failed to decode body: %w", err)
	}

	if len(body.States) == 0 {
		return nil, metrics.FetchMalformed, errMissingState
	}

	// A null states value means the feed has no aircraft right now
	states := []json.RawMessage{}
	if string(body.States) != "null" {
		if err := json.Unmarshal(body.States, &states); err != nil {
			return nil, metrics.FetchMalformed, fmt.Errorf("states is not an array: %w", err)
		}
	}

	return states, metrics.FetchSuccess, nil
}
