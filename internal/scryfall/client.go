// Package scryfall is a throttled client for the Scryfall card search API.
package scryfall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"
)

// ErrNoMatch is returned when a search finds no card.
var ErrNoMatch = errors.New("no matching card")

var errThrottled = errors.New("throttled by catalog API")

// Config controls the client's politeness limits.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	MaxConcurrency    int
	MaxRetries        uint64
	BackoffBase       time.Duration
	UserAgent         string
	HTTPClient        *http.Client
}

// DefaultConfig returns limits within Scryfall's published guidance.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.scryfall.com",
		RequestsPerSecond: 10,
		Burst:             1,
		MaxConcurrency:    5,
		MaxRetries:        5,
		BackoffBase:       500 * time.Millisecond,
		UserAgent:         "cardvault/1.0",
	}
}

// Client performs rate-limited, bounded-concurrency card searches with
// exponential backoff on throttling responses.
type Client struct {
	http        *http.Client
	baseURL     string
	limiter     *rate.Limiter
	sem         *semaphore.Weighted
	maxRetries  uint64
	backoffBase time.Duration
	userAgent   string
}

// NewClient creates a client. Zero-valued fields take DefaultConfig values.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		userAgent:   cfg.UserAgent,
	}
}

// Search runs a full-text card search and returns the first page of results.
func (c *Client) Search(ctx context.Context, query string) ([]Card, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	endpoint := c.baseURL + "/cards/search?q=" + url.QueryEscape(query)

	var result searchResponse
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoffBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.get(ctx, endpoint, &result)
		if errors.Is(err, errThrottled) {
			slog.Debug("catalog search throttled",
				"component", "scryfall",
				"action", "search_retry",
				"attempt", attempt,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.TotalCards == 0 || len(result.Data) == 0 {
		return nil, ErrNoMatch
	}
	return result.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return errThrottled
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNoMatch
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", errThrottled, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

// Lookup finds the printing of an exactly named card. Among the results it
// prefers one whose set name contains setLabel (underscores read as spaces,
// compared case-folded) and, when number is set, whose collector number
// matches. Otherwise the first result is returned.
func (c *Client) Lookup(ctx context.Context, name, setLabel, number string) (*Card, error) {
	cards, err := c.Search(ctx, fmt.Sprintf("!%q", name))
	if err != nil {
		return nil, err
	}
	return pickPrinting(cards, setLabel, number), nil
}

func pickPrinting(cards []Card, setLabel, number string) *Card {
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(strings.ReplaceAll(setLabel, "_", " ")))
	if want != "" {
		for i := range cards {
			if !strings.Contains(fold.String(cards[i].SetName), want) {
				continue
			}
			if number != "" && cards[i].CollectorNumber != number {
				continue
			}
			return &cards[i]
		}
	}
	return &cards[0]
}
