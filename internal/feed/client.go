// Package feed pulls token market data from the upstream DEX aggregator:
// a polling HTTP client for snapshots and a WebSocket stream for new-pair
// discovery.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/dexintel/sentinel/internal/config"
	"github.com/dexintel/sentinel/internal/token"
)

// Client polls the aggregator REST API. Requests flow through a circuit
// breaker; a tripped breaker fails fast until the upstream recovers.
type Client struct {
	cfg     config.FeedConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker

	requests atomic.Int64
	failures atomic.Int64
	totalMs  atomic.Int64

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
	intervalMs       atomic.Int64
}

func NewClient(cfg config.FeedConfig) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutS) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "feed-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("feed breaker state change")
			},
		}),
	}
}

// pairPayload mirrors the aggregator's pair object.
type pairPayload struct {
	PairAddress string `json:"pairAddress"`
	ChainID     string `json:"chainId"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV    float64 `json:"fdv"`
	Volume struct {
		H24 float64 `json:"h24"`
		H1  float64 `json:"h1"`
	} `json:"volume"`
	PriceChange struct {
		M5  float64 `json:"m5"`
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Txns struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
	PairCreatedAt int64 `json:"pairCreatedAt"` // unix millis
}

// FetchPairs retrieves current snapshots for the given pair addresses.
// Transient failures are retried with exponential backoff inside the
// request deadline.
func (c *Client) FetchPairs(ctx context.Context, chainID string, addrs []token.Address) ([]*token.Snapshot, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	if len(addrs) > c.cfg.MaxPairsPerPoll {
		addrs = addrs[:c.cfg.MaxPairsPerPoll]
	}

	url := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.cfg.BaseURL, chainID, joinAddrs(addrs))

	var body []byte
	op := func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.get(ctx, url)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body = res.([]byte)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("feed: fetch pairs: %w", err)
	}

	var payload struct {
		Pairs []pairPayload `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("feed: decode pairs: %w", err)
	}

	now := time.Now()
	snaps := make([]*token.Snapshot, 0, len(payload.Pairs))
	for _, p := range payload.Pairs {
		snaps = append(snaps, toSnapshot(p, now))
	}
	return snaps, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	c.requests.Add(1)
	c.intervalRequests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.failures.Add(1)
		c.intervalFailures.Add(1)
		return nil, err
	}
	defer resp.Body.Close()

	ms := time.Since(start).Milliseconds()
	c.totalMs.Add(ms)
	c.intervalMs.Add(ms)

	if resp.StatusCode != http.StatusOK {
		c.failures.Add(1)
		c.intervalFailures.Add(1)
		return nil, fmt.Errorf("feed: upstream status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func toSnapshot(p pairPayload, observedAt time.Time) *token.Snapshot {
	price, err := decimal.NewFromString(p.PriceUSD)
	if err != nil {
		price = decimal.Zero
	}
	return &token.Snapshot{
		Address:           token.Address(p.PairAddress),
		Symbol:            p.BaseToken.Symbol,
		ChainID:           p.ChainID,
		PriceUSD:          price,
		LiquidityUSD:      decimal.NewFromFloat(p.Liquidity.USD),
		Volume24hUSD:      decimal.NewFromFloat(p.Volume.H24),
		Volume1hUSD:       decimal.NewFromFloat(p.Volume.H1),
		FDVUSD:            decimal.NewFromFloat(p.FDV),
		PriceChange5mPct:  p.PriceChange.M5,
		PriceChange1hPct:  p.PriceChange.H1,
		PriceChange24hPct: p.PriceChange.H24,
		Buys24h:           p.Txns.H24.Buys,
		Sells24h:          p.Txns.H24.Sells,
		Buys5m:            p.Txns.M5.Buys,
		Sells5m:           p.Txns.M5.Sells,
		PairCreatedAt:     time.UnixMilli(p.PairCreatedAt),
		ObservedAt:        observedAt,
	}
}

func joinAddrs(addrs []token.Address) string {
	out := string(addrs[0])
	for _, a := range addrs[1:] {
		out += "," + string(a)
	}
	return out
}

// ClientStats summarizes request accounting for the defense sampler.
type ClientStats struct {
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats reports lifetime request accounting, for the status endpoint.
func (c *Client) Stats() ClientStats {
	reqs := c.requests.Load()
	fails := c.failures.Load()
	s := ClientStats{Requests: reqs, Failures: fails}
	if reqs > 0 {
		s.ErrorRate = float64(fails) / float64(reqs)
		s.AvgLatencyMs = float64(c.totalMs.Load()) / float64(reqs)
	}
	return s
}

// IntervalStats reports accounting since the previous call and resets the
// interval counters, so each sample reflects only recent traffic and a
// failure burst is not diluted by hours of healthy history. An idle
// interval reports NaN rates, which samplers treat as missing.
func (c *Client) IntervalStats() ClientStats {
	reqs := c.intervalRequests.Swap(0)
	fails := c.intervalFailures.Swap(0)
	ms := c.intervalMs.Swap(0)

	s := ClientStats{Requests: reqs, Failures: fails}
	if reqs > 0 {
		s.ErrorRate = float64(fails) / float64(reqs)
		s.AvgLatencyMs = float64(ms) / float64(reqs)
	} else {
		s.ErrorRate = math.NaN()
		s.AvgLatencyMs = math.NaN()
	}
	return s
}
