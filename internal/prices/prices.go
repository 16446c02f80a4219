// Package prices supplies the reference USD price table. Prices are
// display-side only: a missing symbol degrades USD fields to "unavailable"
// and never blocks a transaction.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source answers symbol -> USD price lookups. The second return is false
// when the table has no entry for the symbol.
type Source interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Static is a fixed price table, used in tests and as a fallback.
type Static map[string]decimal.Decimal

func (s Static) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := s[strings.ToUpper(symbol)]
	return p, ok
}

// DefaultFallback mirrors the hardcoded table the front end falls back to
// when the price API is unreachable.
func DefaultFallback() Static {
	return Static{
		"WLD":  decimal.NewFromFloat(3.50),
		"ETH":  decimal.NewFromInt(3500),
		"WETH": decimal.NewFromInt(3500),
		"USDC": decimal.NewFromInt(1),
		"WBTC": decimal.NewFromInt(95000),
		"SDAI": decimal.NewFromFloat(1.05),
	}
}

// coingeckoIDs maps token symbols to CoinGecko asset ids.
var coingeckoIDs = map[string]string{
	"WLD":  "worldcoin-wld",
	"ETH":  "ethereum",
	"WETH": "ethereum",
	"USDC": "usd-coin",
	"WBTC": "wrapped-bitcoin",
	"SDAI": "savings-dai",
}

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGecko polls the CoinGecko simple-price endpoint and serves the last
// good table. On fetch failure it falls back to the static table so the UI
// keeps showing approximate notionals.
type CoinGecko struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
	fallback Static
	logger   *zap.Logger

	mu     sync.RWMutex
	table  map[string]decimal.Decimal
	cancel context.CancelFunc
}

// CoinGeckoOption tweaks the poller.
type CoinGeckoOption func(*CoinGecko)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) CoinGeckoOption {
	return func(c *CoinGecko) { c.baseURL = u }
}

// WithInterval overrides the refresh cadence.
func WithInterval(d time.Duration) CoinGeckoOption {
	return func(c *CoinGecko) { c.interval = d }
}

func NewCoinGecko(logger *zap.Logger, opts ...CoinGeckoOption) *CoinGecko {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CoinGecko{
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: time.Minute,
		fallback: DefaultFallback(),
		logger:   logger,
		table:    make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start fetches once and then refreshes on the configured interval until
// ctx is cancelled or Stop is called.
func (c *CoinGecko) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.refresh(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx)
			}
		}
	}()
}

// Stop halts the refresh loop.
func (c *CoinGecko) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Price returns the latest known USD price for symbol.
func (c *CoinGecko) Price(symbol string) (decimal.Decimal, bool) {
	key := strings.ToUpper(symbol)
	c.mu.RLock()
	p, ok := c.table[key]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	return c.fallback.Price(key)
}

func (c *CoinGecko) refresh(ctx context.Context) {
	table, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("price refresh failed, keeping previous table", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
	c.logger.Debug("price table refreshed", zap.Int("symbols", len(table)))
}

func (c *CoinGecko) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(coingeckoIDs))
	seen := make(map[string]struct{}, len(coingeckoIDs))
	for _, id := range coingeckoIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		c.baseURL, url.QueryEscape(strings.Join(ids, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price api status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		USD json.Number `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	table := make(map[string]decimal.Decimal, len(coingeckoIDs))
	for symbol, id := range coingeckoIDs {
		entry, ok := payload[id]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(entry.USD.String())
		if err != nil {
			continue
		}
		table[symbol] = price
	}
	return table, nil
}
