// Package api serves the HTTP surface: quotes, pool listings, wallet
// positions, World ID proof verification, and the wallet-auth nonce
// ceremony.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orbidswap/internal/amount"
	"orbidswap/internal/chain"
	"orbidswap/internal/metrics"
	"orbidswap/internal/pools"
	"orbidswap/internal/quote"
	"orbidswap/internal/router"
	"orbidswap/internal/token"
)

const nonceCookie = "siwe"

// QuoteService computes swap quotes.
type QuoteService interface {
	Quote(ctx context.Context, req quote.Request) (*quote.Quote, error)
}

// PoolService lists pools and wallet positions.
type PoolService interface {
	List(ctx context.Context, maxCount int) ([]pools.Summary, error)
	Positions(ctx context.Context, owner common.Address, maxCount int) ([]pools.Position, error)
}

// TokenResolver loads token metadata by address.
type TokenResolver interface {
	Resolve(ctx context.Context, address common.Address) (token.Token, error)
}

// SnapshotSource serves the last persisted pool list when the chain is
// unreachable.
type SnapshotSource interface {
	LatestSnapshots(ctx context.Context, limit int) ([]pools.Summary, error)
}

// Config holds the server's fixed parameters.
type Config struct {
	// AppID identifies the application at the proof verifier. Empty means
	// verification is unconfigured and /api/verify answers 500.
	AppID string
	// VerifierURL is the verification service base; the app id is appended.
	VerifierURL string
	MaxPools    int
	// Native is the chain's native coin; Base its wrapped address.
	Native   token.Token
	Base     common.Address
	NonceTTL time.Duration
}

// Server wires the HTTP routes to the swap core.
type Server struct {
	quotes    QuoteService
	pools     PoolService
	tokens    TokenResolver
	snapshots SnapshotSource
	nonces    *NonceStore
	stats     *metrics.Metrics
	cfg       Config
	logger    *zap.Logger
	client    *http.Client
	engine    *gin.Engine
}

func NewServer(quotes QuoteService, poolSvc PoolService, tokens TokenResolver, stats *metrics.Metrics, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = 50
	}
	if cfg.VerifierURL == "" {
		cfg.VerifierURL = "https://developer.worldcoin.org/api/v2/verify"
	}

	s := &Server{
		quotes: quotes,
		pools:  poolSvc,
		tokens: tokens,
		nonces: NewNonceStore(cfg.NonceTTL),
		stats:  stats,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/api/nonce", s.handleNonce)
	engine.POST("/api/complete-siwe", s.handleCompleteSIWE)
	engine.POST("/api/verify", s.handleVerify)
	engine.GET("/api/quote", s.handleQuote)
	engine.GET("/api/pools", s.handlePools)
	engine.GET("/api/positions", s.handlePositions)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s
}

// SetSnapshotSource enables serving stored pool snapshots when the live
// listing fails with a network error. Set once during wiring.
func (s *Server) SetSnapshotSource(src SnapshotSource) {
	s.snapshots = src
}

// Handler exposes the routes for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleNonce(c *gin.Context) {
	nonce, err := s.nonces.Issue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce generation failed"})
		return
	}
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(nonceCookie, nonce, int(s.nonces.ttl.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

type siwePayload struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Address   string `json:"address" binding:"required"`
}

type completeSIWERequest struct {
	Payload siwePayload `json:"payload" binding:"required"`
	Nonce   string      `json:"nonce" binding:"required"`
}

func (s *Server) handleCompleteSIWE(c *gin.Context) {
	var req completeSIWERequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "isValid": false, "message": err.Error()})
		return
	}

	cookie, err := c.Cookie(nonceCookie)
	if err != nil || cookie != req.Nonce {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "isValid": false, "message": "nonce mismatch"})
		return
	}
	if !s.nonces.Consume(req.Nonce) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "isValid": false, "message": "nonce expired or reused"})
		return
	}
	if nonce, ok := messageNonce(req.Payload.Message); !ok || nonce != req.Nonce {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "isValid": false, "message": "message nonce mismatch"})
		return
	}

	signer, err := recoverSigner(req.Payload.Message, req.Payload.Signature)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "isValid": false, "message": err.Error()})
		return
	}
	if signer != common.HexToAddress(req.Payload.Address) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "isValid": false, "message": "signature does not match address"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "isValid": true, "address": signer.Hex()})
}

func (s *Server) handleVerify(c *gin.Context) {
	if s.cfg.AppID == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verifier app id not configured"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	url := s.cfg.VerifierURL + "/" + s.cfg.AppID
	upstream, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verifier request failed"})
		return
	}
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(upstream)
	if err != nil {
		s.logger.Warn("proof verifier unreachable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "verifier unreachable"})
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "verifier response unreadable"})
		return
	}
	c.Data(resp.StatusCode, "application/json", payload)
}

func (s *Server) handleQuote(c *gin.Context) {
	start := time.Now()

	sell, err := s.parseToken(c, c.Query("sell"))
	if err != nil {
		s.countQuote(metrics.OutcomeError)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown sell token"})
		return
	}
	buy, err := s.parseToken(c, c.Query("buy"))
	if err != nil {
		s.countQuote(metrics.OutcomeError)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown buy token"})
		return
	}

	amountIn, err := amount.ToFixedPoint(c.Query("amount"), sell.Decimals)
	if err != nil {
		s.countQuote(metrics.OutcomeError)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	slippageBps := -1
	if raw := c.Query("slippageBps"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > 10000 {
			s.countQuote(metrics.OutcomeError)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slippage"})
			return
		}
		slippageBps = parsed
	}

	path, err := router.ComputePath(sell, buy, s.cfg.Base)
	if err != nil {
		s.countQuote(metrics.OutcomeNoRoute)
		c.JSON(http.StatusBadRequest, gin.H{"error": "no route between tokens"})
		return
	}

	q, err := s.quotes.Quote(c.Request.Context(), quote.Request{
		Sell:        sell,
		Buy:         buy,
		Path:        path,
		AmountIn:    amountIn,
		SlippageBps: slippageBps,
	})
	if err != nil {
		switch {
		case errors.Is(err, quote.ErrSimulationReverted):
			s.countQuote(metrics.OutcomeReverted)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "swap would revert"})
		case errors.Is(err, chain.ErrNetwork):
			s.countQuote(metrics.OutcomeError)
			c.JSON(http.StatusBadGateway, gin.H{"error": "chain unreachable"})
		default:
			s.countQuote(metrics.OutcomeError)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	s.countQuote(metrics.OutcomeOK)
	if s.stats != nil {
		s.stats.QuoteDuration.Observe(time.Since(start).Seconds())
	}

	resp := gin.H{
		"amountIn":     amount.ToDecimalString(q.AmountIn, sell.Decimals),
		"amountOut":    amount.ToDecimalString(q.AmountOut, buy.Decimals),
		"minAmountOut": amount.ToDecimalString(q.MinAmountOut, buy.Decimals),
		"rate":         q.Rate,
		"slippageBps":  q.SlippageBps,
		"path":         path,
	}
	if q.PriceImpactBps != nil {
		resp["priceImpactBps"] = *q.PriceImpactBps
	}
	if q.SellUSD != nil {
		resp["sellUsd"] = q.SellUSD.String()
	}
	if q.BuyUSD != nil {
		resp["buyUsd"] = q.BuyUSD.String()
	}
	if q.FeeUSD != nil {
		resp["feeUsd"] = q.FeeUSD.String()
	}
	c.JSON(http.StatusOK, resp)
}

// maxParam reads the optional max query parameter, clamped to the
// configured ceiling. A false return means the request was already
// answered with 400.
func (s *Server) maxParam(c *gin.Context) (int, bool) {
	max := s.cfg.MaxPools
	if raw := c.Query("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max"})
			return 0, false
		}
		if parsed < max {
			max = parsed
		}
	}
	return max, true
}

func (s *Server) handlePools(c *gin.Context) {
	max, ok := s.maxParam(c)
	if !ok {
		return
	}

	start := time.Now()
	list, err := s.pools.List(c.Request.Context(), max)
	if err != nil {
		if s.snapshots != nil && errors.Is(err, chain.ErrNetwork) {
			stored, serr := s.snapshots.LatestSnapshots(c.Request.Context(), max)
			if serr == nil {
				s.logger.Warn("chain unreachable, serving stored pool snapshots", zap.Error(err))
				s.writePools(c, stored, true)
				return
			}
			s.logger.Warn("pool snapshot fallback failed", zap.Error(serr))
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "pool listing failed"})
		return
	}
	if s.stats != nil {
		s.stats.PoolListDuration.Observe(time.Since(start).Seconds())
	}
	s.writePools(c, list, false)
}

func (s *Server) writePools(c *gin.Context, list []pools.Summary, stale bool) {
	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		item := gin.H{
			"pair":     p.Address.Hex(),
			"token0":   tokenJSON(p.Token0),
			"token1":   tokenJSON(p.Token1),
			"reserve0": amount.ToDecimalString(p.Reserve0, p.Token0.Decimals),
			"reserve1": amount.ToDecimalString(p.Reserve1, p.Token1.Decimals),
			"rate":     p.ExchangeRate,
		}
		if p.TVLUSD != nil {
			item["tvlUsd"] = p.TVLUSD.String()
		}
		out = append(out, item)
	}
	resp := gin.H{"pools": out}
	if stale {
		resp["stale"] = true
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	raw := c.Query("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	owner := common.HexToAddress(raw)

	max, ok := s.maxParam(c)
	if !ok {
		return
	}

	list, err := s.pools.Positions(c.Request.Context(), owner, max)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "position listing failed"})
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		out = append(out, gin.H{
			"pair":    p.Pair.Hex(),
			"token0":  tokenJSON(p.Token0),
			"token1":  tokenJSON(p.Token1),
			"balance": amount.ToDecimalString(p.Balance, 18),
			"share":   p.SharePercent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) parseToken(c *gin.Context, raw string) (token.Token, error) {
	if raw == "native" {
		return s.cfg.Native, nil
	}
	if !common.IsHexAddress(raw) {
		return token.Token{}, fmt.Errorf("invalid token address %q", raw)
	}
	return s.tokens.Resolve(c.Request.Context(), common.HexToAddress(raw))
}

func (s *Server) countQuote(outcome string) {
	if s.stats != nil {
		s.stats.QuotesTotal.WithLabelValues(outcome).Inc()
	}
}

func tokenJSON(t token.Token) gin.H {
	return gin.H{
		"address":  t.Address.Hex(),
		"symbol":   t.Symbol,
		"decimals": t.Decimals,
	}
}
