package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"orbidswap/internal/chain"
	"orbidswap/internal/pools"
	"orbidswap/internal/quote"
	"orbidswap/internal/token"
)

type stubQuotes struct{}

func (stubQuotes) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	return nil, quote.ErrNoQuote
}

type stubPools struct{}

func (stubPools) List(ctx context.Context, maxCount int) ([]pools.Summary, error) {
	return nil, nil
}

func (stubPools) Positions(ctx context.Context, owner common.Address, maxCount int) ([]pools.Position, error) {
	return nil, nil
}

type stubTokens struct{}

func (stubTokens) Resolve(ctx context.Context, address common.Address) (token.Token, error) {
	return token.ERC20(address, "TKN", "Token", 18), nil
}

func newTestServer() *Server {
	return NewServer(stubQuotes{}, stubPools{}, stubTokens{}, nil, Config{
		Native: token.Native("ETH", "Ether", 18),
		Base:   common.HexToAddress("0x2cFc85d8E48F8EAB294be644d9E25C3030863003"),
	}, nil)
}

func issueNonce(t *testing.T, srv *Server) (string, []*http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/nonce", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("nonce status = %d", rec.Code)
	}
	var body struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode nonce: %v", err)
	}
	if body.Nonce == "" {
		t.Fatalf("empty nonce")
	}
	return body.Nonce, rec.Result().Cookies()
}

func signInBody(t *testing.T, nonce string) ([]byte, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	message := strings.Join([]string{
		"orbidswap.example wants you to sign in with your Ethereum account:",
		address.Hex(),
		"",
		"URI: https://orbidswap.example",
		"Version: 1",
		"Chain ID: 480",
		"Nonce: " + nonce,
	}, "\n")

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27 // wallet-style V

	body, err := json.Marshal(map[string]interface{}{
		"payload": map[string]string{
			"message":   message,
			"signature": "0x" + fmt.Sprintf("%x", sig),
			"address":   address.Hex(),
		},
		"nonce": nonce,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body, address
}

func postSIWE(srv *Server, body []byte, cookies []*http.Cookie) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/complete-siwe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCompleteSIWE(t *testing.T) {
	srv := newTestServer()
	nonce, cookies := issueNonce(t, srv)
	body, address := signInBody(t, nonce)

	rec := postSIWE(srv, body, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		IsValid bool   `json:"isValid"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid sign-in")
	}
	if common.HexToAddress(resp.Address) != address {
		t.Fatalf("address = %s, want %s", resp.Address, address.Hex())
	}
}

func TestCompleteSIWEReplayRejected(t *testing.T) {
	srv := newTestServer()
	nonce, cookies := issueNonce(t, srv)
	body, _ := signInBody(t, nonce)

	if rec := postSIWE(srv, body, cookies); rec.Code != http.StatusOK {
		t.Fatalf("first sign-in failed: %d", rec.Code)
	}
	// Same nonce, same signature: the nonce is already consumed.
	if rec := postSIWE(srv, body, cookies); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rec.Code)
	}
}

func TestCompleteSIWEWithoutCookieRejected(t *testing.T) {
	srv := newTestServer()
	nonce, _ := issueNonce(t, srv)
	body, _ := signInBody(t, nonce)

	if rec := postSIWE(srv, body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without the nonce cookie", rec.Code)
	}
}

func TestCompleteSIWEWrongAddressRejected(t *testing.T) {
	srv := newTestServer()
	nonce, cookies := issueNonce(t, srv)
	body, _ := signInBody(t, nonce)

	// Claim a different account than the one that signed.
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded["payload"].(map[string]interface{})["address"] = "0x000000000000000000000000000000000000dEaD"
	tampered, _ := json.Marshal(decoded)

	if rec := postSIWE(srv, tampered, cookies); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for address mismatch", rec.Code)
	}
}

func TestVerifyUnconfigured(t *testing.T) {
	srv := newTestServer() // no app id
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(`{"proof":"x"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when verification is unconfigured", rec.Code)
	}
}

func TestVerifyProxiesToVerifier(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/app_test") {
			t.Errorf("verifier path = %s, want app id suffix", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer upstream.Close()

	srv := NewServer(stubQuotes{}, stubPools{}, stubTokens{}, nil, Config{
		AppID:       "app_test",
		VerifierURL: upstream.URL,
		Native:      token.Native("ETH", "Ether", 18),
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(`{"proof":"x"}`))
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQuoteRejectsBadAmount(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/quote?sell=native&buy=0x2cFc85d8E48F8EAB294be644d9E25C3030863003&amount=abc", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-numeric amount", rec.Code)
	}
}

func TestPositionsRejectsBadAddress(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/positions?address=zzz", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// capturePools records the bound it was asked for.
type capturePools struct {
	gotMax int
}

func (c *capturePools) List(ctx context.Context, maxCount int) ([]pools.Summary, error) {
	c.gotMax = maxCount
	return nil, nil
}

func (c *capturePools) Positions(ctx context.Context, owner common.Address, maxCount int) ([]pools.Position, error) {
	c.gotMax = maxCount
	return nil, nil
}

func TestPositionsHonorsMaxParam(t *testing.T) {
	capture := &capturePools{}
	srv := NewServer(stubQuotes{}, capture, stubTokens{}, nil, Config{
		Native:   token.Native("ETH", "Ether", 18),
		MaxPools: 50,
	}, nil)

	owner := "0x2cFc85d8E48F8EAB294be644d9E25C3030863003"
	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/positions?address="+owner+query, nil)
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := get("&max=3"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if capture.gotMax != 3 {
		t.Fatalf("max = %d, want 3 from the query", capture.gotMax)
	}

	// Above the configured ceiling: clamped, not honored.
	if rec := get("&max=500"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if capture.gotMax != 50 {
		t.Fatalf("max = %d, want the 50 ceiling", capture.gotMax)
	}

	if rec := get(""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if capture.gotMax != 50 {
		t.Fatalf("default max = %d, want 50", capture.gotMax)
	}

	if rec := get("&max=0"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-positive max", rec.Code)
	}
}

// downPools fails every listing the way an unreachable node does.
type downPools struct{}

func (downPools) List(ctx context.Context, maxCount int) ([]pools.Summary, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", chain.ErrNetwork)
}

func (downPools) Positions(ctx context.Context, owner common.Address, maxCount int) ([]pools.Position, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", chain.ErrNetwork)
}

type stubSnapshots struct {
	list     []pools.Summary
	gotLimit int
}

func (s *stubSnapshots) LatestSnapshots(ctx context.Context, limit int) ([]pools.Summary, error) {
	s.gotLimit = limit
	return s.list, nil
}

func TestPoolsServedFromSnapshotsWhenChainDown(t *testing.T) {
	pair := common.HexToAddress("0x0000000000000000000000000000000000005001")
	snaps := &stubSnapshots{list: []pools.Summary{{
		Address:      pair,
		Token0:       token.ERC20(common.HexToAddress("0x2cFc85d8E48F8EAB294be644d9E25C3030863003"), "WLD", "Worldcoin", 18),
		Token1:       token.ERC20(common.HexToAddress("0x4200000000000000000000000000000000000006"), "WETH", "Wrapped Ether", 18),
		Reserve0:     big.NewInt(1000),
		Reserve1:     big.NewInt(2),
		ExchangeRate: "500.0000",
	}}}

	srv := NewServer(stubQuotes{}, downPools{}, stubTokens{}, nil, Config{
		Native:   token.Native("ETH", "Ether", 18),
		MaxPools: 50,
	}, nil)
	srv.SetSnapshotSource(snaps)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pools?max=10", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if snaps.gotLimit != 10 {
		t.Fatalf("snapshot limit = %d, want the request bound 10", snaps.gotLimit)
	}

	var resp struct {
		Stale bool `json:"stale"`
		Pools []struct {
			Pair string `json:"pair"`
		} `json:"pools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Stale {
		t.Fatalf("snapshot-backed response must be marked stale")
	}
	if len(resp.Pools) != 1 || common.HexToAddress(resp.Pools[0].Pair) != pair {
		t.Fatalf("pools = %+v, want the stored pair", resp.Pools)
	}
}

func TestPoolsFailsWithoutSnapshotFallback(t *testing.T) {
	srv := NewServer(stubQuotes{}, downPools{}, stubTokens{}, nil, Config{
		Native: token.Native("ETH", "Ether", 18),
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 with no stored snapshots", rec.Code)
	}
}
