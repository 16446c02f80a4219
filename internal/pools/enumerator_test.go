package pools

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"orbidswap/internal/chain"
	"orbidswap/internal/dex"
	"orbidswap/internal/token"
)

var (
	factoryAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	wldAddr     = common.HexToAddress("0x2cFc85d8E48F8EAB294be644d9E25C3030863003")
	wethAddr    = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr    = common.HexToAddress("0x79A02482A880bCE3F13e09Da970dC34db4CD24d1")
	mysteryAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")
	ownerAddr   = common.HexToAddress("0xAAAA00000000000000000000000000000000AAAA")

	wldToken  = token.ERC20(wldAddr, "WLD", "Worldcoin", 18)
	wethToken = token.ERC20(wethAddr, "WETH", "Wrapped Ether", 18)
)

type fakePool struct {
	addr      common.Address
	token0    common.Address
	token1    common.Address
	reserve0  *big.Int
	reserve1  *big.Int
	lpBalance *big.Int
	lpSupply  *big.Int
}

type fakeRegistry struct {
	pools []fakePool
}

func (f *fakeRegistry) poolAt(addr common.Address) (fakePool, bool) {
	for _, p := range f.pools {
		if p.addr == addr {
			return p, true
		}
	}
	return fakePool{}, false
}

func (f *fakeRegistry) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	res := f.dispatch(chain.BatchCall{To: *msg.To, Data: msg.Data})
	return res.Data, res.Err
}

func (f *fakeRegistry) CallBatch(ctx context.Context, calls []chain.BatchCall) ([]chain.BatchResult, error) {
	results := make([]chain.BatchResult, len(calls))
	for i, call := range calls {
		results[i] = f.dispatch(call)
	}
	return results, nil
}

func (f *fakeRegistry) dispatch(call chain.BatchCall) chain.BatchResult {
	factoryABI, _ := dex.FactoryABI()
	pairABI, _ := dex.PairABI()
	erc20ABI, _ := dex.ERC20ABI()

	selector := call.Data[:4]
	pack := func(data []byte, err error) chain.BatchResult {
		return chain.BatchResult{Data: data, Err: err}
	}

	switch {
	case bytes.Equal(selector, factoryABI.Methods["allPairsLength"].ID):
		return pack(factoryABI.Methods["allPairsLength"].Outputs.Pack(big.NewInt(int64(len(f.pools)))))

	case bytes.Equal(selector, factoryABI.Methods["allPairs"].ID):
		values, err := factoryABI.Methods["allPairs"].Inputs.Unpack(call.Data[4:])
		if err != nil {
			return chain.BatchResult{Err: err}
		}
		idx := int(values[0].(*big.Int).Int64())
		return pack(factoryABI.Methods["allPairs"].Outputs.Pack(f.pools[idx].addr))

	case bytes.Equal(selector, pairABI.Methods["token0"].ID):
		p, ok := f.poolAt(call.To)
		if !ok {
			return chain.BatchResult{Err: fmt.Errorf("no pool at %s", call.To)}
		}
		return pack(pairABI.Methods["token0"].Outputs.Pack(p.token0))

	case bytes.Equal(selector, pairABI.Methods["token1"].ID):
		p, _ := f.poolAt(call.To)
		return pack(pairABI.Methods["token1"].Outputs.Pack(p.token1))

	case bytes.Equal(selector, pairABI.Methods["getReserves"].ID):
		p, _ := f.poolAt(call.To)
		return pack(pairABI.Methods["getReserves"].Outputs.Pack(p.reserve0, p.reserve1, uint32(0)))

	case bytes.Equal(selector, pairABI.Methods["balanceOf"].ID):
		p, _ := f.poolAt(call.To)
		return pack(pairABI.Methods["balanceOf"].Outputs.Pack(p.lpBalance))

	case bytes.Equal(selector, pairABI.Methods["totalSupply"].ID):
		p, _ := f.poolAt(call.To)
		return pack(pairABI.Methods["totalSupply"].Outputs.Pack(p.lpSupply))

	case bytes.Equal(selector, erc20ABI.Methods["symbol"].ID):
		if call.To == mysteryAddr {
			return pack(erc20ABI.Methods["symbol"].Outputs.Pack("MYST"))
		}
		return pack(erc20ABI.Methods["symbol"].Outputs.Pack("USDC"))

	case bytes.Equal(selector, erc20ABI.Methods["decimals"].ID):
		if call.To == usdcAddr {
			return pack(erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6)))
		}
		return pack(erc20ABI.Methods["decimals"].Outputs.Pack(uint8(18)))
	}
	return chain.BatchResult{Err: fmt.Errorf("unexpected selector %x", selector)}
}

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := s[symbol]
	return p, ok
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func pairAt(i int) common.Address {
	return common.BigToAddress(new(big.Int).Add(big.NewInt(0x5000), big.NewInt(int64(i))))
}

func newTestEnumerator(reg *fakeRegistry) *Enumerator {
	resolver := token.NewResolver(reg, nil)
	resolver.Seed(wldToken, wethToken)
	return NewEnumerator(reg, resolver, staticPrices{"WLD": decimal.NewFromFloat(3.50)}, Config{
		Factory:           factoryAddr,
		Base:              wldToken,
		FallbackUnitPrice: decimal.NewFromFloat(1.5),
	}, nil)
}

func manyPools(n int) *fakeRegistry {
	reg := &fakeRegistry{}
	for i := 0; i < n; i++ {
		reg.pools = append(reg.pools, fakePool{
			addr:      pairAt(i),
			token0:    wldAddr,
			token1:    wethAddr,
			reserve0:  e18(int64(1000 + i)),
			reserve1:  e18(2),
			lpSupply:  e18(100),
			lpBalance: big.NewInt(0),
		})
	}
	return reg
}

func TestListBoundedByMaxCount(t *testing.T) {
	reg := manyPools(10)
	enum := newTestEnumerator(reg)

	got, err := enum.List(context.Background(), 6)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	// Factory registration order, no re-sorting.
	for i, s := range got {
		if s.Address != pairAt(i) {
			t.Fatalf("pool %d = %s, want %s", i, s.Address.Hex(), pairAt(i).Hex())
		}
	}
}

func TestListClampsToRegistrySize(t *testing.T) {
	reg := manyPools(3)
	enum := newTestEnumerator(reg)

	got, err := enum.List(context.Background(), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want all 3", len(got))
	}
}

func TestListTVLAndRate(t *testing.T) {
	reg := &fakeRegistry{pools: []fakePool{
		{
			addr: pairAt(0), token0: wldAddr, token1: wethAddr,
			reserve0: e18(1000), reserve1: e18(2),
			lpSupply: e18(100), lpBalance: big.NewInt(0),
		},
		{
			// No base-token leg: valued by the fallback heuristic.
			addr: pairAt(1), token0: usdcAddr, token1: mysteryAddr,
			reserve0: big.NewInt(500_000_000), reserve1: e18(400),
			lpSupply: e18(100), lpBalance: big.NewInt(0),
		},
	}}
	enum := newTestEnumerator(reg)

	got, err := enum.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// 1000 WLD at $3.50, doubled for the other leg.
	if got[0].TVLUSD == nil || !got[0].TVLUSD.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("base-leg TVL = %v, want 7000", got[0].TVLUSD)
	}
	if got[0].ExchangeRate != "500.0000" {
		t.Fatalf("rate = %q, want 500.0000", got[0].ExchangeRate)
	}

	// (500 + 400) x 1.5 with 6- and 18-decimal reserves normalized.
	if got[1].TVLUSD == nil || !got[1].TVLUSD.Equal(decimal.NewFromInt(1350)) {
		t.Fatalf("fallback TVL = %v, want 1350", got[1].TVLUSD)
	}

	// Metadata read from chain, not assumed.
	if got[1].Token0.Symbol != "USDC" || got[1].Token0.Decimals != 6 {
		t.Fatalf("token0 = %s/%d, want USDC/6", got[1].Token0.Symbol, got[1].Token0.Decimals)
	}
	if got[1].Token1.Symbol != "MYST" {
		t.Fatalf("token1 = %s, want MYST", got[1].Token1.Symbol)
	}
}

func TestListZeroReserveRate(t *testing.T) {
	reg := &fakeRegistry{pools: []fakePool{{
		addr: pairAt(0), token0: wldAddr, token1: wethAddr,
		reserve0: e18(5), reserve1: big.NewInt(0),
		lpSupply: big.NewInt(0), lpBalance: big.NewInt(0),
	}}}
	enum := newTestEnumerator(reg)

	got, err := enum.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got[0].ExchangeRate != "0" {
		t.Fatalf("rate = %q, want 0 for empty reserve", got[0].ExchangeRate)
	}
}

func TestPositionsShare(t *testing.T) {
	reg := &fakeRegistry{pools: []fakePool{
		{
			addr: pairAt(0), token0: wldAddr, token1: wethAddr,
			reserve0: e18(1000), reserve1: e18(2),
			lpSupply: e18(100), lpBalance: e18(25),
		},
		{
			// Zero balance: excluded from positions.
			addr: pairAt(1), token0: wldAddr, token1: wethAddr,
			reserve0: e18(10), reserve1: e18(10),
			lpSupply: e18(100), lpBalance: big.NewInt(0),
		},
	}}
	enum := newTestEnumerator(reg)

	got, err := enum.Positions(context.Background(), ownerAddr, 10)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want only the nonzero position", len(got))
	}
	if got[0].SharePercent != "25.00%" {
		t.Fatalf("share = %q, want 25.00%%", got[0].SharePercent)
	}
	if got[0].Balance.Cmp(e18(25)) != 0 {
		t.Fatalf("balance = %s", got[0].Balance)
	}
}

func TestSharePercentRounding(t *testing.T) {
	cases := []struct {
		balance, total int64
		want           string
	}{
		{25, 100, "25.00%"},
		{1, 3, "33.33%"},
		{2, 3, "66.67%"},
		{100, 100, "100.00%"},
		{0, 0, "0.00%"},
	}
	for _, tc := range cases {
		got := sharePercent(big.NewInt(tc.balance), big.NewInt(tc.total))
		if got != tc.want {
			t.Fatalf("sharePercent(%d/%d) = %q, want %q", tc.balance, tc.total, got, tc.want)
		}
	}
}
