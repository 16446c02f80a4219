package quote

import (
	"bytes"
	"context"
	"errors"
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
	routerAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	factoryAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	pairAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	wldAddr     = common.HexToAddress("0x2cFc85d8E48F8EAB294be644d9E25C3030863003")
	wethAddr    = common.HexToAddress("0x4200000000000000000000000000000000000006")

	wldToken  = token.ERC20(wldAddr, "WLD", "Worldcoin", 18)
	wethToken = token.ERC20(wethAddr, "WETH", "Wrapped Ether", 18)
)

// fakeChain simulates a single WLD/WETH pool with constant-product math and
// the AMM's 0.3% fee.
type fakeChain struct {
	reserveIn  *big.Int // WLD side
	reserveOut *big.Int // WETH side
	revertSim  bool
}

// getAmountOut mirrors the on-chain formula:
// floor(amountIn*997*reserveOut / (reserveIn*1000 + amountIn*997)).
func constantProductOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(1000))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	routerABI, _ := dex.RouterABI()
	method := routerABI.Methods["getAmountsOut"]
	if !bytes.Equal(msg.Data[:4], method.ID) {
		return nil, fmt.Errorf("unexpected call %x", msg.Data[:4])
	}
	if f.revertSim {
		return nil, fmt.Errorf("%w: execution reverted", chain.ErrCallReverted)
	}

	values, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	amountIn := values[0].(*big.Int)
	path := values[1].([]common.Address)

	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn
	for i := 1; i < len(path); i++ {
		amounts[i] = constantProductOut(amounts[i-1], f.reserveIn, f.reserveOut)
	}
	return method.Outputs.Pack(amounts)
}

func (f *fakeChain) CallBatch(ctx context.Context, calls []chain.BatchCall) ([]chain.BatchResult, error) {
	factoryABI, _ := dex.FactoryABI()
	pairABI, _ := dex.PairABI()

	results := make([]chain.BatchResult, len(calls))
	for i, call := range calls {
		switch {
		case bytes.Equal(call.Data[:4], factoryABI.Methods["getPair"].ID):
			data, err := factoryABI.Methods["getPair"].Outputs.Pack(pairAddr)
			results[i] = chain.BatchResult{Data: data, Err: err}
		case bytes.Equal(call.Data[:4], pairABI.Methods["getReserves"].ID):
			data, err := pairABI.Methods["getReserves"].Outputs.Pack(f.reserveIn, f.reserveOut, uint32(0))
			results[i] = chain.BatchResult{Data: data, Err: err}
		case bytes.Equal(call.Data[:4], pairABI.Methods["token0"].ID):
			data, err := pairABI.Methods["token0"].Outputs.Pack(wldAddr)
			results[i] = chain.BatchResult{Data: data, Err: err}
		default:
			results[i] = chain.BatchResult{Err: fmt.Errorf("unexpected batch call %x", call.Data[:4])}
		}
	}
	return results, nil
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestEngine(f *fakeChain, prices PriceSource) *Engine {
	return NewEngine(f, prices, routerAddr, factoryAddr, nil)
}

func TestQuoteScenarioWLDToWETH(t *testing.T) {
	fake := &fakeChain{reserveIn: e18(1000), reserveOut: e18(2)}
	engine := newTestEngine(fake, prices())

	amountIn := e18(10)
	q, err := engine.Quote(context.Background(), Request{
		Sell:        wldToken,
		Buy:         wethToken,
		Path:        []common.Address{wldAddr, wethAddr},
		AmountIn:    amountIn,
		SlippageBps: -1, // auto
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	wantOut := constantProductOut(amountIn, e18(1000), e18(2))
	if q.AmountOut.Cmp(wantOut) != 0 {
		t.Fatalf("amountOut = %s, want %s", q.AmountOut, wantOut)
	}

	wantMin := new(big.Int).Mul(wantOut, big.NewInt(9950))
	wantMin.Div(wantMin, big.NewInt(10000))
	if q.MinAmountOut.Cmp(wantMin) != 0 {
		t.Fatalf("minAmountOut = %s, want %s", q.MinAmountOut, wantMin)
	}
	if q.SlippageBps != DefaultSlippageBps {
		t.Fatalf("slippage = %d, want auto default %d", q.SlippageBps, DefaultSlippageBps)
	}

	if q.PriceImpactBps == nil {
		t.Fatalf("expected computed price impact")
	}
	// Trading 1% of the input reserve must move the price: impact is
	// negative and larger than the fee alone.
	if *q.PriceImpactBps >= 0 {
		t.Fatalf("price impact = %d bps, want negative", *q.PriceImpactBps)
	}
	if *q.PriceImpactBps > -30 || *q.PriceImpactBps < -200 {
		t.Fatalf("price impact = %d bps, outside plausible range", *q.PriceImpactBps)
	}

	if q.FeeUSD == nil || q.SellUSD == nil {
		t.Fatalf("expected USD fields with WLD priced")
	}
	// 10 WLD at $3.50 => $35 notional, fee 0.3% => $0.105.
	if !q.FeeUSD.Equal(decimal.NewFromFloat(0.105)) {
		t.Fatalf("feeUSD = %s, want 0.105", q.FeeUSD)
	}
}

func prices() PriceSource {
	return staticPrices{
		"WLD":  decimal.NewFromFloat(3.50),
		"WETH": decimal.NewFromInt(3500),
	}
}

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Price(symbol string) (decimal.Decimal, bool) {
	p, ok := s[symbol]
	return p, ok
}

func TestSlippageBound(t *testing.T) {
	amountOut := e18(7)
	for _, bps := range []int{0, 1, 50, 100, 9999, 10000} {
		minOut := MinAmountOut(amountOut, bps)
		if minOut.Cmp(amountOut) > 0 {
			t.Fatalf("minOut %s exceeds amountOut at %d bps", minOut, bps)
		}
		if bps == 0 && minOut.Cmp(amountOut) != 0 {
			t.Fatalf("minOut must equal amountOut at 0 bps, got %s", minOut)
		}
		if bps == 10000 && minOut.Sign() != 0 {
			t.Fatalf("minOut must be zero at 10000 bps, got %s", minOut)
		}
	}
}

func TestQuoteEmptyRequests(t *testing.T) {
	engine := newTestEngine(&fakeChain{reserveIn: e18(1000), reserveOut: e18(2)}, nil)

	if _, err := engine.Quote(context.Background(), Request{
		Sell: wldToken, Buy: wethToken,
		Path:     []common.Address{wldAddr, wethAddr},
		AmountIn: big.NewInt(0),
	}); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("zero amount: expected ErrNoQuote, got %v", err)
	}

	if _, err := engine.Quote(context.Background(), Request{
		Sell: wldToken, Buy: wethToken,
		AmountIn: e18(1),
	}); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("missing path: expected ErrNoQuote, got %v", err)
	}
}

func TestQuoteSimulationReverted(t *testing.T) {
	engine := newTestEngine(&fakeChain{reserveIn: e18(1000), reserveOut: e18(2), revertSim: true}, nil)

	_, err := engine.Quote(context.Background(), Request{
		Sell: wldToken, Buy: wethToken,
		Path:     []common.Address{wldAddr, wethAddr},
		AmountIn: e18(1),
	})
	if !errors.Is(err, ErrSimulationReverted) {
		t.Fatalf("expected ErrSimulationReverted, got %v", err)
	}
}

func TestQuoteMissingPriceDegrades(t *testing.T) {
	fake := &fakeChain{reserveIn: e18(1000), reserveOut: e18(2)}
	engine := newTestEngine(fake, staticPrices{}) // empty table

	q, err := engine.Quote(context.Background(), Request{
		Sell: wldToken, Buy: wethToken,
		Path:     []common.Address{wldAddr, wethAddr},
		AmountIn: e18(10),
	})
	if err != nil {
		t.Fatalf("quote must succeed without prices: %v", err)
	}
	if q.FeeUSD != nil || q.SellUSD != nil || q.BuyUSD != nil {
		t.Fatalf("USD fields must be nil when price table misses, got fee=%v sell=%v buy=%v", q.FeeUSD, q.SellUSD, q.BuyUSD)
	}
	if q.AmountOut.Sign() <= 0 || q.MinAmountOut.Sign() <= 0 {
		t.Fatalf("swap amounts must be unaffected by missing prices")
	}
}

func TestRateFormatting(t *testing.T) {
	got := formatRate(wldToken, wethToken, e18(10), new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)))
	if got != "1 WLD = 0.0020 WETH" {
		t.Fatalf("rate = %q", got)
	}
}
