// Package quote turns a path and an input amount into a displayable quote:
// simulated output, slippage-bounded minimum output, exchange rate, USD fee
// estimate, and reserve-based price impact.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orbidswap/internal/amount"
	"orbidswap/internal/chain"
	"orbidswap/internal/dex"
	"orbidswap/internal/token"
)

const (
	// DefaultSlippageBps is the "auto" slippage tolerance: 0.50%.
	DefaultSlippageBps = 50

	// swapFeeRate is the AMM's fixed 0.3% swap fee, applied to the input
	// USD notional for the fee estimate.
	swapFeeRateBps = 30

	bpsDenominator = 10000
)

var (
	// ErrNoQuote marks an empty request: zero amount or no path. The UI
	// shows its empty state, nothing is fetched.
	ErrNoQuote = errors.New("nothing to quote")

	// ErrSimulationReverted marks a reverting amounts simulation, e.g. a
	// pool with zero liquidity. Surfaced as "quote unavailable".
	ErrSimulationReverted = errors.New("simulation reverted")
)

// ChainReader is the read-only slice of the gateway the engine needs.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CallBatch(ctx context.Context, calls []chain.BatchCall) ([]chain.BatchResult, error)
}

// PriceSource answers symbol -> USD lookups; a miss degrades USD fields.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Request describes one quote computation.
type Request struct {
	Sell        token.Token
	Buy         token.Token
	Path        []common.Address
	AmountIn    *big.Int
	SlippageBps int // negative means "auto"
}

// Quote is the derived, ephemeral result. USD fields are nil when the
// reference price table has no entry; PriceImpactBps is nil when reserves
// could not be read.
type Quote struct {
	AmountIn       *big.Int
	AmountOut      *big.Int
	MinAmountOut   *big.Int
	Amounts        []*big.Int
	Rate           string
	SellUSD        *decimal.Decimal
	BuyUSD         *decimal.Decimal
	FeeUSD         *decimal.Decimal
	PriceImpactBps *int64
	SlippageBps    int
}

// Engine computes quotes against the deployed router and factory.
type Engine struct {
	reader  ChainReader
	prices  PriceSource
	router  common.Address
	factory common.Address
	logger  *zap.Logger
}

func NewEngine(reader ChainReader, prices PriceSource, router, factory common.Address, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reader:  reader,
		prices:  prices,
		router:  router,
		factory: factory,
		logger:  logger,
	}
}

// Quote runs the amounts-out simulation for the request and derives the
// display values.
func (e *Engine) Quote(ctx context.Context, req Request) (*Quote, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 || len(req.Path) < 2 {
		return nil, ErrNoQuote
	}

	slippageBps := req.SlippageBps
	if slippageBps < 0 {
		slippageBps = DefaultSlippageBps
	}
	if slippageBps > bpsDenominator {
		return nil, fmt.Errorf("slippage %d bps out of range", slippageBps)
	}

	amounts, err := e.amountsOut(ctx, req.AmountIn, req.Path)
	if err != nil {
		return nil, err
	}
	amountOut := amounts[len(amounts)-1]

	q := &Quote{
		AmountIn:     new(big.Int).Set(req.AmountIn),
		AmountOut:    amountOut,
		MinAmountOut: MinAmountOut(amountOut, slippageBps),
		Amounts:      amounts,
		SlippageBps:  slippageBps,
	}

	q.Rate = formatRate(req.Sell, req.Buy, req.AmountIn, amountOut)
	e.attachUSD(q, req)

	if impact, err := e.priceImpact(ctx, req.Path, amounts); err != nil {
		e.logger.Debug("price impact unavailable", zap.Error(err))
	} else {
		q.PriceImpactBps = &impact
	}

	return q, nil
}

// MinAmountOut applies the slippage tolerance:
// floor(amountOut x (10000 - bps) / 10000).
func MinAmountOut(amountOut *big.Int, slippageBps int) *big.Int {
	minOut := new(big.Int).Mul(amountOut, big.NewInt(int64(bpsDenominator-slippageBps)))
	return minOut.Div(minOut, big.NewInt(bpsDenominator))
}

func (e *Engine) amountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	routerABI, err := dex.RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}

	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	to := e.router
	resp, err := e.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, fmt.Errorf("%w: %v", ErrSimulationReverted, err)
		}
		return nil, err
	}

	values, err := routerABI.Unpack("getAmountsOut", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAmountsOut type %T", values[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut returned %d amounts for %d-hop path", len(amounts), len(path))
	}
	return amounts, nil
}

func (e *Engine) attachUSD(q *Quote, req Request) {
	if e.prices == nil {
		return
	}

	sellHuman, err := decimal.NewFromString(amount.ToDecimalString(q.AmountIn, req.Sell.Decimals))
	if err == nil {
		if price, ok := e.prices.Price(req.Sell.Symbol); ok {
			sellUSD := sellHuman.Mul(price)
			feeUSD := sellUSD.Mul(decimal.New(swapFeeRateBps, -4))
			q.SellUSD = &sellUSD
			q.FeeUSD = &feeUSD
		}
	}

	buyHuman, err := decimal.NewFromString(amount.ToDecimalString(q.AmountOut, req.Buy.Decimals))
	if err == nil {
		if price, ok := e.prices.Price(req.Buy.Symbol); ok {
			buyUSD := buyHuman.Mul(price)
			q.BuyUSD = &buyUSD
		}
	}
}

// priceImpact compares the execution price of each hop against the pool's
// pre-trade spot price and compounds the hops. The result is in basis
// points, negative for the usual worse-than-spot case. Decimals cancel
// within a hop because both ratios are taken over the same token pair in
// raw units.
func (e *Engine) priceImpact(ctx context.Context, path []common.Address, amounts []*big.Int) (int64, error) {
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return 0, fmt.Errorf("parse factory abi: %w", err)
	}
	pairABI, err := dex.PairABI()
	if err != nil {
		return 0, fmt.Errorf("parse pair abi: %w", err)
	}

	hops := len(path) - 1
	pairCalls := make([]chain.BatchCall, hops)
	for i := 0; i < hops; i++ {
		data, err := factoryABI.Pack("getPair", path[i], path[i+1])
		if err != nil {
			return 0, fmt.Errorf("pack getPair: %w", err)
		}
		pairCalls[i] = chain.BatchCall{To: e.factory, Data: data}
	}

	pairResults, err := e.reader.CallBatch(ctx, pairCalls)
	if err != nil {
		return 0, err
	}

	pairs := make([]common.Address, hops)
	for i, res := range pairResults {
		if res.Err != nil {
			return 0, fmt.Errorf("getPair hop %d: %w", i, res.Err)
		}
		values, err := factoryABI.Unpack("getPair", res.Data)
		if err != nil {
			return 0, fmt.Errorf("unpack getPair: %w", err)
		}
		pair, ok := values[0].(common.Address)
		if !ok {
			return 0, fmt.Errorf("unexpected getPair type %T", values[0])
		}
		if pair == (common.Address{}) {
			return 0, fmt.Errorf("no pair for hop %d", i)
		}
		pairs[i] = pair
	}

	reservesData, err := pairABI.Pack("getReserves")
	if err != nil {
		return 0, fmt.Errorf("pack getReserves: %w", err)
	}
	token0Data, err := pairABI.Pack("token0")
	if err != nil {
		return 0, fmt.Errorf("pack token0: %w", err)
	}

	detailCalls := make([]chain.BatchCall, 0, hops*2)
	for _, pair := range pairs {
		detailCalls = append(detailCalls,
			chain.BatchCall{To: pair, Data: reservesData},
			chain.BatchCall{To: pair, Data: token0Data},
		)
	}

	detailResults, err := e.reader.CallBatch(ctx, detailCalls)
	if err != nil {
		return 0, err
	}

	// ratio accumulates prod(executionPrice_i / spotPrice_i).
	ratio := new(big.Rat).SetInt64(1)
	for i := 0; i < hops; i++ {
		reservesRes := detailResults[i*2]
		token0Res := detailResults[i*2+1]
		if reservesRes.Err != nil {
			return 0, fmt.Errorf("getReserves hop %d: %w", i, reservesRes.Err)
		}
		if token0Res.Err != nil {
			return 0, fmt.Errorf("token0 hop %d: %w", i, token0Res.Err)
		}

		reserveValues, err := pairABI.Unpack("getReserves", reservesRes.Data)
		if err != nil {
			return 0, fmt.Errorf("unpack getReserves: %w", err)
		}
		reserve0, ok0 := reserveValues[0].(*big.Int)
		reserve1, ok1 := reserveValues[1].(*big.Int)
		if !ok0 || !ok1 {
			return 0, fmt.Errorf("unexpected getReserves types")
		}

		token0Values, err := pairABI.Unpack("token0", token0Res.Data)
		if err != nil {
			return 0, fmt.Errorf("unpack token0: %w", err)
		}
		token0, ok := token0Values[0].(common.Address)
		if !ok {
			return 0, fmt.Errorf("unexpected token0 type %T", token0Values[0])
		}

		reserveIn, reserveOut := reserve0, reserve1
		if token0 != path[i] {
			reserveIn, reserveOut = reserve1, reserve0
		}
		if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
			return 0, fmt.Errorf("empty reserves for hop %d", i)
		}
		if amounts[i].Sign() == 0 {
			return 0, fmt.Errorf("zero input for hop %d", i)
		}

		execution := new(big.Rat).SetFrac(amounts[i+1], amounts[i])
		spot := new(big.Rat).SetFrac(reserveOut, reserveIn)
		ratio.Mul(ratio, execution.Quo(execution, spot))
	}

	// impact = (ratio - 1) in bps, rounded toward zero.
	impact := ratio.Sub(ratio, new(big.Rat).SetInt64(1))
	impact.Mul(impact, new(big.Rat).SetInt64(bpsDenominator))
	bps := new(big.Int).Quo(impact.Num(), impact.Denom())
	if !bps.IsInt64() {
		return 0, fmt.Errorf("price impact out of range")
	}
	return bps.Int64(), nil
}

func formatRate(sell, buy token.Token, amountIn, amountOut *big.Int) string {
	if amountIn.Sign() == 0 {
		return "-"
	}
	inDenom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(sell.Decimals)), nil)
	outDenom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(buy.Decimals)), nil)

	rate := new(big.Rat).SetFrac(
		new(big.Int).Mul(amountOut, inDenom),
		new(big.Int).Mul(amountIn, outDenom),
	)
	return fmt.Sprintf("1 %s = %s %s", sell.Symbol, rate.FloatString(4), buy.Symbol)
}
