// Package pools walks the factory's pair registry and aggregates per-pool
// reserves, symbols, USD TVL, and wallet LP positions. The walk covers a
// bounded prefix of the registry in registration order; enumerating beyond
// it would need an indexing service this system does not include.
package pools

import (
	"context"
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

// ChainReader is the read-only slice of the gateway the enumerator needs.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CallBatch(ctx context.Context, calls []chain.BatchCall) ([]chain.BatchResult, error)
}

// PriceSource answers symbol -> USD lookups.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Summary is one pool's point-in-time snapshot.
type Summary struct {
	Address      common.Address
	Token0       token.Token
	Token1       token.Token
	Reserve0     *big.Int
	Reserve1     *big.Int
	TVLUSD       *decimal.Decimal // nil when no valuation is possible
	ExchangeRate string           // reserve0/reserve1, "0" when reserve1 is empty
}

// Position is a wallet's share of one pool.
type Position struct {
	Pair         common.Address
	Token0       token.Token
	Token1       token.Token
	Balance      *big.Int
	TotalSupply  *big.Int
	SharePercent string // e.g. "25.00%"
}

// Config holds the enumerator's fixed collaborators.
type Config struct {
	Factory common.Address
	// Base is the chain's wrapped native token; pools containing it get a
	// precise-side TVL estimate.
	Base token.Token
	// FallbackUnitPrice values pools with no base-token leg: an explicit
	// approximation, (reserve0+reserve1) x unit price.
	FallbackUnitPrice decimal.Decimal
}

// Enumerator lists pools and wallet positions.
type Enumerator struct {
	reader   ChainReader
	resolver *token.Resolver
	prices   PriceSource
	cfg      Config
	logger   *zap.Logger
}

func NewEnumerator(reader ChainReader, resolver *token.Resolver, prices PriceSource, cfg Config, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackUnitPrice.IsZero() {
		cfg.FallbackUnitPrice = decimal.NewFromFloat(1.5)
	}
	return &Enumerator{
		reader:   reader,
		resolver: resolver,
		prices:   prices,
		cfg:      cfg,
		logger:   logger,
	}
}

// List returns up to min(totalPairCount, maxCount) pools in factory
// registration order.
func (e *Enumerator) List(ctx context.Context, maxCount int) ([]Summary, error) {
	pairs, err := e.pairAddresses(ctx, maxCount)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	pairABI, err := dex.PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	token0Data, _ := pairABI.Pack("token0")
	token1Data, _ := pairABI.Pack("token1")
	reservesData, _ := pairABI.Pack("getReserves")

	calls := make([]chain.BatchCall, 0, len(pairs)*3)
	for _, pair := range pairs {
		calls = append(calls,
			chain.BatchCall{To: pair, Data: token0Data},
			chain.BatchCall{To: pair, Data: token1Data},
			chain.BatchCall{To: pair, Data: reservesData},
		)
	}

	results, err := e.reader.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	type rawPool struct {
		pair               common.Address
		token0, token1     common.Address
		reserve0, reserve1 *big.Int
	}

	raw := make([]rawPool, 0, len(pairs))
	for i, pair := range pairs {
		base := i * 3
		t0, err0 := unpackAddress(pairABI, "token0", results[base])
		t1, err1 := unpackAddress(pairABI, "token1", results[base+1])
		r0, r1, errR := unpackReserves(pairABI, results[base+2])
		if err0 != nil || err1 != nil || errR != nil {
			e.logger.Warn("skipping unreadable pool",
				zap.String("pair", pair.Hex()),
				zap.Errors("errors", []error{err0, err1, errR}))
			continue
		}
		raw = append(raw, rawPool{pair: pair, token0: t0, token1: t1, reserve0: r0, reserve1: r1})
	}

	addrs := make([]common.Address, 0, len(raw)*2)
	for _, p := range raw {
		addrs = append(addrs, p.token0, p.token1)
	}
	tokens, err := e.resolveTokens(ctx, addrs)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(raw))
	for _, p := range raw {
		s := Summary{
			Address:  p.pair,
			Token0:   tokens[p.token0],
			Token1:   tokens[p.token1],
			Reserve0: p.reserve0,
			Reserve1: p.reserve1,
		}
		s.TVLUSD = e.estimateTVL(s)
		s.ExchangeRate = exchangeRate(p.reserve0, p.reserve1, s.Token0.Decimals, s.Token1.Decimals)
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Positions returns the wallet's nonzero LP positions over the bounded
// pool prefix.
func (e *Enumerator) Positions(ctx context.Context, owner common.Address, maxCount int) ([]Position, error) {
	pairs, err := e.pairAddresses(ctx, maxCount)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	pairABI, err := dex.PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	token0Data, _ := pairABI.Pack("token0")
	token1Data, _ := pairABI.Pack("token1")
	balanceData, err := pairABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	supplyData, _ := pairABI.Pack("totalSupply")

	calls := make([]chain.BatchCall, 0, len(pairs)*4)
	for _, pair := range pairs {
		calls = append(calls,
			chain.BatchCall{To: pair, Data: token0Data},
			chain.BatchCall{To: pair, Data: token1Data},
			chain.BatchCall{To: pair, Data: balanceData},
			chain.BatchCall{To: pair, Data: supplyData},
		)
	}

	results, err := e.reader.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	type rawPosition struct {
		pair           common.Address
		token0, token1 common.Address
		balance, total *big.Int
	}

	raw := make([]rawPosition, 0, len(pairs))
	for i, pair := range pairs {
		base := i * 4
		t0, err0 := unpackAddress(pairABI, "token0", results[base])
		t1, err1 := unpackAddress(pairABI, "token1", results[base+1])
		balance, err2 := unpackBigInt(pairABI, "balanceOf", results[base+2])
		total, err3 := unpackBigInt(pairABI, "totalSupply", results[base+3])
		if err0 != nil || err1 != nil || err2 != nil || err3 != nil {
			e.logger.Warn("skipping unreadable position",
				zap.String("pair", pair.Hex()),
				zap.Errors("errors", []error{err0, err1, err2, err3}))
			continue
		}
		if balance.Sign() == 0 {
			continue
		}
		raw = append(raw, rawPosition{pair: pair, token0: t0, token1: t1, balance: balance, total: total})
	}

	addrs := make([]common.Address, 0, len(raw)*2)
	for _, p := range raw {
		addrs = append(addrs, p.token0, p.token1)
	}
	tokens, err := e.resolveTokens(ctx, addrs)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, Position{
			Pair:         p.pair,
			Token0:       tokens[p.token0],
			Token1:       tokens[p.token1],
			Balance:      p.balance,
			TotalSupply:  p.total,
			SharePercent: sharePercent(p.balance, p.total),
		})
	}
	return positions, nil
}

// pairAddresses reads the registry length and the clamped prefix of pair
// addresses in one batched round trip.
func (e *Enumerator) pairAddresses(ctx context.Context, maxCount int) ([]common.Address, error) {
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}

	lengthData, err := factoryABI.Pack("allPairsLength")
	if err != nil {
		return nil, fmt.Errorf("pack allPairsLength: %w", err)
	}
	to := e.cfg.Factory
	resp, err := e.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: lengthData}, nil)
	if err != nil {
		return nil, fmt.Errorf("allPairsLength: %w", err)
	}
	values, err := factoryABI.Unpack("allPairsLength", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack allPairsLength: %w", err)
	}
	total, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allPairsLength type %T", values[0])
	}

	count := maxCount
	if total.IsInt64() && total.Int64() < int64(count) {
		count = int(total.Int64())
	}
	if count <= 0 {
		return nil, nil
	}

	calls := make([]chain.BatchCall, count)
	for i := 0; i < count; i++ {
		data, err := factoryABI.Pack("allPairs", big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("pack allPairs(%d): %w", i, err)
		}
		calls[i] = chain.BatchCall{To: e.cfg.Factory, Data: data}
	}

	results, err := e.reader.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	pairs := make([]common.Address, 0, count)
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("allPairs(%d): %w", i, res.Err)
		}
		addr, err := unpackAddressFromABI(factoryABI, "allPairs", res.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack allPairs(%d): %w", i, err)
		}
		pairs = append(pairs, addr)
	}
	return pairs, nil
}

// resolveTokens fills the symbol/decimals table for every distinct address
// not already known, batching symbol() and decimals() in one round trip.
func (e *Enumerator) resolveTokens(ctx context.Context, addrs []common.Address) (map[common.Address]token.Token, error) {
	out := make(map[common.Address]token.Token, len(addrs))
	var unknown []common.Address
	seen := make(map[common.Address]struct{}, len(addrs))

	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		if t, ok := e.resolver.Known(addr); ok {
			out[addr] = t
		} else {
			unknown = append(unknown, addr)
		}
	}
	if len(unknown) == 0 {
		return out, nil
	}

	erc20ABI, err := dex.ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	symbolData, _ := erc20ABI.Pack("symbol")
	decimalsData, _ := erc20ABI.Pack("decimals")

	calls := make([]chain.BatchCall, 0, len(unknown)*2)
	for _, addr := range unknown {
		calls = append(calls,
			chain.BatchCall{To: addr, Data: symbolData},
			chain.BatchCall{To: addr, Data: decimalsData},
		)
	}

	results, err := e.reader.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	for i, addr := range unknown {
		t := token.ERC20(addr, "", "", 18)

		if res := results[i*2]; res.Err == nil {
			if values, err := erc20ABI.Unpack("symbol", res.Data); err == nil {
				if symbol, ok := values[0].(string); ok {
					t.Symbol = symbol
				}
			}
		}
		if t.Symbol == "" {
			t.Symbol = addr.Hex()[:6] + "..."
		}

		if res := results[i*2+1]; res.Err == nil {
			if values, err := erc20ABI.Unpack("decimals", res.Data); err == nil {
				if d, ok := values[0].(uint8); ok {
					t.Decimals = d
				}
			}
		} else {
			e.logger.Debug("decimals unavailable, assuming 18", zap.String("token", addr.Hex()))
		}

		e.resolver.Seed(t)
		out[addr] = t
	}
	return out, nil
}

// estimateTVL attributes a USD value to the pool. With a base-token leg the
// estimate doubles that leg's value (balanced-pool approximation);
// otherwise it falls back to a unit-price heuristic over the raw reserve
// sum. Both are approximations, not precise valuations.
func (e *Enumerator) estimateTVL(s Summary) *decimal.Decimal {
	base := e.cfg.Base.Tradable(e.cfg.Base.Address)

	var baseReserve *big.Int
	switch {
	case s.Token0.Address == base:
		baseReserve = s.Reserve0
	case s.Token1.Address == base:
		baseReserve = s.Reserve1
	}

	if baseReserve != nil {
		price, ok := e.prices.Price(e.cfg.Base.Symbol)
		if !ok {
			return nil
		}
		human, err := decimal.NewFromString(amount.ToDecimalString(baseReserve, e.cfg.Base.Decimals))
		if err != nil {
			return nil
		}
		tvl := human.Mul(price).Mul(decimal.NewFromInt(2))
		return &tvl
	}

	r0, err0 := decimal.NewFromString(amount.ToDecimalString(s.Reserve0, s.Token0.Decimals))
	r1, err1 := decimal.NewFromString(amount.ToDecimalString(s.Reserve1, s.Token1.Decimals))
	if err0 != nil || err1 != nil {
		return nil
	}
	tvl := r0.Add(r1).Mul(e.cfg.FallbackUnitPrice)
	return &tvl
}

func exchangeRate(reserve0, reserve1 *big.Int, dec0, dec1 uint8) string {
	if reserve1.Sign() == 0 {
		return "0"
	}
	d0 := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec0)), nil)
	d1 := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec1)), nil)
	rate := new(big.Rat).SetFrac(
		new(big.Int).Mul(reserve0, d1),
		new(big.Int).Mul(reserve1, d0),
	)
	return rate.FloatString(4)
}

func sharePercent(balance, total *big.Int) string {
	if total.Sign() == 0 {
		return "0.00%"
	}
	share := new(big.Rat).SetFrac(new(big.Int).Mul(balance, big.NewInt(100)), total)
	return share.FloatString(2) + "%"
}
