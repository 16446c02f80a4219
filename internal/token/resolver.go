package token

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"orbidswap/internal/dex"
)

type contractReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver loads ERC-20 metadata from chain and caches it by address.
// Decimals are always read from the contract, never assumed.
type Resolver struct {
	reader contractReader
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[common.Address]Token
}

func NewResolver(reader contractReader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		reader: reader,
		logger: logger,
		cache:  make(map[common.Address]Token),
	}
}

// Seed registers known tokens so they are never fetched.
func (r *Resolver) Seed(tokens ...Token) {
	r.mu.Lock()
	for _, t := range tokens {
		if !t.IsNative() {
			r.cache[t.Address] = t
		}
	}
	r.mu.Unlock()
}

// Known returns the cached token for address without touching the chain.
func (r *Resolver) Known(address common.Address) (Token, bool) {
	r.mu.RLock()
	t, ok := r.cache[address]
	r.mu.RUnlock()
	return t, ok
}

// Resolve returns the token at address, fetching symbol/name/decimals on
// first sight.
func (r *Resolver) Resolve(ctx context.Context, address common.Address) (Token, error) {
	if t, ok := r.Known(address); ok {
		return t, nil
	}

	t, err := r.fetch(ctx, address)
	if err != nil {
		return Token{}, err
	}

	r.mu.Lock()
	r.cache[address] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Resolver) fetch(ctx context.Context, address common.Address) (Token, error) {
	if r.reader == nil {
		return Token{}, fmt.Errorf("contract reader is nil")
	}

	stringABI, err := dex.ERC20ABI()
	if err != nil {
		return Token{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := dex.ERC20Bytes32ABI()
	if err != nil {
		return Token{}, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		msg := ethereum.CallMsg{To: &address, Data: data}
		resp, err := r.reader.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return Token{}, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return Token{}, fmt.Errorf("decimals: %w", err)
	}

	t := Token{Kind: KindERC20, Address: address, Decimals: decimals}

	if values, err := call("symbol", stringABI); err == nil {
		if symbol, ok := values[0].(string); ok {
			t.Symbol = symbol
		}
	} else if values, err := call("symbol", bytes32ABI); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			t.Symbol = symbol
		}
	} else {
		r.logger.Debug("symbol call failed", zap.String("token", address.Hex()), zap.Error(err))
	}
	if t.Symbol == "" {
		t.Symbol = shortAddress(address)
	}

	if values, err := call("name", stringABI); err == nil {
		if name, ok := values[0].(string); ok {
			t.Name = name
		}
	} else if values, err := call("name", bytes32ABI); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			t.Name = name
		}
	} else {
		r.logger.Debug("name call failed", zap.String("token", address.Hex()), zap.Error(err))
	}

	return t, nil
}

func shortAddress(address common.Address) string {
	hex := address.Hex()
	return hex[:6] + "..."
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported decimals type %T", value)
	}
}
