// Package router derives swap paths across the AMM's pair graph. Every
// pair either contains the base token or is reached through it, so a path
// is at most two hops.
package router

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"orbidswap/internal/token"
)

// ErrNoRoute marks a sell/buy selection with no valid path: identical
// tokens, or one side missing.
var ErrNoRoute = errors.New("no route available")

// ComputePath returns the token-address sequence a swap routes through.
// When either side is the base token the path is direct; otherwise it
// routes through base. The native coin trades as its wrapped form.
//
// This is a single deterministic route, not a best-price search: an
// indirect route is never compared against a hypothetical direct pool
// because none may exist.
func ComputePath(sell, buy token.Token, base common.Address) ([]common.Address, error) {
	if sell.Symbol == "" && sell.Address == (common.Address{}) && !sell.IsNative() {
		return nil, ErrNoRoute
	}
	if buy.Symbol == "" && buy.Address == (common.Address{}) && !buy.IsNative() {
		return nil, ErrNoRoute
	}

	sellAddr := sell.Tradable(base)
	buyAddr := buy.Tradable(base)
	if sellAddr == buyAddr {
		return nil, ErrNoRoute
	}

	if sellAddr == base || buyAddr == base {
		return []common.Address{sellAddr, buyAddr}, nil
	}
	return []common.Address{sellAddr, base, buyAddr}, nil
}
