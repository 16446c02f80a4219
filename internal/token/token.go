// Package token models tradable assets. The native coin and ERC-20 tokens
// are distinct kinds; the native coin resolves to the chain's wrapped
// representation only at the point of constructing paths and calls.
package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the two asset shapes.
type Kind uint8

const (
	KindERC20 Kind = iota
	KindNative
)

// Token identifies one tradable asset. ERC-20 tokens carry their contract
// address; the native coin carries none and borrows the wrapped token's
// address when a call needs one.
type Token struct {
	Kind     Kind
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

// Native builds the native-coin token. decimals is the chain's native
// precision (18 on World Chain).
func Native(symbol, name string, decimals uint8) Token {
	return Token{Kind: KindNative, Symbol: symbol, Name: name, Decimals: decimals}
}

// ERC20 builds an ERC-20 token.
func ERC20(address common.Address, symbol, name string, decimals uint8) Token {
	return Token{Kind: KindERC20, Address: address, Symbol: symbol, Name: name, Decimals: decimals}
}

// IsNative reports whether the token is the native coin.
func (t Token) IsNative() bool {
	return t.Kind == KindNative
}

// Tradable returns the address used for routing and pool lookups: the
// token's own address, or wrapped for the native coin.
func (t Token) Tradable(wrapped common.Address) common.Address {
	if t.IsNative() {
		return wrapped
	}
	return t.Address
}

// Equal reports identity: both native, or matching addresses. Address
// comparison is case-insensitive by construction (common.Address is the
// canonical byte form).
func (t Token) Equal(other Token) bool {
	if t.IsNative() || other.IsNative() {
		return t.IsNative() && other.IsNative()
	}
	return t.Address == other.Address
}

func (t Token) String() string {
	if t.IsNative() {
		return fmt.Sprintf("%s (native)", t.Symbol)
	}
	return fmt.Sprintf("%s (%s)", t.Symbol, t.Address.Hex())
}
