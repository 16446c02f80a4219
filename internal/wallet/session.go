// Package wallet holds the signing session. A session is connected to at
// most one key at a time; signing without a connected key fails rather
// than prompting.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotConnected is returned when signing is requested with no key.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrRejected marks a signature request the holder declined.
	ErrRejected = errors.New("signature request rejected")
)

// Session is a connect/disconnect wallet holding one private key.
type Session struct {
	mu  sync.RWMutex
	key *ecdsa.PrivateKey
}

func NewSession() *Session {
	return &Session{}
}

// Connect loads the hex-encoded private key, replacing any previous one.
func (s *Session) Connect(privateKeyHex string) (common.Address, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Disconnect drops the key. In-flight transactions are unaffected; new
// signature requests fail with ErrNotConnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.key = nil
	s.mu.Unlock()
}

// Connected reports whether a key is loaded.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// Address returns the connected account.
func (s *Session) Address() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return common.Address{}, ErrNotConnected
	}
	return crypto.PubkeyToAddress(s.key.PublicKey), nil
}

// SignTx signs the transaction with the session key.
func (s *Session) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key == nil {
		return nil, ErrNotConnected
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
