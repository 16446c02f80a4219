package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// NonceStore issues single-use sign-in nonces with a bounded lifetime.
// A nonce is invalidated the moment it is consumed, so a replayed
// signature never verifies twice.
type NonceStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

func NewNonceStore(ttl time.Duration) *NonceStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NonceStore{
		ttl:    ttl,
		now:    time.Now,
		issued: make(map[string]time.Time),
	}
}

// Issue mints a fresh 32-character hex nonce.
func (s *NonceStore) Issue() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	nonce := hex.EncodeToString(buf[:])

	s.mu.Lock()
	s.issued[nonce] = s.now().Add(s.ttl)
	s.sweepLocked()
	s.mu.Unlock()
	return nonce, nil
}

// Consume validates and invalidates the nonce in one step.
func (s *NonceStore) Consume(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.issued[nonce]
	if !ok {
		return false
	}
	delete(s.issued, nonce)
	return s.now().Before(expiry)
}

func (s *NonceStore) sweepLocked() {
	now := s.now()
	for nonce, expiry := range s.issued {
		if now.After(expiry) {
			delete(s.issued, nonce)
		}
	}
}
