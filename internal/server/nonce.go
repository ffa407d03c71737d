package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"streamviewer/internal/auth"
	"streamviewer/internal/clock"
	"streamviewer/internal/types"
)

type nonceRecord struct {
	expires time.Time
	uses    int
}

// NonceStore issues handshake nonces that expire after a TTL and may be
// redeemed a limited number of times (once per namespace connect).
type NonceStore struct {
	mu     sync.Mutex
	clk    clock.Clock
	ttl    time.Duration
	uses   int
	nonces map[string]nonceRecord
}

func NewNonceStore(clk clock.Clock, ttl time.Duration, uses int) *NonceStore {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	if uses < 1 {
		uses = 1
	}
	return &NonceStore{clk: clk, ttl: ttl, uses: uses, nonces: make(map[string]nonceRecord)}
}

func (s *NonceStore) Issue() types.Nonce {
	now := s.clk.Now()
	nonce := uuid.NewString()
	rec := nonceRecord{expires: now.Add(s.ttl), uses: s.uses}

	s.mu.Lock()
	s.nonces[nonce] = rec
	s.gcLocked(now)
	s.mu.Unlock()

	return types.Nonce{Nonce: nonce, ExpiresAt: float64(rec.expires.UnixNano()) / 1e9}
}

// Validate redeems one use of nonce if sig is its signature under secret.
// A bad signature does not consume a use.
func (s *NonceStore) Validate(nonce, sig, secret string) bool {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	if now.After(rec.expires) || rec.uses <= 0 {
		delete(s.nonces, nonce)
		return false
	}
	if !auth.Verify(secret, nonce, sig) {
		return false
	}
	rec.uses--
	if rec.uses <= 0 {
		delete(s.nonces, nonce)
	} else {
		s.nonces[nonce] = rec
	}
	s.gcLocked(now)
	return true
}

// Len is the number of live nonces.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

func (s *NonceStore) gcLocked(now time.Time) {
	for n, rec := range s.nonces {
		if now.After(rec.expires) {
			delete(s.nonces, n)
		}
	}
}
