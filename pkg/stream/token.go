package stream

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// tokenTTL bounds how long an issued-but-unclaimed token stays valid (§4.5,
// §6): long enough for a client to open the SSE connection, short enough
// that a leaked token is useless shortly after.
const tokenTTL = 2 * time.Minute

// tokenEntry binds one issued token to the user and generation it was
// minted for, and tracks single-use/claim state.
type tokenEntry struct {
	userID       string
	generationID string
	expiresAt    time.Time
	claimed      bool
}

// tokenStore issues and validates single-use SSE tokens, keyed by token,
// each bound to the (user, generation) pair it authorizes (§4.5: "token binding to
// (user_id, generation_id), single-use").
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]*tokenEntry
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]*tokenEntry)}
}

// issue mints a fresh token for userID/generationID, invalidating any prior
// token for the same generation (§4.5 reconnection: "new token required,
// prior invalidated").
func (s *tokenStore) issue(userID, generationID string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	for t, e := range s.tokens {
		if e.generationID == generationID {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = &tokenEntry{
		userID:       userID,
		generationID: generationID,
		expiresAt:    time.Now().Add(tokenTTL),
	}
	return token, nil
}

// claim validates and consumes token, returning the generation id it was
// bound to. A token can only be claimed once; a second claim (or a claim
// after expiry) fails.
func (s *tokenStore) claim(token string) (generationID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.tokens[token]
	if !found || e.claimed || time.Now().After(e.expiresAt) {
		return "", false
	}
	e.claimed = true
	return e.generationID, true
}

// release forgets token entirely, permitting a fresh issue() for the same
// generation (called on disconnect, §4.5 reconnection semantics).
func (s *tokenStore) release(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}
