package withdraw

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// KeyedLock serializes withdrawal flows that share one set of exchange
// credentials. Accounts run concurrently, but the exchange account itself is
// shared infrastructure: two simultaneous withdrawals against the same login
// would race on balance and rate limits.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the lock for key is held and returns the release
// function. Keys are hashed so raw API keys never sit in the map.
func (l *KeyedLock) Acquire(key string) func() {
	h := sha256.Sum256([]byte(key))
	id := hex.EncodeToString(h[:8])

	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
