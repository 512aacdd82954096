package eventbus

import (
	"sync"
	"time"
)

// KV is a TTL-expiring key-value store used for command reply keys
// (result_of(requestId), 30s TTL) and algorithm-state persistence (chase
// 24h, scalper 48h). An expired entry is dropped when Get reads it, and
// Sweep removes every expired entry; there is no background goroutine,
// keeping this dependency-free and embeddable.
type KV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewKV constructs an empty TTL store.
func NewKV() *KV {
	return &KV{entries: make(map[string]kvEntry)}
}

// Set stores value under key with the given TTL.
func (k *KV) Set(key string, value []byte, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[key] = kvEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value for key, or ok=false if absent or expired.
func (k *KV) Get(key string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(k.entries, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes key unconditionally.
func (k *KV) Delete(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.entries, key)
}

// Sweep removes every expired entry; callers may run this periodically.
func (k *KV) Sweep(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if now.After(e.expiresAt) {
			delete(k.entries, key)
		}
	}
}
