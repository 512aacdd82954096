package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKVSetGet(t *testing.T) {
	kv := NewKV()
	kv.Set("k1", []byte("v1"), time.Minute)

	v, ok := kv.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "v1", string(v))
}

func TestKVExpiresAfterTTL(t *testing.T) {
	kv := NewKV()
	kv.Set("k1", []byte("v1"), -time.Second)

	_, ok := kv.Get("k1")
	assert.False(t, ok)
}

func TestKVSweepRemovesExpired(t *testing.T) {
	kv := NewKV()
	kv.Set("k1", []byte("v1"), -time.Second)
	kv.Set("k2", []byte("v2"), time.Minute)

	kv.Sweep(time.Now())

	_, ok1 := kv.entries["k1"]
	_, ok2 := kv.entries["k2"]
	assert.False(t, ok1)
	assert.True(t, ok2)
}

func TestKVDelete(t *testing.T) {
	kv := NewKV()
	kv.Set("k1", []byte("v1"), time.Minute)
	kv.Delete("k1")

	_, ok := kv.Get("k1")
	assert.False(t, ok)
}
