package offload

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitRunsTask(t *testing.T) {
	p, err := New(zap.NewNop(), 4)
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	var ran bool
	err = p.Submit(func() {
		ran = true
		wg.Done()
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, ran)
}

func TestRunningReflectsInFlightTasks(t *testing.T) {
	p, err := New(zap.NewNop(), 4)
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, p.Running())
	close(block)
}
