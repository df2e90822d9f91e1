package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	req := require.New(t)
	locks := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("job-1")
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	req.False(overlap.Load())
	req.Equal(0, locks.size())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	req := require.New(t)
	locks := NewKeyedMutex()

	unlock := locks.Lock("job-1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		locks.Lock("job-2")()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		req.Fail("a different key must not wait")
	}
	req.Equal(1, locks.size())
}
