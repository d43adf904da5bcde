package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"progression-server/internal/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUserLocker(t *testing.T) {
	t.Run("Serializes the same user", func(t *testing.T) {
		l := orchestrator.NewLocalUserLocker()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), 7)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
		assert.Zero(t, l.Len())
	})

	t.Run("Different users do not block each other", func(t *testing.T) {
		l := orchestrator.NewLocalUserLocker()
		unlock1, err := l.Lock(context.Background(), 1)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlock2, err := l.Lock(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, l.Len())
		unlock1()
		unlock2()
		assert.Zero(t, l.Len())
	})

	t.Run("Waiting honours cancellation", func(t *testing.T) {
		l := orchestrator.NewLocalUserLocker()
		unlock, err := l.Lock(context.Background(), 1)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock()
		assert.Zero(t, l.Len())
	})
}
