package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func TestRun_ReturnsJobResult(t *testing.T) {
	p := NewPool(2)

	v, err := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Run(context.Background(), p, func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := NewPool(size)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Run(context.Background(), p, func(ctx context.Context) (struct{}, error) {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return struct{}{}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Positive(t, peak.Load())
}

func TestRun_DeadlineAbandonsJob(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, p, func(ctx context.Context) (int, error) {
		defer close(finished)
		<-release
		return 1, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned job still holds the only slot.
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	_, err = Run(short, p, func(ctx context.Context) (int, error) { return 2, nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-finished

	v, err := Run(context.Background(), p, func(ctx context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestRun_JobSeesCancellation(t *testing.T) {
	p := NewPool(1)
	observed := make(chan error, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, <-observed, context.DeadlineExceeded)
}

func TestRun_RecoversPanic(t *testing.T) {
	p := NewPool(1)

	_, err := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		panic("segmenter exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	v, err := Run(context.Background(), p, func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestNewPool_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 4, NewPool(4).Size())
}
