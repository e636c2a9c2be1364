package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"
	"github.com/yokitheyo/rembgapi/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Pool ограничивает число одновременных сегментаций.
// Waiting for a slot counts against the caller's deadline.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool создает пул на size слотов.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

func (p *Pool) Size() int {
	return p.size
}

type result[T any] struct {
	value T
	err   error
}

// Run executes job on a pool slot and returns its result, or ctx.Err() if the
// context ends first. An abandoned job keeps its slot until it returns and
// its result is dropped.
func Run[T any](ctx context.Context, p *Pool, job func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		zlog.Logger.Warn().
			Dur("waited", time.Since(waitStart)).
			Msg("no worker slot freed before deadline")
		return zero, err
	}
	metrics.WorkerQueueWait(time.Since(waitStart))

	done := make(chan result[T], 1)
	metrics.WorkerStarted()
	go func() {
		defer func() {
			metrics.WorkerFinished()
			p.sem.Release(1)
		}()
		defer func() {
			if r := recover(); r != nil {
				zlog.Logger.Error().Interface("panic", r).Msg("worker job panicked")
				done <- result[T]{err: fmt.Errorf("worker job panicked: %v", r)}
			}
		}()

		v, err := job(ctx)
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-done:
			return r.value, r.err
		default:
		}
		zlog.Logger.Warn().Msg("worker job abandoned, late result will be discarded")
		return zero, ctx.Err()
	}
}
