package services

import (
	"context"
	"sync"
	"time"

	"splitledger/logger"

	"go.uber.org/zap"
)

// Background runs fire-and-forget side effects (notifications, invitation
// acceptance) off the request path and lets shutdown wait for them.
type Background struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewBackground bounds each task by timeout.
func NewBackground(timeout time.Duration) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		log:     logger.With("component", "background"),
	}
}

// Go runs fn in its own goroutine. A panic in fn is logged, not propagated.
func (b *Background) Go(name string, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Drain waits for running tasks. When ctx ends first, the tasks' contexts
// are cancelled and ctx's error is returned.
func (b *Background) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}
