package queue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
)

// ErrCallCancelled is the cause attached to calls aborted by CancelAll
var ErrCallCancelled = errors.New("api call cancelled: cycle paused")

// Config holds the token bucket parameters
type Config struct {
	Rate  float64 // Requests per second; 0 or less means unlimited
	Burst int
}

// RateLimitedQueue serializes provider calls through a token bucket. Every
// queued or running call can be cancelled at once, which the cycle engine does
// when it pauses.
type RateLimitedQueue struct {
	limiter *rate.Limiter
	logger  app.Logger

	mu     sync.Mutex
	seq    uint64
	active map[uint64]context.CancelCauseFunc
}

// NewRateLimitedQueue creates a new queue
func NewRateLimitedQueue(config Config, logger app.Logger) *RateLimitedQueue {
	if logger == nil {
		logger = app.NopLogger()
	}
	limit := rate.Inf
	if config.Rate > 0 {
		limit = rate.Limit(config.Rate)
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &RateLimitedQueue{
		limiter: rate.NewLimiter(limit, config.Burst),
		logger:  logger,
		active:  make(map[uint64]context.CancelCauseFunc),
	}
}

// Do waits for a token and runs fn. The context passed to fn is cancelled when
// ctx is, or when CancelAll is called; in the latter case Do returns ErrCallCancelled.
func (q *RateLimitedQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithCancelCause(ctx)
	id := q.register(cancel)
	defer func() {
		q.unregister(id)
		cancel(nil)
	}()

	if err := q.limiter.Wait(callCtx); err != nil {
		return q.cause(callCtx, err)
	}

	if err := fn(callCtx); err != nil {
		return q.cause(callCtx, err)
	}
	return nil
}

// CancelAll cancels every queued and running call and returns how many there were
func (q *RateLimitedQueue) CancelAll() int {
	q.mu.Lock()
	cancels := q.active
	q.active = make(map[uint64]context.CancelCauseFunc)
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel(ErrCallCancelled)
	}
	if len(cancels) > 0 {
		q.logger.Info("cancelled %d queued api calls", len(cancels))
	}
	return len(cancels)
}

// Active returns the number of calls waiting for a token or running
func (q *RateLimitedQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *RateLimitedQueue) register(cancel context.CancelCauseFunc) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.active[q.seq] = cancel
	return q.seq
}

func (q *RateLimitedQueue) unregister(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, id)
}

// cause prefers the CancelAll cause over the generic context error
func (q *RateLimitedQueue) cause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrCallCancelled) {
		return cause
	}
	return err
}
