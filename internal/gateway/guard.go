package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
)

const DefaultTimeout = 10 * time.Second

// Guard bounds outbound gateway calls with a timeout and a circuit breaker.
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewGuard(name string, timeout time.Duration, logger *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// classified errors are answers from the gateway, not outages
		IsSuccessful: func(err error) bool {
			var ae *apperr.Error
			return err == nil || errors.As(err, &ae)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"gateway circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Guard{cb: gobreaker.NewCircuitBreaker(settings), timeout: timeout}
}

type result[T any] struct {
	val T
	err error
}

// Execute runs fn under the guard. fn gets a context carrying the timeout;
// SDKs that ignore contexts are abandoned when it expires. Errors already
// classified by fn pass through; everything else becomes a retryable
// Unavailable error.
func Execute[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res, err := g.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		done := make(chan result[T], 1)
		go func() {
			v, err := fn(callCtx)
			done <- result[T]{val: v, err: err}
		}()

		select {
		case r := <-done:
			return r.val, r.err
		case <-callCtx.Done():
			return zero, callCtx.Err()
		}
	})
	if err != nil {
		var ae *apperr.Error
		switch {
		case errors.As(err, &ae):
			return zero, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return zero, apperr.Unavailable("payment gateway unavailable", err)
		case errors.Is(err, context.DeadlineExceeded):
			return zero, apperr.Unavailable("payment gateway timed out", err)
		default:
			return zero, apperr.Unavailable("payment gateway error", err)
		}
	}
	return res.(T), nil
}
