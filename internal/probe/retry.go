package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// Retrier wraps a Driver with the endpoint's retry budget: up to retries+1
// attempts, stopping on the first success. On exhaustion the last failure is
// the reported Outcome. The inter-attempt delay races against ctx so a
// cancelled task aborts mid-retry instead of draining the budget.
type Retrier struct {
	Driver Driver
	Logger *zap.Logger
}

func NewRetrier(driver Driver, logger *zap.Logger) *Retrier {
	return &Retrier{Driver: driver, Logger: logger}
}

func (r *Retrier) Check(ctx context.Context, ep config.Endpoint) Outcome {
	attempts := ep.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var last Outcome
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.Logger.Debug("retrying_check",
				zap.String("endpoint", ep.Name),
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", attempts),
			)
			t := time.NewTimer(ep.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return last
			case <-t.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
		last = r.Driver.Check(attemptCtx, ep)
		cancel()

		if last.Success || ctx.Err() != nil {
			return last
		}
	}
	return last
}
