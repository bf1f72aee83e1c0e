package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig tunes GuardedDescriber.
type GuardConfig struct {
	Name             string
	CallTimeout      time.Duration
	RatePerSecond    float64
	Burst            int
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// RunScoped is implemented by describers that keep state which must not leak
// between ingestion runs.
type RunScoped interface {
	ForRun() Describer
}

// GuardedDescriber bounds every call to an inner Describer: it waits for a
// rate-limit token, applies a per-call timeout and runs the call through a
// circuit breaker. Only provider failures (see IsProviderFailure) count
// towards tripping. Once the breaker is open, calls fail immediately with
// gobreaker.ErrOpenState.
type GuardedDescriber struct {
	inner    Describer
	timeout  time.Duration
	limiter  *rate.Limiter
	settings gobreaker.Settings
	breaker  *gobreaker.CircuitBreaker[string]
}

var _ RunScoped = (*GuardedDescriber)(nil)

// NewGuardedDescriber wraps inner. A zero RatePerSecond disables rate
// limiting; a zero FailureThreshold defaults to 5.
func NewGuardedDescriber(inner Describer, cfg GuardConfig) *GuardedDescriber {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "describer"
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !IsProviderFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Describer circuit breaker state change")
		},
	}

	return &GuardedDescriber{
		inner:    inner,
		timeout:  cfg.CallTimeout,
		limiter:  limiter,
		settings: settings,
		breaker:  gobreaker.NewCircuitBreaker[string](settings),
	}
}

// ForRun returns a describer sharing the inner describer and rate limiter but
// with a fresh, closed breaker, so one user's failing run cannot open the
// breaker for another.
func (g *GuardedDescriber) ForRun() Describer {
	return &GuardedDescriber{
		inner:    g.inner,
		timeout:  g.timeout,
		limiter:  g.limiter,
		settings: g.settings,
		breaker:  gobreaker.NewCircuitBreaker[string](g.settings),
	}
}

// Describe implements Describer.
func (g *GuardedDescriber) Describe(ctx context.Context, images []ImageRef, dctx DescribeContext) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("describe rate limit: %w", err)
		}
	}
	return g.breaker.Execute(func() (string, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.inner.Describe(callCtx, images, dctx)
	})
}

// State reports the breaker state ("closed", "half-open", "open").
func (g *GuardedDescriber) State() string {
	return g.breaker.State().String()
}
