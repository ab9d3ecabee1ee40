package forecasting

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("prediction engine circuit open")

// BreakerSettings tunes NewBreaker.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings returns the production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "prediction",
		MaxRequests:  1,
		Interval:     10 * time.Minute,
		Timeout:      5 * time.Minute,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// Breaker guards a PredictionEngine with a circuit breaker. Context
// cancellation is not counted as an engine failure.
type Breaker struct {
	next PredictionEngine
	cb   *gobreaker.CircuitBreaker
}

var _ PredictionEngine = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next PredictionEngine, s BreakerSettings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	gauge := metrics.CircuitBreakerState.WithLabelValues(s.Name)
	gauge.Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			gauge.Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) PredictMetric(ctx context.Context, deviceID, metricName string, horizons []int) ([]Prediction, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.next.PredictMetric(ctx, deviceID, metricName, horizons)
	})
	preds, _ := out.([]Prediction)
	return preds, err
}

func (b *Breaker) PredictThresholdCrossing(ctx context.Context, deviceID, metricName string) (*ThresholdCrossing, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.next.PredictThresholdCrossing(ctx, deviceID, metricName)
	})
	tc, _ := out.(*ThresholdCrossing)
	return tc, err
}

func (b *Breaker) DetectResourceExhaustion(ctx context.Context, deviceID string) ([]ExhaustionWarning, error) {
	out, err := b.execute(func() (interface{}, error) {
		return b.next.DetectResourceExhaustion(ctx, deviceID)
	})
	ws, _ := out.([]ExhaustionWarning)
	return ws, err
}

func (b *Breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return out, err
}
