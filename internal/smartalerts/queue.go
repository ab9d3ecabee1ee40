package smartalerts

import (
	"context"
	"errors"

	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// ErrQueueFull is returned by SubmitMetric when the ingest queue is at capacity.
var ErrQueueFull = errors.New("metric queue is full")

// SubmitMetric enqueues a sample for the metrics loop. It never blocks.
func (s *Service) SubmitMetric(sample models.MetricSample) error {
	select {
	case s.queue <- sample:
		metrics.QueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		metrics.QueueRejectedTotal.Inc()
		return ErrQueueFull
	}
}

// Pending is the number of queued samples.
func (s *Service) Pending() int {
	return len(s.queue)
}

// drainAll drains the queue batch by batch until it is empty or ctx is done.
func (s *Service) drainAll(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n := s.drainQueue(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// drainQueue processes up to the batch size of queued samples and returns
// how many it handled. It stops early when the queue is empty.
func (s *Service) drainQueue(ctx context.Context) int {
	batch := s.cfg.Queue.BatchSize
	if batch <= 0 {
		batch = cap(s.queue)
	}
	n := 0
	defer func() { metrics.QueueDepth.Set(float64(len(s.queue))) }()
	for n < batch {
		if ctx.Err() != nil {
			return n
		}
		select {
		case sample := <-s.queue:
			s.ProcessMetric(ctx, sample.DeviceID, sample.MetricName, sample.Value, sample.Timestamp)
			n++
		default:
			return n
		}
	}
	return n
}
