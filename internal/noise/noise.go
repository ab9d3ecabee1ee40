// Package noise decides whether a freshly minted alert is noise.
package noise

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saashqdev/ops-center-sub002/internal/cache"
	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// Suppression reasons.
const (
	ReasonDuplicate   = "duplicate"
	ReasonRateLimited = "rate_limited"
)

// NoiseReductionEngine gates alert creation. A suppressed alert is still
// stored, flagged with the returned reason.
type NoiseReductionEngine interface {
	ShouldSuppressAlert(ctx context.Context, deviceID, alertType, message string, severity models.Severity) (suppress bool, reason string, err error)
}

// Config tunes the default suppressor.
type Config struct {
	// DedupWindow suppresses repeats of the same normalized message.
	DedupWindow time.Duration
	// RatePerMinute and Burst size the per-device alert budget.
	RatePerMinute float64
	Burst         int
	CacheSize     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow:   10 * time.Minute,
		RatePerMinute: 10,
		Burst:         20,
		CacheSize:     cache.DefaultSize,
	}
}

// Suppressor is the default NoiseReductionEngine: duplicate suppression over
// a sliding window plus a per-device token bucket. Critical alerts bypass
// the bucket but not duplicate suppression.
type Suppressor struct {
	cfg      Config
	mu       sync.Mutex
	seen     *cache.TTL[time.Time]
	limiters *cache.TTL[*rate.Limiter]
	logger   *zap.Logger
	now      func() time.Time
}

var _ NoiseReductionEngine = (*Suppressor)(nil)

// NewSuppressor creates a suppressor.
func NewSuppressor(cfg Config, logger *zap.Logger) *Suppressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suppressor{
		cfg:      cfg,
		seen:     cache.New[time.Time]("noise_dedup", cfg.CacheSize, cfg.DedupWindow),
		limiters: cache.New[*rate.Limiter]("noise_limiters", cfg.CacheSize, time.Hour),
		logger:   logger.Named("noise"),
		now:      time.Now,
	}
}

// ShouldSuppressAlert never fails; the error is part of the collaborator
// contract for engines backed by remote state.
func (s *Suppressor) ShouldSuppressAlert(_ context.Context, deviceID, alertType, message string, severity models.Severity) (bool, string, error) {
	now := s.now()
	key := deviceID + "|" + alertType + "|" + Normalize(message)

	s.mu.Lock()
	defer s.mu.Unlock()

	if first, ok := s.seen.Get(key); ok && now.Sub(first) < s.cfg.DedupWindow {
		return true, ReasonDuplicate, nil
	}

	if severity != models.SeverityCritical && !s.limiter(deviceID).AllowN(now, 1) {
		s.logger.Debug("alert budget exhausted", zap.String("device_id", deviceID))
		return true, ReasonRateLimited, nil
	}

	s.seen.Set(key, now)
	return false, "", nil
}

func (s *Suppressor) limiter(deviceID string) *rate.Limiter {
	if l, ok := s.limiters.Get(deviceID); ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.RatePerMinute/60), s.cfg.Burst)
	s.limiters.Set(deviceID, l)
	return l
}

var numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// Normalize lowercases a message and masks numbers so that alerts differing
// only in observed values compare equal.
func Normalize(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	m = numberPattern.ReplaceAllString(m, "#")
	return strings.Join(strings.Fields(m), " ")
}
