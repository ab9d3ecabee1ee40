// Package correlation groups open alerts that are likely to share a cause and
// picks the root cause of each group.
//
// Three independent strategies run on every sweep, so one alert may belong
// to several groups:
//   - temporal: alerts raised within a few minutes of an anchor alert
//   - device cascade: alerts on devices sharing a rack, network segment or service
//   - metric pattern: three or more alerts on the same metric in a short span
//
// Groups are persisted fresh on every sweep and member alerts are tagged
// with the group id; the last group written wins.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/cache"
	"github.com/saashqdev/ops-center-sub002/internal/db"
	"github.com/saashqdev/ops-center-sub002/internal/metrics"
	"github.com/saashqdev/ops-center-sub002/internal/models"
	"github.com/saashqdev/ops-center-sub002/internal/tracing"
)

// Repository is the storage the engine reads alerts and topology from and
// writes groups to.
type Repository interface {
	QueryAlerts(ctx context.Context, q db.AlertQuery) ([]*models.Alert, error)
	TagAlerts(ctx context.Context, alertIDs []string, groupID string) error
	SaveCorrelation(ctx context.Context, c *models.AlertCorrelation) error
	GetTopology(ctx context.Context, deviceID string) (*models.DeviceTopology, error)
}

// Config tunes the strategies.
type Config struct {
	TemporalWindow     time.Duration
	TemporalConfidence float64

	CascadeSpan       time.Duration
	CascadeConfidence float64

	PatternSpan      time.Duration
	PatternMinAlerts int

	TopologyTTL time.Duration
	CacheSize   int
	// MaxAlerts bounds the alerts considered per sweep.
	MaxAlerts int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TemporalWindow:     5 * time.Minute,
		TemporalConfidence: 0.70,
		CascadeSpan:        30 * time.Minute,
		CascadeConfidence:  0.85,
		PatternSpan:        15 * time.Minute,
		PatternMinAlerts:   3,
		TopologyTTL:        time.Hour,
		CacheSize:          cache.DefaultSize,
		MaxAlerts:          5000,
	}
}

// Engine is the alert correlation engine.
type Engine struct {
	repo     Repository
	topology *cache.TTL[*models.DeviceTopology]
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine. A nil topology cache is replaced by a fresh
// one built from cfg.
func NewEngine(repo Repository, topology *cache.TTL[*models.DeviceTopology], cfg Config, logger *zap.Logger) *Engine {
	if topology == nil {
		topology = cache.New[*models.DeviceTopology]("topology", cfg.CacheSize, cfg.TopologyTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:     repo,
		topology: topology,
		cfg:      cfg,
		logger:   logger.Named("correlation"),
		now:      time.Now,
	}
}

// CorrelateAlerts groups the open, unsuppressed alerts created within the
// window. Every group found is returned; persistence failures are logged and
// returned combined, and do not stop the remaining groups.
func (e *Engine) CorrelateAlerts(ctx context.Context, window time.Duration) ([]*models.AlertCorrelation, error) {
	ctx, span := tracing.StartSpan(ctx, "correlation.CorrelateAlerts",
		attribute.String("window", window.String()))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	now := e.now()
	notSuppressed := false
	alerts, err := e.repo.QueryAlerts(ctx, db.AlertQuery{
		Status:      models.AlertStatusOpen,
		Suppressed:  &notSuppressed,
		Since:       now.Add(-window),
		Limit:       e.cfg.MaxAlerts,
		OldestFirst: true,
	})
	if err != nil {
		err = fmt.Errorf("query open alerts: %w", err)
		return nil, err
	}
	if len(alerts) < 2 {
		return nil, nil
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })

	var groups []*models.AlertCorrelation
	groups = append(groups, e.temporalGroups(alerts, now)...)
	groups = append(groups, e.cascadeGroups(ctx, alerts, now)...)
	groups = append(groups, e.patternGroups(alerts, now)...)

	for _, g := range groups {
		if perr := e.persist(ctx, g); perr != nil {
			e.logger.Error("failed to persist correlation group",
				zap.String("group_id", g.CorrelationGroupID), zap.Error(perr))
			err = multierr.Append(err, perr)
			continue
		}
		metrics.CorrelationGroupsTotal.WithLabelValues(string(g.CorrelationType)).Inc()
	}

	e.logger.Info("correlation sweep finished",
		zap.Int("alerts", len(alerts)), zap.Int("groups", len(groups)))
	return groups, err
}

func (e *Engine) persist(ctx context.Context, g *models.AlertCorrelation) error {
	if err := e.repo.SaveCorrelation(ctx, g); err != nil {
		return fmt.Errorf("save correlation %s: %w", g.CorrelationGroupID, err)
	}
	if err := e.repo.TagAlerts(ctx, g.AlertIDs, g.CorrelationGroupID); err != nil {
		return fmt.Errorf("tag alerts of %s: %w", g.CorrelationGroupID, err)
	}
	return nil
}

// temporalGroups sweeps alerts in creation order. Each ungrouped alert
// anchors a group of the ungrouped alerts at or before anchor+window.
func (e *Engine) temporalGroups(alerts []*models.Alert, now time.Time) []*models.AlertCorrelation {
	var out []*models.AlertCorrelation
	grouped := make([]bool, len(alerts))
	for i, anchor := range alerts {
		if grouped[i] {
			continue
		}
		end := anchor.CreatedAt.Add(e.cfg.TemporalWindow)
		members := []*models.Alert{anchor}
		idx := []int{i}
		for j := i + 1; j < len(alerts); j++ {
			if grouped[j] {
				continue
			}
			if alerts[j].CreatedAt.After(end) {
				break
			}
			members = append(members, alerts[j])
			idx = append(idx, j)
		}
		if len(members) < 2 {
			continue
		}
		for _, k := range idx {
			grouped[k] = true
		}
		groupID := fmt.Sprintf("temporal_%d", anchor.CreatedAt.Unix())
		out = append(out, e.newGroup(models.CorrelationTemporal, groupID, members, e.cfg.TemporalConfidence, now, nil))
	}
	return out
}

// cascadeGroups buckets alerts by rack, network segment and service.
func (e *Engine) cascadeGroups(ctx context.Context, alerts []*models.Alert, now time.Time) []*models.AlertCorrelation {
	buckets := make(map[string][]*models.Alert)
	for _, a := range alerts {
		if a.DeviceID == "" {
			continue
		}
		topo := e.lookupTopology(ctx, a.DeviceID)
		if topo == nil {
			continue
		}
		if topo.RackID != "" {
			buckets["rack_"+topo.RackID] = append(buckets["rack_"+topo.RackID], a)
		}
		if topo.NetworkSegment != "" {
			buckets["network_"+topo.NetworkSegment] = append(buckets["network_"+topo.NetworkSegment], a)
		}
		if topo.ServiceName != "" {
			buckets["service_"+topo.ServiceName] = append(buckets["service_"+topo.ServiceName], a)
		}
	}

	var out []*models.AlertCorrelation
	for _, key := range sortedKeys(buckets) {
		members := buckets[key]
		if len(members) < 2 || timeSpan(members) > e.cfg.CascadeSpan {
			continue
		}
		groupID := fmt.Sprintf("cascade_%s_%d", key, members[0].CreatedAt.Unix())
		out = append(out, e.newGroup(models.CorrelationDeviceCascade, groupID, members, e.cfg.CascadeConfidence, now,
			map[string]any{"bucket": key}))
	}
	return out
}

// patternGroups groups alerts by their inferred metric.
func (e *Engine) patternGroups(alerts []*models.Alert, now time.Time) []*models.AlertCorrelation {
	byMetric := make(map[string][]*models.Alert)
	for _, a := range alerts {
		if m := InferMetric(a); m != "" {
			byMetric[m] = append(byMetric[m], a)
		}
	}

	var out []*models.AlertCorrelation
	for _, metric := range sortedKeys(byMetric) {
		members := byMetric[metric]
		if len(members) < e.cfg.PatternMinAlerts || timeSpan(members) > e.cfg.PatternSpan {
			continue
		}
		severities := make(map[models.Severity]struct{})
		for _, a := range members {
			severities[a.Severity] = struct{}{}
		}
		confidence := 0.6 + 0.3*(1-float64(len(severities))/float64(len(members)))
		groupID := fmt.Sprintf("pattern_%s_%d", metric, members[0].CreatedAt.Unix())
		out = append(out, e.newGroup(models.CorrelationMetricPattern, groupID, members, confidence, now,
			map[string]any{"metric": metric}))
	}
	return out
}

func (e *Engine) newGroup(kind models.CorrelationType, groupID string, members []*models.Alert, confidence float64, now time.Time, extra map[string]any) *models.AlertCorrelation {
	ids := make([]string, len(members))
	devices := make(map[string]struct{})
	for i, a := range members {
		ids[i] = a.ID
		if a.DeviceID != "" {
			devices[a.DeviceID] = struct{}{}
		}
	}
	meta := map[string]any{
		"alert_count":  len(members),
		"device_count": len(devices),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &models.AlertCorrelation{
		ID:                 uuid.NewString(),
		CorrelationGroupID: groupID,
		AlertIDs:           ids,
		RootCauseAlertID:   FindRootCause(members),
		CorrelationType:    kind,
		Confidence:         confidence,
		DetectedAt:         now,
		WindowStart:        members[0].CreatedAt,
		WindowEnd:          members[len(members)-1].CreatedAt,
		ImpactScore:        CalculateImpactScore(members),
		Metadata:           meta,
	}
}

// lookupTopology is cache-first. Unknown devices are cached as nil; other
// errors are logged and not cached.
func (e *Engine) lookupTopology(ctx context.Context, deviceID string) *models.DeviceTopology {
	if t, ok := e.topology.Get(deviceID); ok {
		return t
	}
	t, err := e.repo.GetTopology(ctx, deviceID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		t = nil
	case err != nil:
		e.logger.Warn("topology lookup failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil
	}
	e.topology.Set(deviceID, t)
	return t
}

// metricKeywords maps message keywords to metric names; first match wins.
var metricKeywords = []struct{ keyword, metric string }{
	{"cpu", "cpu_usage"},
	{"memory", "memory_usage"},
	{"disk", "disk_usage"},
	{"network", "network_latency"},
	{"error", "error_rate"},
	{"latency", "latency"},
	{"bandwidth", "bandwidth"},
}

// InferMetric returns the alert's explicit metric or, failing that, one
// keyword-matched from its message. Empty when nothing matches.
func InferMetric(a *models.Alert) string {
	if m := a.ExplicitMetric(); m != "" {
		return m
	}
	msg := strings.ToLower(a.Message)
	for _, kw := range metricKeywords {
		if strings.Contains(msg, kw.keyword) {
			return kw.metric
		}
	}
	return ""
}

// timeSpan is the time between the first and last alert of a sorted slice.
func timeSpan(alerts []*models.Alert) time.Duration {
	return alerts[len(alerts)-1].CreatedAt.Sub(alerts[0].CreatedAt)
}

func sortedKeys(m map[string][]*models.Alert) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
