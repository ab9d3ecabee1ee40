package smartalerts

import (
	"context"

	"go.uber.org/zap"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

// Notifier delivers actionable alerts. It is never called for suppressed ones.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

// LogNotifier writes one structured line per alert.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, a *models.Alert) error {
	n.logger.Info("alert",
		zap.String("alert_id", a.ID),
		zap.String("device_id", a.DeviceID),
		zap.String("type", a.AlertType),
		zap.String("severity", string(a.Severity)),
		zap.Float64("priority", a.PriorityScore),
		zap.String("title", a.Title),
	)
	return nil
}
