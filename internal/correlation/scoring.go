package correlation

import (
	"math"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

var rootCauseSeverityPoints = map[models.Severity]float64{
	models.SeverityCritical: 30,
	models.SeverityError:    20,
	models.SeverityWarning:  10,
	models.SeverityInfo:     5,
}

var rootCauseCategoryPoints = map[string]float64{
	models.CategoryNetwork:        20,
	models.CategoryInfrastructure: 20,
	models.CategoryHardware:       20,
	models.CategoryDatabase:       15,
	models.CategoryStorage:        15,
	models.CategoryApplication:    10,
	models.CategoryService:        10,
}

var impactSeverityWeight = map[models.Severity]float64{
	models.SeverityCritical: 10,
	models.SeverityError:    7,
	models.SeverityWarning:  4,
	models.SeverityInfo:     1,
}

// RootCauseScore scores one member of a group. Earlier alerts score up to 40
// points for timing; a group spanning zero time gives every member the full
// 40.
func RootCauseScore(a *models.Alert, first, last int64) float64 {
	timing := 40.0
	if last > first {
		timing = 40 * (1 - float64(a.CreatedAt.UnixNano()-first)/float64(last-first))
	}
	return timing +
		rootCauseSeverityPoints[a.Severity] +
		rootCauseCategoryPoints[a.Category] +
		a.PriorityScore/100*10
}

// FindRootCause returns the id of the highest scoring alert. alerts must be
// sorted by creation time; ties go to the earliest. Empty for an empty group.
func FindRootCause(alerts []*models.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	first := alerts[0].CreatedAt.UnixNano()
	last := alerts[len(alerts)-1].CreatedAt.UnixNano()

	best, bestScore := alerts[0], math.Inf(-1)
	for _, a := range alerts {
		if s := RootCauseScore(a, first, last); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best.ID
}

// CalculateImpactScore rates the breadth and severity of a group in [0,100].
func CalculateImpactScore(alerts []*models.Alert) float64 {
	devices := make(map[string]struct{})
	categories := make(map[string]struct{})
	severity := 0.0
	for _, a := range alerts {
		if a.DeviceID != "" {
			devices[a.DeviceID] = struct{}{}
		}
		if a.Category != "" {
			categories[a.Category] = struct{}{}
		}
		severity += impactSeverityWeight[a.Severity]
	}

	score := math.Min(30, 3*float64(len(devices))) +
		math.Min(20, 2*float64(len(alerts))) +
		math.Min(30, severity) +
		math.Min(20, 5*float64(len(categories)))
	return math.Min(100, score)
}
