package correlation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saashqdev/ops-center-sub002/internal/models"
)

func TestFindRootCause(t *testing.T) {
	t.Run("single alert", func(t *testing.T) {
		assert.Equal(t, "only", FindRootCause([]*models.Alert{alertAt("only", "d1", 0, models.SeverityInfo)}))
	})

	t.Run("empty group", func(t *testing.T) {
		assert.Empty(t, FindRootCause(nil))
	})

	t.Run("earliest wins when otherwise equal", func(t *testing.T) {
		group := []*models.Alert{
			alertAt("a", "d1", 0, models.SeverityError),
			alertAt("b", "d2", 3, models.SeverityError),
			alertAt("c", "d3", 5, models.SeverityError),
		}
		assert.Equal(t, "a", FindRootCause(group))
	})

	t.Run("severity and category can outweigh timing", func(t *testing.T) {
		early := alertAt("early", "d1", 0, models.SeverityInfo)
		early.Category = "other"
		late := alertAt("late", "d2", 1, models.SeverityCritical)
		late.Category = models.CategoryNetwork
		// early: 40 + 5 + 0 = 45; late: 0 + 30 + 20 = 50
		assert.Equal(t, "late", FindRootCause([]*models.Alert{early, late}))
	})

	t.Run("zero span gives every alert full timing points", func(t *testing.T) {
		a := alertAt("a", "d1", 0, models.SeverityWarning)
		b := alertAt("b", "d2", 0, models.SeverityWarning)
		b.PriorityScore = 50
		assert.Equal(t, "b", FindRootCause([]*models.Alert{a, b}))
		first := a.CreatedAt.UnixNano()
		assert.InDelta(t, 40+10+20+5, RootCauseScore(b, first, first), 1e-9)
	})
}

func TestRootCauseScore_LastAlertHasNoTimingPoints(t *testing.T) {
	group := []*models.Alert{
		alertAt("a", "d1", 0, models.SeverityError),
		alertAt("b", "d2", 2, models.SeverityError),
		alertAt("c", "d3", 4, models.SeverityError),
	}
	last := group[2]
	last.PriorityScore = 70
	first, end := group[0].CreatedAt.UnixNano(), last.CreatedAt.UnixNano()

	// severity 20 + hardware 20 + priority 7
	assert.InDelta(t, 47, RootCauseScore(last, first, end), 1e-9)
	assert.InDelta(t, 40+20+20, RootCauseScore(group[0], first, end), 1e-9)
	assert.InDelta(t, 20+20+20, RootCauseScore(group[1], first, end), 1e-9)
}

func TestFindRootCause_UniformGroupPicksEarliest(t *testing.T) {
	group := []*models.Alert{
		alertAt("first", "d1", 0, models.SeverityError),
		alertAt("middle", "d1", 2, models.SeverityError),
		alertAt("last", "d1", 4, models.SeverityError),
	}
	start, end := group[0].CreatedAt.UnixNano(), group[2].CreatedAt.UnixNano()

	assert.InDelta(t, 80, RootCauseScore(group[0], start, end), 1e-9)
	assert.InDelta(t, 60, RootCauseScore(group[1], start, end), 1e-9)
	assert.InDelta(t, 40, RootCauseScore(group[2], start, end), 1e-9)
	assert.Equal(t, "first", FindRootCause(group))
}

func TestRootCauseScore_UnknownCategoryEarnsNothing(t *testing.T) {
	a := alertAt("a", "d1", 0, models.SeverityWarning)
	a.Category = models.CategoryForMetric("fan_speed")
	first := a.CreatedAt.UnixNano()
	assert.Equal(t, models.CategoryOther, a.Category)
	assert.InDelta(t, 40+10, RootCauseScore(a, first, first), 1e-9)
}

func TestCalculateImpactScore(t *testing.T) {
	t.Run("formula", func(t *testing.T) {
		a := alertAt("a", "d1", 0, models.SeverityCritical)
		b := alertAt("b", "d2", 1, models.SeverityWarning)
		b.Category = models.CategoryStorage
		// devices 2*3=6, count 2*2=4, severity 10+4=14, categories 2*5=10
		assert.InDelta(t, 34, CalculateImpactScore([]*models.Alert{a, b}), 1e-9)
	})

	t.Run("capped at 100", func(t *testing.T) {
		var group []*models.Alert
		categories := []string{models.CategoryNetwork, models.CategoryStorage, models.CategoryDatabase, models.CategoryService}
		for i := 0; i < 20; i++ {
			a := alertAt(fmt.Sprint("a", i), fmt.Sprint("d", i), float64(i), models.SeverityCritical)
			a.Category = categories[i%len(categories)]
			group = append(group, a)
		}
		assert.Equal(t, 100.0, CalculateImpactScore(group))
	})

	t.Run("empty group", func(t *testing.T) {
		assert.Zero(t, CalculateImpactScore(nil))
	})

	t.Run("monotonic in devices, count and severity", func(t *testing.T) {
		base := func(n int, devices int, sev models.Severity) []*models.Alert {
			var out []*models.Alert
			for i := 0; i < n; i++ {
				out = append(out, alertAt(fmt.Sprint(i), fmt.Sprint("d", i%devices), float64(i), sev))
			}
			return out
		}
		severities := []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityError, models.SeverityCritical}

		for n := 2; n <= 15; n++ {
			for devices := 1; devices < n; devices++ {
				for si, sev := range severities {
					score := CalculateImpactScore(base(n, devices, sev))
					assert.GreaterOrEqual(t, score, 0.0)
					assert.LessOrEqual(t, score, 100.0)
					assert.GreaterOrEqual(t, CalculateImpactScore(base(n, devices+1, sev)), score, "devices")
					assert.GreaterOrEqual(t, CalculateImpactScore(base(n+1, devices, sev)), score, "count")
					if si+1 < len(severities) {
						assert.GreaterOrEqual(t, CalculateImpactScore(base(n, devices, severities[si+1])), score, "severity")
					}
				}
			}
		}
	})
}
