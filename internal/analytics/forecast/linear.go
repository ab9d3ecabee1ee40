package forecast

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Line is a least-squares fit y = Intercept + Slope*x.
type Line struct {
	Slope     float64
	Intercept float64
	R2        float64
	// StdError is the sample standard deviation of the residuals.
	StdError float64
	N        int
}

// At evaluates the line at x.
func (l Line) At(x float64) float64 { return l.Intercept + l.Slope*x }

// FitLine fits a line through (xs[i], ys[i]). Fewer than two points, or points
// sharing one x, yield a flat line through the mean.
func FitLine(xs, ys []float64) Line {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n == 0 {
		return Line{}
	}
	xs, ys = xs[:n], ys[:n]

	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumX2 += xs[i] * xs[i]
	}
	fn := float64(n)
	l := Line{Intercept: sumY / fn, N: n}
	denom := fn*sumX2 - sumX*sumX
	if n >= 2 && math.Abs(denom) >= 1e-12 {
		l.Slope = (fn*sumXY - sumX*sumY) / denom
		l.Intercept = (sumY - l.Slope*sumX) / fn
	}

	resid := make(stats.Float64Data, n)
	for i := range xs {
		resid[i] = ys[i] - l.At(xs[i])
	}
	l.R2 = rSquared(ys, resid)
	if sd, err := resid.StandardDeviationSample(); err == nil && !math.IsNaN(sd) {
		l.StdError = sd
	}
	return l
}

// FitIndex fits a line against the sample index 0..len(ys)-1.
func FitIndex(ys []float64) Line {
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	return FitLine(xs, ys)
}

func rSquared(ys []float64, resid []float64) float64 {
	m := mean(ys)
	ssTot, ssRes := 0.0, 0.0
	for i, y := range ys {
		ssTot += (y - m) * (y - m)
		ssRes += resid[i] * resid[i]
	}
	if ssTot < 1e-12 {
		return 1
	}
	r2 := 1 - ssRes/ssTot
	if r2 < 0 {
		return 0
	}
	return r2
}
