package forecast

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned by Fit when the series is too short for the
// requested order.
var ErrInsufficientData = errors.New("insufficient data points for model")

// ErrNotFitted is returned by Forecast before a successful Fit.
var ErrNotFitted = errors.New("model not fitted")

// ARIMA is an AutoRegressive Integrated Moving Average model ARIMA(p, d, q):
//   - p: number of autoregressive terms
//   - d: number of differences applied before fitting
//   - q: number of moving average terms
//
// AR terms are estimated with Levinson-Durbin on the sample autocorrelation of
// the differenced, mean-centred series. MA terms are approximated from the
// autocorrelation of the AR residuals.
type ARIMA struct {
	p, d, q      int
	coefficients Coefficients
	fitted       bool

	// centred differenced series and its residuals
	series    []float64
	residuals []float64

	// last observed value at each differencing level, used to integrate
	// forecasts back to the original scale
	tails []float64
}

// Coefficients holds the fitted model parameters.
type Coefficients struct {
	AR   []float64
	MA   []float64
	Mean float64 // mean of the differenced series
}

// ForecastResult contains forecast values and 95% bands.
type ForecastResult struct {
	Values   []float64
	Lower95  []float64
	Upper95  []float64
	StdError float64
}

// NewARIMA creates an unfitted ARIMA(p, d, q) model.
func NewARIMA(p, d, q int) *ARIMA {
	return &ARIMA{p: p, d: d, q: q}
}

// Order returns (p, d, q).
func (a *ARIMA) Order() (int, int, int) { return a.p, a.d, a.q }

// Fitted reports whether Fit has succeeded.
func (a *ARIMA) Fitted() bool { return a.fitted }

// Coefficients returns the fitted parameters.
func (a *ARIMA) Coefficients() Coefficients { return a.coefficients }

// Fit estimates the model on the series.
func (a *ARIMA) Fit(series []float64) error {
	if len(series)-a.d < a.p+a.q+2 {
		return ErrInsufficientData
	}

	tails := make([]float64, a.d)
	level := series
	for k := 0; k < a.d; k++ {
		tails[k] = level[len(level)-1]
		level = difference(level)
	}

	mu := mean(level)
	x := make([]float64, len(level))
	for i, v := range level {
		x[i] = v - mu
	}

	ar := levinsonDurbin(autocorrelation(x, a.p), a.p)

	// AR-only residuals drive the MA approximation.
	a.coefficients = Coefficients{AR: ar, MA: make([]float64, a.q), Mean: mu}
	a.series = x
	resid := a.residualsFor(x)

	if a.q > 0 {
		racf := autocorrelation(resid, a.q)
		for j := 0; j < a.q; j++ {
			a.coefficients.MA[j] = clamp(racf[j+1], -0.9, 0.9)
		}
		resid = a.residualsFor(x)
	}

	a.residuals = resid
	a.tails = tails
	a.fitted = true
	return nil
}

// Forecast predicts the next steps values on the original scale.
func (a *ARIMA) Forecast(steps int) (ForecastResult, error) {
	if !a.fitted {
		return ForecastResult{}, ErrNotFitted
	}
	if steps <= 0 {
		return ForecastResult{}, errors.New("steps must be positive")
	}

	n := len(a.series)
	x := make([]float64, n, n+steps)
	copy(x, a.series)
	e := make([]float64, n, n+steps)
	copy(e, a.residuals)

	diffs := make([]float64, steps)
	for h := 0; h < steps; h++ {
		t := n + h
		v := 0.0
		for i, phi := range a.coefficients.AR {
			if t-i-1 >= 0 {
				v += phi * x[t-i-1]
			}
		}
		for j, theta := range a.coefficients.MA {
			if t-j-1 >= 0 {
				v += theta * e[t-j-1]
			}
		}
		x = append(x, v)
		e = append(e, 0)
		diffs[h] = v + a.coefficients.Mean
	}

	values := a.integrate(diffs)

	sigma := a.StdError()
	lower := make([]float64, steps)
	upper := make([]float64, steps)
	for i, v := range values {
		margin := 1.96 * sigma * math.Sqrt(float64(i+1))
		lower[i] = v - margin
		upper[i] = v + margin
	}

	return ForecastResult{
		Values:   values,
		Lower95:  lower,
		Upper95:  upper,
		StdError: sigma,
	}, nil
}

// StdError is the root mean square of the in-sample residuals.
func (a *ARIMA) StdError() float64 {
	if len(a.residuals) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range a.residuals {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(a.residuals)))
}

func (a *ARIMA) residualsFor(x []float64) []float64 {
	resid := make([]float64, len(x))
	for t := range x {
		pred := 0.0
		for i, phi := range a.coefficients.AR {
			if t-i-1 >= 0 {
				pred += phi * x[t-i-1]
			}
		}
		for j, theta := range a.coefficients.MA {
			if t-j-1 >= 0 {
				pred += theta * resid[t-j-1]
			}
		}
		resid[t] = x[t] - pred
	}
	return resid
}

// integrate undoes the differencing applied in Fit.
func (a *ARIMA) integrate(diffs []float64) []float64 {
	out := append([]float64(nil), diffs...)
	for k := a.d - 1; k >= 0; k-- {
		prev := a.tails[k]
		for i := range out {
			prev += out[i]
			out[i] = prev
		}
	}
	return out
}

func difference(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		out[i-1] = series[i] - series[i-1]
	}
	return out
}

// autocorrelation returns rho[0..maxLag] of a centred series. A zero-variance
// series yields rho[0]=1 and zeros elsewhere.
func autocorrelation(x []float64, maxLag int) []float64 {
	acf := make([]float64, maxLag+1)
	acf[0] = 1
	n := len(x)
	m := mean(x)
	variance := 0.0
	for _, v := range x {
		variance += (v - m) * (v - m)
	}
	if variance < 1e-12 {
		return acf
	}
	for lag := 1; lag <= maxLag && lag < n; lag++ {
		cov := 0.0
		for i := lag; i < n; i++ {
			cov += (x[i] - m) * (x[i-lag] - m)
		}
		acf[lag] = cov / variance
	}
	return acf
}

// levinsonDurbin solves the Yule-Walker equations for order p.
func levinsonDurbin(acf []float64, p int) []float64 {
	phi := make([]float64, p)
	if p == 0 {
		return phi
	}
	prev := make([]float64, p)
	errVar := acf[0]
	for k := 1; k <= p; k++ {
		if errVar < 1e-12 {
			break
		}
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= prev[j-1] * acf[k-j]
		}
		kappa := num / errVar
		phi[k-1] = kappa
		for j := 1; j < k; j++ {
			phi[j-1] = prev[j-1] - kappa*prev[k-j-1]
		}
		errVar *= 1 - kappa*kappa
		copy(prev, phi)
	}
	return phi
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
