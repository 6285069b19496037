package curve

import (
	"gonum.org/v1/gonum/interp"
)

// linear interpolates piecewise-linearly between knots and holds the end
// values flat outside them
type linear struct {
	xs, ys []float64
	pl     interp.PiecewiseLinear
}

func newLinear(xs, ys []float64) (*linear, error) {
	l := &linear{xs: xs, ys: ys}
	if len(xs) >= 2 {
		if err := l.pl.Fit(xs, ys); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *linear) at(x float64) float64 {
	switch {
	case len(l.xs) == 0:
		return 0
	case len(l.xs) == 1, x <= l.xs[0]:
		return l.ys[0]
	case x >= l.xs[len(l.xs)-1]:
		return l.ys[len(l.ys)-1]
	}
	return l.pl.Predict(x)
}

// logLinear interpolates ln(y) linearly; past the last knot it extends the
// final segment's slope (flat forward)
type logLinear struct {
	xs   []float64
	logs []float64
}

func newLogLinear(xs, logs []float64) *logLinear {
	return &logLinear{xs: xs, logs: logs}
}

func (l *logLinear) at(x float64) float64 {
	n := len(l.xs)
	if n == 0 {
		return 0
	}
	if x <= l.xs[0] {
		return l.logs[0]
	}
	if x >= l.xs[n-1] {
		if n == 1 {
			return l.logs[0]
		}
		slope := (l.logs[n-1] - l.logs[n-2]) / (l.xs[n-1] - l.xs[n-2])
		return l.logs[n-1] + slope*(x-l.xs[n-1])
	}
	i := search(l.xs, x)
	w := (x - l.xs[i]) / (l.xs[i+1] - l.xs[i])
	return l.logs[i] + w*(l.logs[i+1]-l.logs[i])
}

// search returns i with xs[i] <= x < xs[i+1]
func search(xs []float64, x float64) int {
	lo, hi := 0, len(xs)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if xs[mid] <= x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
