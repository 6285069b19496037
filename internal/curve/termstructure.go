package curve

import (
	"math"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// bootstrapHorizon is how far par and zero curves are extended (flat) when solved
const bootstrapHorizon = 60.0

const halfYear = 0.5

// TermStructure is a solved discount function. Factors between nodes are
// interpolated log-linearly, so forward rates are flat between nodes.
type TermStructure struct {
	times []float64
	logs  []float64
	span  float64
	curve *logLinear
}

func newTermStructure(times, dfs []float64, span float64) (*TermStructure, error) {
	logs := make([]float64, len(dfs))
	for i, df := range dfs {
		if df <= 0 || math.IsNaN(df) || math.IsInf(df, 0) {
			return nil, errors.InvalidInputf(errors.CodeInvalidCurve,
				"curve implies a non-positive discount factor at %.2f years", times[i])
		}
		logs[i] = math.Log(df)
	}
	return &TermStructure{
		times: times,
		logs:  logs,
		span:  span,
		curve: newLogLinear(times, logs),
	}, nil
}

func buildTermStructure(typ Type, points []Point) (*TermStructure, error) {
	if len(points) == 0 {
		return nil, errors.InvalidInput(errors.CodeInvalidCurve, "curve has no points")
	}
	span := points[len(points)-1].Years

	switch typ {
	case Factor:
		times := []float64{0}
		dfs := []float64{1}
		for _, p := range points {
			times = append(times, p.Years)
			dfs = append(dfs, p.Value)
		}
		return newTermStructure(times, dfs, span)

	case Par:
		rates := (&Curve{typ: Par, points: points}).native()
		times := []float64{0}
		dfs := []float64{1}
		for _, p := range points {
			if p.Years < halfYear {
				times = append(times, p.Years)
				dfs = append(dfs, 1/(1+rates.at(p.Years)/100*p.Years))
			}
		}
		n := int(math.Ceil(math.Max(span, bootstrapHorizon) / halfYear))
		annuity := 0.0
		for k := 1; k <= n; k++ {
			c := rates.at(float64(k)*halfYear) / 200
			df := (1 - c*annuity) / (1 + c)
			times = append(times, float64(k)*halfYear)
			dfs = append(dfs, df)
			annuity += df
		}
		return newTermStructure(times, dfs, span)

	case Zero:
		rates := (&Curve{typ: Zero, points: points}).native()
		times := []float64{0}
		dfs := []float64{1}
		for _, p := range points {
			if p.Years < halfYear {
				times = append(times, p.Years)
				dfs = append(dfs, ZeroToFactor(p.Value, p.Years))
			}
		}
		n := int(math.Ceil(math.Max(span, bootstrapHorizon) / halfYear))
		for k := 1; k <= n; k++ {
			t := float64(k) * halfYear
			times = append(times, t)
			dfs = append(dfs, ZeroToFactor(rates.at(t), t))
		}
		// off-grid knots keep their exact factor
		return insertKnots(times, dfs, points, span, func(p Point) float64 { return ZeroToFactor(p.Value, p.Years) })

	default:
		return nil, errors.InvalidInputf(errors.CodeInvalidCurve, "%s curves cannot be solved", typ)
	}
}

func insertKnots(times, dfs []float64, points []Point, span float64, df func(Point) float64) (*TermStructure, error) {
	for _, p := range points {
		if p.Years < halfYear || isHalfYear(p.Years) {
			continue
		}
		i := search(times, p.Years) + 1
		times = append(times, 0)
		dfs = append(dfs, 0)
		copy(times[i+1:], times[i:])
		copy(dfs[i+1:], dfs[i:])
		times[i], dfs[i] = p.Years, df(p)
	}
	return newTermStructure(times, dfs, span)
}

func isHalfYear(t float64) bool {
	k := math.Round(t / halfYear)
	return math.Abs(t-k*halfYear) < 1e-9
}

// Span returns the longest maturity of the curve that produced ts
func (ts *TermStructure) Span() float64 { return ts.span }

// Horizon returns the last node time
func (ts *TermStructure) Horizon() float64 { return ts.times[len(ts.times)-1] }

// Factor returns the discount factor at t years
func (ts *TermStructure) Factor(t float64) float64 {
	if t <= 0 {
		return 1
	}
	return math.Exp(ts.curve.at(t))
}

// ZeroRate returns the semi-annual zero rate at t in percent
func (ts *TermStructure) ZeroRate(t float64) float64 {
	if t <= 0 {
		t = 1.0 / 365
	}
	return FactorToZero(ts.Factor(t), t)
}

// ForwardRate returns the continuously compounded instantaneous forward rate at t in percent
func (ts *TermStructure) ForwardRate(t float64) float64 {
	const h = 1.0 / 365
	lo := math.Max(t-h, 0)
	return 100 * (math.Log(ts.Factor(lo)) - math.Log(ts.Factor(t+h))) / (t + h - lo)
}

// ParRate returns the semi-annual par rate at t in percent
func (ts *TermStructure) ParRate(t float64) float64 {
	return ts.ForwardPar(0, t)
}

// ForwardPar returns the par rate in percent of an m-year bond starting at T
func (ts *TermStructure) ForwardPar(T, m float64) float64 {
	base := ts.Factor(T)
	return ParFromFactors(func(x float64) float64 { return ts.Factor(T+x) / base }, m)
}

// ParFromFactors returns the semi-annual par rate in percent for maturity m
// given a discount function. Maturities under six months use a money-market
// rate; off-grid maturities interpolate between neighbouring half-years.
func ParFromFactors(df func(float64) float64, m float64) float64 {
	if m <= 0 {
		m = 1.0 / 365
	}
	if m < halfYear-1e-9 {
		return 100 * (1/df(m) - 1) / m
	}
	lo := math.Floor(m/halfYear+1e-9) * halfYear
	if math.Abs(m-lo) < 1e-9 {
		return parOnGrid(df, int(math.Round(m/halfYear)))
	}
	w := (m - lo) / halfYear
	n := int(math.Round(lo / halfYear))
	return (1-w)*parOnGrid(df, n) + w*parOnGrid(df, n+1)
}

func parOnGrid(df func(float64) float64, n int) float64 {
	annuity := 0.0
	for k := 1; k <= n; k++ {
		annuity += df(float64(k) * halfYear)
	}
	return 200 * (1 - df(float64(n)*halfYear)) / annuity
}

// ParCurve samples the par rates of ts at its short knots and on the
// semi-annual grid out to span, adding shift(t) basis points at each sample
func (ts *TermStructure) ParCurve(span float64, shift func(t float64) float64) *Curve {
	c := &Curve{typ: Par}
	for _, t := range ts.times {
		if t > 0 && t < halfYear {
			c.points = append(c.points, Point{Years: t, Value: ts.ParRate(t) + shift(t)/100})
		}
	}
	if span < halfYear {
		span = halfYear
	}
	n := int(math.Ceil(span/halfYear - 1e-9))
	for k := 1; k <= n; k++ {
		t := float64(k) * halfYear
		c.points = append(c.points, Point{Years: t, Value: ts.ParRate(t) + shift(t)/100})
	}
	return c
}
