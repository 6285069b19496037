package curve

import (
	"math"
	"sort"

	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Type is the representation of the curve points
type Type int

const (
	// Factor curves hold discount factors
	Factor Type = iota + 1
	// Par curves hold semi-annual par yields
	Par
	// Zero curves hold semi-annually compounded zero rates
	Zero
	// Forward curves hold forward rates; they cannot be calibrated
	Forward
)

// String returns the type name
func (t Type) String() string {
	switch t {
	case Factor:
		return "factor"
	case Par:
		return "par"
	case Zero:
		return "zero"
	case Forward:
		return "forward"
	default:
		return "unknown"
	}
}

// ParseType maps a name to a curve type
func ParseType(s string) (Type, bool) {
	switch s {
	case "factor":
		return Factor, true
	case "par":
		return Par, true
	case "zero":
		return Zero, true
	case "forward":
		return Forward, true
	}
	return 0, false
}

// VolMode selects which parameter drives the lattice's mean reversion
type VolMode int

const (
	// MeanReversionMode takes the mean reversion speed as given
	MeanReversionMode VolMode = iota
	// LongVolMode backs mean reversion out of the 30-year volatility
	LongVolMode
)

// LongVolYears is the maturity whose volatility LongVolMode matches
const LongVolYears = 30.0

// Point is a single (maturity, value) knot
type Point struct {
	Years float64 `json:"years"`
	Value float64 `json:"value"`
}

// Curve is a yield curve plus the volatility assumptions used to calibrate a lattice
type Curve struct {
	typ     Type
	points  []Point
	vol     float64
	alpha   float64
	longVol float64
	mode    VolMode
	ts      *TermStructure
}

// New creates an empty curve of the given type
func New(typ Type) (*Curve, error) {
	if typ < Factor || typ > Forward {
		return nil, errors.InvalidInputf(errors.CodeInvalidCurve, "unknown curve type %d", int(typ))
	}
	return &Curve{typ: typ}, nil
}

// NewPar builds a par curve from parallel maturity and rate slices
func NewPar(years, rates []float64) (*Curve, error) {
	return newFromPoints(Par, years, rates)
}

// NewFromPoints builds a curve of the given type from parallel slices
func NewFromPoints(typ Type, years, values []float64) (*Curve, error) {
	return newFromPoints(typ, years, values)
}

func newFromPoints(typ Type, years, values []float64) (*Curve, error) {
	if len(years) != len(values) {
		return nil, errors.InvalidInputf(errors.CodeInvalidCurve, "%d maturities for %d values", len(years), len(values))
	}
	c, err := New(typ)
	if err != nil {
		return nil, err
	}
	for i := range years {
		if err := c.SetPoint(years[i], values[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Type returns the curve representation
func (c *Curve) Type() Type { return c.typ }

// Points returns a copy of the knots in maturity order
func (c *Curve) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// Span returns the longest maturity on the curve
func (c *Curve) Span() float64 {
	if len(c.points) == 0 {
		return 0
	}
	return c.points[len(c.points)-1].Years
}

// SetPoint adds or replaces the knot at years
func (c *Curve) SetPoint(years, value float64) error {
	if years <= 0 || years > 100 || math.IsNaN(years) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "maturity %.4f out of range", years)
	}
	if c.typ == Factor {
		if value <= 0 || value > 2 || math.IsNaN(value) {
			return errors.InvalidInputf(errors.CodeInvalidCurve, "discount factor %.6f out of range", value)
		}
	} else if value <= -5 || value >= 100 || math.IsNaN(value) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "rate %.4f out of range", value)
	}

	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Years >= years })
	if i < len(c.points) && c.points[i].Years == years {
		c.points[i].Value = value
	} else {
		c.points = append(c.points, Point{})
		copy(c.points[i+1:], c.points[i:])
		c.points[i] = Point{Years: years, Value: value}
	}
	c.ts = nil
	return nil
}

// RemovePoint deletes the knot at years
func (c *Curve) RemovePoint(years float64) error {
	for i, p := range c.points {
		if p.Years == years {
			c.points = append(c.points[:i], c.points[i+1:]...)
			c.ts = nil
			return nil
		}
	}
	return errors.InvalidInputf(errors.CodeInvalidCurve, "no point at %.4f years", years)
}

// RemoveAll deletes every knot
func (c *Curve) RemoveAll() {
	c.points = nil
	c.ts = nil
}

// SetVolatility sets the short-rate volatility in percent
func (c *Curve) SetVolatility(vol float64) error {
	if vol < 0 || vol >= 100 || math.IsNaN(vol) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "volatility %.4f out of range", vol)
	}
	c.vol = vol
	return nil
}

// SetMeanReversion sets the mean reversion speed in percent and selects MeanReversionMode
func (c *Curve) SetMeanReversion(alpha float64) error {
	if alpha < 0 || alpha >= 100 || math.IsNaN(alpha) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "mean reversion %.4f out of range", alpha)
	}
	c.alpha = alpha
	c.mode = MeanReversionMode
	return nil
}

// SetLongVolatility sets the 30-year volatility in percent and selects LongVolMode
func (c *Curve) SetLongVolatility(vol float64) error {
	if vol < 0 || vol >= 100 || math.IsNaN(vol) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "long volatility %.4f out of range", vol)
	}
	c.longVol = vol
	c.mode = LongVolMode
	return nil
}

// Volatility returns the short-rate volatility in percent
func (c *Curve) Volatility() float64 { return c.vol }

// MeanReversion returns the mean reversion speed in percent
func (c *Curve) MeanReversion() float64 { return c.alpha }

// LongVolatility returns the 30-year volatility in percent
func (c *Curve) LongVolatility() float64 { return c.longVol }

// Mode returns the volatility mode
func (c *Curve) Mode() VolMode { return c.mode }

// Clone returns an independent copy, including any solved term structure
func (c *Curve) Clone() *Curve {
	cp := *c
	cp.points = c.Points()
	return &cp
}

// WithVolatility copies the volatility assumptions of o onto c
func (c *Curve) WithVolatility(o *Curve) *Curve {
	c.vol, c.alpha, c.longVol, c.mode = o.vol, o.alpha, o.longVol, o.mode
	return c
}

// Solved reports whether the term structure has been derived
func (c *Curve) Solved() bool { return c.ts != nil }

// Solve derives the discount-factor term structure from the points
func (c *Curve) Solve() error {
	if c.ts != nil {
		return nil
	}
	ts, err := buildTermStructure(c.typ, c.points)
	if err != nil {
		return err
	}
	c.ts = ts
	return nil
}

// TermStructure solves the curve if needed and returns its term structure
func (c *Curve) TermStructure() (*TermStructure, error) {
	if err := c.Solve(); err != nil {
		return nil, err
	}
	return c.ts, nil
}

// ParRate returns the par rate at years. Non-par curves return BadValue until solved.
func (c *Curve) ParRate(years float64) float64 {
	if c.typ == Par && len(c.points) > 0 {
		return c.native().at(years)
	}
	if c.ts == nil {
		return models.BadValue
	}
	return c.ts.ParRate(years)
}

// ZeroRate returns the zero rate at years. Non-zero curves return BadValue until solved.
func (c *Curve) ZeroRate(years float64) float64 {
	if c.typ == Zero && len(c.points) > 0 {
		return c.native().at(years)
	}
	if c.ts == nil {
		return models.BadValue
	}
	return c.ts.ZeroRate(years)
}

// Factor returns the discount factor at years. Non-factor curves return BadValue until solved.
func (c *Curve) Factor(years float64) float64 {
	if c.typ == Factor && len(c.points) > 0 {
		xs := []float64{0}
		logs := []float64{0}
		for _, p := range c.points {
			xs = append(xs, p.Years)
			logs = append(logs, math.Log(p.Value))
		}
		return math.Exp(newLogLinear(xs, logs).at(years))
	}
	if c.ts == nil {
		return models.BadValue
	}
	return c.ts.Factor(years)
}

// ForwardRate returns the continuously compounded instantaneous forward rate
// at years in percent. Non-forward curves return BadValue until solved.
func (c *Curve) ForwardRate(years float64) float64 {
	if c.typ == Forward && len(c.points) > 0 {
		return c.native().at(years)
	}
	if c.ts == nil {
		return models.BadValue
	}
	return c.ts.ForwardRate(years)
}

func (c *Curve) native() *linear {
	xs := make([]float64, len(c.points))
	ys := make([]float64, len(c.points))
	for i, p := range c.points {
		xs[i], ys[i] = p.Years, p.Value
	}
	l, err := newLinear(xs, ys)
	if err != nil {
		// knots are kept strictly increasing by SetPoint
		return &linear{xs: xs[:1], ys: ys[:1]}
	}
	return l
}

// WithSpread returns a par curve equal to c plus the spread, carrying c's
// volatility assumptions
func (c *Curve) WithSpread(s *Spread) (*Curve, error) {
	ts, err := c.TermStructure()
	if err != nil {
		return nil, err
	}
	span := c.Span()
	if s != nil && s.Span() > span {
		span = s.Span()
	}
	return ts.ParCurve(span, func(t float64) float64 {
		if s == nil {
			return 0
		}
		return s.At(t)
	}).WithVolatility(c), nil
}

// ZeroToFactor converts a semi-annual zero rate in percent to a discount factor
func ZeroToFactor(rate, years float64) float64 {
	return math.Pow(1+rate/200, -2*years)
}

// FactorToZero converts a discount factor to a semi-annual zero rate in percent
func FactorToZero(factor, years float64) float64 {
	if years <= 0 || factor <= 0 {
		return models.BadValue
	}
	return 200 * (math.Pow(factor, -1/(2*years)) - 1)
}
