package curve

import (
	"math"
	"sort"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Spread is an issuer spread curve in basis points, added to par rates
type Spread struct {
	points []Point
}

// NewSpread builds a spread curve from parallel maturity and basis point slices
func NewSpread(years, bps []float64) (*Spread, error) {
	if len(years) != len(bps) {
		return nil, errors.InvalidInputf(errors.CodeInvalidCurve, "%d maturities for %d spreads", len(years), len(bps))
	}
	s := &Spread{}
	for i := range years {
		if err := s.SetPoint(years[i], bps[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetPoint adds or replaces the spread at years
func (s *Spread) SetPoint(years, bp float64) error {
	if years <= 0 || years > 100 || math.IsNaN(years) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "spread maturity %.4f out of range", years)
	}
	if math.Abs(bp) >= 10000 || math.IsNaN(bp) {
		return errors.InvalidInputf(errors.CodeInvalidCurve, "spread %.2fbp out of range", bp)
	}
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Years >= years })
	if i < len(s.points) && s.points[i].Years == years {
		s.points[i].Value = bp
		return nil
	}
	s.points = append(s.points, Point{})
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = Point{Years: years, Value: bp}
	return nil
}

// Points returns a copy of the spread knots
func (s *Spread) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Span returns the longest spread maturity
func (s *Spread) Span() float64 {
	if len(s.points) == 0 {
		return 0
	}
	return s.points[len(s.points)-1].Years
}

// At returns the interpolated spread in basis points
func (s *Spread) At(years float64) float64 {
	if s == nil || len(s.points) == 0 {
		return 0
	}
	return (&Curve{typ: Par, points: s.points}).native().at(years)
}
