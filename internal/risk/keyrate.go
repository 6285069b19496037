package risk

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/valuation"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Anchors place the zero points of a key-rate tent. Explicit Left and Right
// win over Width; with neither, the anchors sit sqrt(target) years either
// side, rounded to half a year. A derived left anchor never falls below the
// curve's first knot.
type Anchors struct {
	Left  float64
	Right float64
	Width float64
}

// tent resolves the anchors around target
func (a Anchors) tent(target, bp, first float64) lattice.Tent {
	width := a.Width
	if width <= 0 {
		width = math.Max(0.5, math.Round(2*math.Sqrt(target))/2)
	}
	t := lattice.Tent{Target: target, Left: math.Max(target-width, first), Right: target + width, BP: bp}
	if a.Left > 0 {
		t.Left = a.Left
	}
	if a.Right > 0 {
		t.Right = a.Right
	}
	return t
}

// firstKnot returns the shortest maturity of the curve l was fitted to
func firstKnot(l *lattice.Lattice) float64 {
	if pts := l.Source().Points(); len(pts) > 0 {
		return pts[0].Years
	}
	return 0
}

// KeyRateDuration measures the duration of v to a tent shift of bp at target years
func (c *Calculator) KeyRateDuration(ctx context.Context, v *valuation.Value, oasBP, target, bp float64, anchors Anchors) (float64, error) {
	if target <= 0 {
		return models.BadValue, errors.InvalidInputf(errors.CodeComputeKeyRates, "key rate maturity %.2fy must be positive", target)
	}
	if err := CheckShift(bp); err != nil {
		return models.BadValue, err
	}
	mid, err := v.DirtyPrice(oasBP)
	if err != nil {
		return models.BadValue, err
	}
	first := firstKnot(v.Lattice())
	up, down := anchors.tent(target, bp, first), anchors.tent(target, -bp, first)
	lats, err := c.fitTents(ctx, v.Lattice(), []lattice.Tent{up, down})
	if err != nil {
		return models.BadValue, err
	}
	prices, err := reprice(ctx, v, oasBP, lats...)
	if err != nil {
		return models.BadValue, err
	}
	return (prices[1] - prices[0]) / (2 * mid * bp / 1e4), nil
}

// KeyRateSetup holds the tent lattices for a maturity grid around one base
// lattice. It is immutable and may be shared across valuations on that base.
type KeyRateSetup struct {
	base       *lattice.Lattice
	maturities []float64
	bp         float64
	up, down   []*lattice.Lattice

	parallelUp, parallelDown *lattice.Lattice
}

// Maturities returns the key-rate grid
func (s *KeyRateSetup) Maturities() []float64 { return append([]float64(nil), s.maturities...) }

// Base returns the lattice the tents were fitted around
func (s *KeyRateSetup) Base() *lattice.Lattice { return s.base }

// NewKeyRateSetup fits an up and a down tent at every maturity, anchored on
// the neighbouring maturities with flat ends, plus the parallel shift the
// key rates are rescaled to
func (c *Calculator) NewKeyRateSetup(ctx context.Context, base *lattice.Lattice, maturities []float64, bp float64) (*KeyRateSetup, error) {
	if base == nil {
		return nil, errors.InvalidInput(errors.CodeInvalidLattice, "no lattice for key rates")
	}
	if len(maturities) == 0 {
		return nil, errors.InvalidInput(errors.CodeComputeKeyRates, "no key rate maturities")
	}
	for i, m := range maturities {
		if m <= 0 || (i > 0 && m <= maturities[i-1]) {
			return nil, errors.InvalidInputf(errors.CodeComputeKeyRates, "key rate maturities must be positive and increasing, got %v", maturities)
		}
	}
	if err := CheckShift(bp); err != nil {
		return nil, err
	}

	n := len(maturities)
	tents := make([]lattice.Tent, 0, 2*n)
	for i, m := range maturities {
		t := lattice.Tent{Target: m}
		if i > 0 {
			t.Left = maturities[i-1]
		}
		if i < n-1 {
			t.Right = maturities[i+1]
		}
		up, down := t, t
		up.BP, down.BP = bp, -bp
		tents = append(tents, up, down)
	}
	lats, err := c.fitTents(ctx, base, tents)
	if err != nil {
		return nil, err
	}

	s := &KeyRateSetup{
		base:       base,
		maturities: append([]float64(nil), maturities...),
		bp:         bp,
		up:         make([]*lattice.Lattice, n),
		down:       make([]*lattice.Lattice, n),
	}
	for i := 0; i < n; i++ {
		s.up[i], s.down[i] = lats[2*i], lats[2*i+1]
	}
	s.parallelUp, s.parallelDown, err = c.parallel(base, bp)
	if err != nil {
		return nil, err
	}
	c.log.Debugw("Key rate setup fitted", "maturities", maturities, "bp", bp)
	return s, nil
}

func (c *Calculator) parallel(base *lattice.Lattice, bp float64) (*lattice.Lattice, *lattice.Lattice, error) {
	up, err := c.builder.FitShift(base, bp, lattice.ShiftPar)
	if err != nil {
		return nil, nil, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeKeyRates, "parallel shift did not calibrate")
	}
	down, err := c.builder.FitShift(base, -bp, lattice.ShiftPar)
	if err != nil {
		return nil, nil, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeKeyRates, "parallel shift did not calibrate")
	}
	return up, down, nil
}

// fitTents calibrates one lattice per tent, bounded by the number of CPUs
func (c *Calculator) fitTents(ctx context.Context, base *lattice.Lattice, tents []lattice.Tent) ([]*lattice.Lattice, error) {
	out := make([]*lattice.Lattice, len(tents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range tents {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := c.builder.FitTent(base, tents[i])
			if err != nil {
				return errors.WithCode(err, errors.ClassComputation, errors.CodeComputeKeyRates,
					"key rate tent did not calibrate")
			}
			out[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// KeyRateDurations prices v on every lattice of setup and rescales the key
// rate durations so that they sum to the effective duration
func (c *Calculator) KeyRateDurations(ctx context.Context, setup *KeyRateSetup, v *valuation.Value, oasBP float64) (*models.KeyRateReport, error) {
	if setup == nil {
		return nil, errors.InvalidInput(errors.CodeComputeKeyRates, "no key rate setup")
	}
	if v.Lattice() != setup.base {
		return nil, errors.InvalidInput(errors.CodeInvalidLattice, "key rate setup was fitted around another lattice")
	}
	mid, err := v.DirtyPrice(oasBP)
	if err != nil {
		return nil, err
	}

	n := len(setup.maturities)
	lats := make([]*lattice.Lattice, 0, 2*n+2)
	for i := 0; i < n; i++ {
		lats = append(lats, setup.up[i], setup.down[i])
	}
	lats = append(lats, setup.parallelUp, setup.parallelDown)
	prices, err := reprice(ctx, v, oasBP, lats...)
	if err != nil {
		return nil, err
	}

	dr := setup.bp / 1e4
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = (prices[2*i+1] - prices[2*i]) / (2 * mid * dr)
	}
	eff := (prices[2*n+1] - prices[2*n]) / (2 * mid * dr)

	scaled := append([]float64(nil), raw...)
	sum := floats.Sum(raw)
	if math.Abs(sum) < 1e-12 {
		return nil, errors.Computation(errors.CodeComputeKeyRates, "key rate durations sum to zero")
	}
	floats.Scale(eff/sum, scaled)

	return &models.KeyRateReport{
		Maturities:        setup.Maturities(),
		Durations:         scaled,
		Raw:               raw,
		EffectiveDuration: eff,
		Warnings:          v.Warnings(),
	}, nil
}
