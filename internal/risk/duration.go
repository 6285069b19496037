// Package risk measures how bond values respond to curve moves: effective and
// key-rate durations on recalibrated lattices, and horizon scenarios.
package risk

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/valuation"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

const (
	// MinShiftBP and MaxShiftBP bound a duration shift; the upper bound is open
	MinShiftBP = 1.0
	MaxShiftBP = 300.0
)

// DurationMode selects how the curve is moved for effective durations
type DurationMode int

const (
	// DurationPar shifts the par curve and recalibrates
	DurationPar DurationMode = iota
	// DurationSpot offsets the node rates of the existing lattice
	DurationSpot
	// DurationNone skips durations
	DurationNone
)

// String returns the mode name
func (m DurationMode) String() string {
	switch m {
	case DurationSpot:
		return "spot"
	case DurationNone:
		return "none"
	default:
		return "par"
	}
}

// ParseDurationMode accepts par, spot and none
func ParseDurationMode(s string) (DurationMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "par", "":
		return DurationPar, true
	case "spot":
		return DurationSpot, true
	case "none":
		return DurationNone, true
	}
	return DurationPar, false
}

// DurationResult holds dirty prices at the base and shifted lattices and the
// sensitivities derived from them
type DurationResult struct {
	Mode    DurationMode
	ShiftBP float64

	Mid  float64
	Up   float64
	Down float64

	Duration     float64
	Convexity    float64
	DurationUp   float64
	DurationDown float64
	DV01         float64

	Warnings []errors.Warning
}

// Calculator computes lattice-based risk measures
type Calculator struct {
	builder *lattice.Builder
	log     *logger.Logger
}

// NewCalculator creates a risk calculator that fits shifted lattices with builder
func NewCalculator(builder *lattice.Builder) *Calculator {
	return &Calculator{
		builder: builder,
		log:     logger.GetLogger("risk.calculator"),
	}
}

// CheckShift validates a duration shift in basis points
func CheckShift(bp float64) error {
	if bp < MinShiftBP || bp >= MaxShiftBP {
		return errors.InvalidInputf(errors.CodeInvalidDurationShift,
			"duration shift %.2fbp outside [%.0f, %.0f)", bp, MinShiftBP, MaxShiftBP)
	}
	return nil
}

// EffectiveDuration reprices v at oasBP on lattices shifted up and down by bp
func (c *Calculator) EffectiveDuration(ctx context.Context, v *valuation.Value, oasBP, bp float64, mode DurationMode) (*DurationResult, error) {
	mid, err := v.DirtyPrice(oasBP)
	if err != nil {
		return nil, err
	}
	res := &DurationResult{Mode: mode, Mid: mid, Up: mid, Down: mid}
	if mode == DurationNone {
		return res, nil
	}
	if err := CheckShift(bp); err != nil {
		return nil, err
	}

	var w errors.Warnings
	up, down, used, err := c.shifted(ctx, v.Lattice(), bp, mode, &w)
	if err != nil {
		return nil, err
	}
	prices, err := reprice(ctx, v, oasBP, up, down)
	if err != nil {
		return nil, err
	}
	res.ShiftBP = used
	res.Up, res.Down = prices[0], prices[1]
	measure(res)
	w.Merge(v.Warnings())
	res.Warnings = w.List()
	return res, nil
}

// shifted fits the up and down legs in parallel. A par leg that fails to
// calibrate is retried at a halving shift.
func (c *Calculator) shifted(ctx context.Context, base *lattice.Lattice, bp float64, mode DurationMode, w *errors.Warnings) (*lattice.Lattice, *lattice.Lattice, float64, error) {
	shift := lattice.ShiftPar
	if mode == DurationSpot {
		shift = lattice.ShiftSpot
	}

	var up, down *lattice.Lattice
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		up, err = c.builder.FitShift(base, bp, shift)
		return err
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		down, err = c.builder.FitShift(base, -bp, shift)
		return err
	})
	err := g.Wait()
	if err == nil {
		return up, down, bp, nil
	}
	if ctx.Err() != nil {
		return nil, nil, 0, ctx.Err()
	}
	if mode != DurationPar {
		return nil, nil, 0, errors.WithCode(err, errors.ClassComputation, errors.CodeTreeFit, "shifted lattice did not calibrate")
	}

	c.log.Warnw("Duration shift failed, reducing", "bp", bp, "error", err)
	up, down, used, err := c.builder.FitShiftAuto(base, bp/2)
	if err != nil {
		return nil, nil, 0, err
	}
	w.Addf(errors.WarnDurationShiftReduced, "duration shift reduced from %.2fbp to %.2fbp", bp, used)
	return up, down, used, nil
}

// reprice values v at oasBP on each lattice concurrently and returns the
// dirty prices in order
func reprice(ctx context.Context, v *valuation.Value, oasBP float64, lats ...*lattice.Lattice) ([]float64, error) {
	vals := make([]*valuation.Value, len(lats))
	for i, l := range lats {
		var err error
		if vals[i], err = v.WithLattice(l); err != nil {
			return nil, err
		}
	}
	out := make([]float64, len(lats))
	g, gctx := errgroup.WithContext(ctx)
	for i := range vals {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := vals[i].DirtyPrice(oasBP)
			out[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// measure fills the sensitivities from the mid, up and down prices
func measure(r *DurationResult) {
	if r.Mid == 0 || r.ShiftBP == 0 {
		return
	}
	dr := r.ShiftBP / 1e4
	r.Duration = (r.Down - r.Up) / (2 * r.Mid * dr)
	r.Convexity = (r.Up + r.Down - 2*r.Mid) / (r.Mid * dr * dr)
	r.DurationUp = (r.Mid - r.Up) / (r.Mid * dr)
	r.DurationDown = (r.Down - r.Mid) / (r.Mid * dr)
	r.DV01 = (r.Down - r.Up) / (2 * r.ShiftBP)
}
