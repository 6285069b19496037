package engine

import (
	"time"

	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/internal/risk"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// store records a fit and stores its lattice
func (e *Engine) store(kind string, start time.Time, l *lattice.Lattice, err error) (lattice.Handle, error) {
	e.rec.RecordLatticeFit(kind, err, time.Since(start))
	if err != nil {
		return lattice.NoTree, err
	}
	h := e.lattices.Put(l)
	e.rec.RecordLiveLattices(e.lattices.Live())
	return h, nil
}

// TreeFit calibrates a lattice to spec plus an optional issuer spread
func (e *Engine) TreeFit(spec CurveSpec, spread *SpreadSpec) (lattice.Handle, error) {
	start := time.Now()
	need := license.FeatureNone
	if spec.Volatility > 0 {
		need = license.FeatureLattice
	}
	if err := e.gate.Check(need); err != nil {
		return lattice.NoTree, err
	}
	c, err := spec.Build()
	if err != nil {
		return lattice.NoTree, err
	}
	var l *lattice.Lattice
	if spread != nil {
		s, err := spread.Build()
		if err != nil {
			return lattice.NoTree, err
		}
		l, err = e.builder.Fit(c, s)
		return e.store("fit", start, l, err)
	}
	l, err = e.builder.Fit(c, nil)
	return e.store("fit", start, l, err)
}

// TreeFitZero calibrates a zero-volatility lattice to spec, ignoring its
// volatility assumptions
func (e *Engine) TreeFitZero(spec CurveSpec) (lattice.Handle, error) {
	start := time.Now()
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return lattice.NoTree, err
	}
	spec.Volatility, spec.MeanReversion, spec.LongVolatility = 0, 0, 0
	c, err := spec.Build()
	if err != nil {
		return lattice.NoTree, err
	}
	l, err := e.builder.FitZero(c)
	return e.store("zero", start, l, err)
}

// TreeFitSpreads calibrates a new lattice to the curve of h plus spread
func (e *Engine) TreeFitSpreads(h lattice.Handle, spread SpreadSpec) (lattice.Handle, error) {
	start := time.Now()
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return lattice.NoTree, err
	}
	s, err := spread.Build()
	if err != nil {
		return lattice.NoTree, err
	}
	base, release, err := e.acquire(h)
	if err != nil {
		return lattice.NoTree, err
	}
	defer release()
	l, err := e.builder.FitSpread(base, s)
	return e.store("spread", start, l, err)
}

// TreeFitShift builds the lattice of h shifted in parallel by bp. mode is par
// or spot.
func (e *Engine) TreeFitShift(h lattice.Handle, bp float64, mode string) (lattice.Handle, error) {
	start := time.Now()
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return lattice.NoTree, err
	}
	shift := lattice.ShiftPar
	switch m, ok := risk.ParseDurationMode(mode); {
	case !ok || m == risk.DurationNone:
		return lattice.NoTree, errors.InvalidInputf(errors.CodeInvalidDurationShift, "unknown shift mode %q", mode)
	case m == risk.DurationSpot:
		shift = lattice.ShiftSpot
	}
	base, release, err := e.acquire(h)
	if err != nil {
		return lattice.NoTree, err
	}
	defer release()
	l, err := e.builder.FitShift(base, bp, shift)
	return e.store("shift", start, l, err)
}

// TreeFitShiftAuto builds the par shifts of h up and down by bp, halving the
// shift until both legs calibrate, and returns the shift used
func (e *Engine) TreeFitShiftAuto(h lattice.Handle, bp float64) (up, down lattice.Handle, used float64, err error) {
	start := time.Now()
	if err = e.gate.Check(license.FeatureNone); err != nil {
		return lattice.NoTree, lattice.NoTree, 0, err
	}
	if err = risk.CheckShift(bp); err != nil {
		return lattice.NoTree, lattice.NoTree, 0, err
	}
	base, release, err := e.acquire(h)
	if err != nil {
		return lattice.NoTree, lattice.NoTree, 0, err
	}
	defer release()
	lu, ld, used, err := e.builder.FitShiftAuto(base, bp)
	e.rec.RecordLatticeFit("shift_auto", err, time.Since(start))
	if err != nil {
		return lattice.NoTree, lattice.NoTree, 0, err
	}
	up, down = e.lattices.Put(lu), e.lattices.Put(ld)
	e.rec.RecordLiveLattices(e.lattices.Live())
	return up, down, used, nil
}

// TreeRelease drops the caller's reference to h
func (e *Engine) TreeRelease(h lattice.Handle) error {
	if err := e.lattices.Release(h); err != nil {
		return err
	}
	e.rec.RecordLiveLattices(e.lattices.Live())
	return nil
}

// TreeMinRate returns the lowest node rate of h in percent
func (e *Engine) TreeMinRate(h lattice.Handle) (float64, error) {
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return models.BadValue, err
	}
	l, err := e.lattices.Get(h)
	if err != nil {
		return models.BadValue, err
	}
	return 100 * l.MinRate(), nil
}

// TreeInfo describes the lattice behind h
func (e *Engine) TreeInfo(h lattice.Handle) (*models.TreeInfo, error) {
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return nil, err
	}
	l, err := e.lattices.Get(h)
	if err != nil {
		return nil, err
	}
	return &models.TreeInfo{
		Handle:         uint64(h),
		Steps:          l.Steps(),
		Dt:             l.Dt(),
		Horizon:        l.Horizon(),
		Volatility:     l.Volatility(),
		MeanReversion:  l.MeanReversion(),
		LongVolatility: l.LongVolatility(),
		MinRate:        100 * l.MinRate(),
		SpotShift:      l.SpotShift(),
	}, nil
}

func checkGrid(name string, xs []float64, positive bool) error {
	if len(xs) == 0 {
		return errors.InvalidInputf(errors.CodeInvalidLattice, "no %s", name)
	}
	for i, x := range xs {
		if x < 0 || (positive && x == 0) || (i > 0 && x <= xs[i-1]) {
			return errors.InvalidInputf(errors.CodeInvalidLattice, "%s must be increasing, got %v", name, xs)
		}
	}
	return nil
}

// FwdRates returns the par curves implied by h at each forward time
func (e *Engine) FwdRates(h lattice.Handle, times, mats []float64) (*models.ForwardReport, error) {
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return nil, err
	}
	if err := checkGrid("forward times", times, false); err != nil {
		return nil, err
	}
	if err := checkGrid("maturities", mats, true); err != nil {
		return nil, err
	}
	l, err := e.lattices.Get(h)
	if err != nil {
		return nil, err
	}
	return &models.ForwardReport{
		Times:      append([]float64(nil), times...),
		Maturities: append([]float64(nil), mats...),
		Rates:      l.ForwardRates(times, mats),
	}, nil
}

// FwdRatesFromCurve returns the forward par curves of spec without storing a lattice
func (e *Engine) FwdRatesFromCurve(spec CurveSpec, times, mats []float64) (*models.ForwardReport, error) {
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return nil, err
	}
	if err := checkGrid("forward times", times, false); err != nil {
		return nil, err
	}
	if err := checkGrid("maturities", mats, true); err != nil {
		return nil, err
	}
	c, err := spec.Build()
	if err != nil {
		return nil, err
	}
	l, err := e.builder.FitZero(c)
	if err != nil {
		return nil, err
	}
	return &models.ForwardReport{
		Times:      append([]float64(nil), times...),
		Maturities: append([]float64(nil), mats...),
		Rates:      l.ForwardRates(times, mats),
	}, nil
}

// YieldVol returns the yield volatility of h at each maturity
func (e *Engine) YieldVol(h lattice.Handle, mats []float64) (*models.VolReport, error) {
	if err := e.gate.Check(license.FeatureNone); err != nil {
		return nil, err
	}
	if err := checkGrid("maturities", mats, true); err != nil {
		return nil, err
	}
	l, err := e.lattices.Get(h)
	if err != nil {
		return nil, err
	}
	rep := &models.VolReport{
		MeanReversion: l.MeanReversion(),
		Maturities:    append([]float64(nil), mats...),
		Volatilities:  make([]float64, len(mats)),
	}
	for i, m := range mats {
		rep.Volatilities[i] = l.TermVolatility(m)
	}
	return rep, nil
}
