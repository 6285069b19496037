package engine

import (
	"context"
	"time"

	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/internal/risk"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// BondKeyDurSetup fits the key-rate tents around h. A zero bp uses the
// configured shift for bonds without options.
func (e *Engine) BondKeyDurSetup(ctx context.Context, h lattice.Handle, maturities []float64, bp float64) (setup *risk.KeyRateSetup, err error) {
	start := time.Now()
	defer func() { e.rec.RecordLatticeFit("key_rate_setup", err, time.Since(start)) }()

	if err = e.gate.Check(license.FeatureNone); err != nil {
		return nil, err
	}
	if bp == 0 {
		bp = e.cfg.DurationBPPlain
	}
	base, release, err := e.acquire(h)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.calc.NewKeyRateSetup(ctx, base, maturities, bp)
}

// BondKeyDur measures key-rate durations of in on a setup fitted around in.Tree
func (e *Engine) BondKeyDur(ctx context.Context, in Input, setup *risk.KeyRateSetup, q models.Quote) (rep *models.KeyRateReport, err error) {
	start := time.Now()
	defer func() { e.observe("key_rates", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()
	oas, err := e.resolve(v, q)
	if err != nil {
		return nil, err
	}
	return e.calc.KeyRateDurations(ctx, setup, v, oas)
}

// BondKeyRate measures the duration of in to a single tent at target years
func (e *Engine) BondKeyRate(ctx context.Context, in Input, q models.Quote, target, bp float64, anchors AnchorSpec) (dur float64, err error) {
	start := time.Now()
	defer func() { e.observe("key_rate", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	if bp == 0 {
		bp = e.cfg.DurationBPPlain
	}
	oas, err := e.resolve(v, q)
	if err != nil {
		return models.BadValue, err
	}
	return e.calc.KeyRateDuration(ctx, v, oas, target, bp, risk.Anchors{
		Left:  anchors.Left,
		Right: anchors.Right,
		Width: anchors.Width,
	})
}

// BondScen walks in to the scenario horizon
func (e *Engine) BondScen(ctx context.Context, in Input, q models.Quote, spec ScenarioSpec) (rep *models.ScenarioReport, err error) {
	start := time.Now()
	defer func() { e.observe("scenario", start, err) }()

	v, release, err := e.bind(in, license.FeatureScenarios)
	if err != nil {
		return nil, err
	}
	defer release()

	sc, done, err := e.scenario(spec)
	if err != nil {
		return nil, err
	}
	defer done()

	oas, err := e.resolve(v, q)
	if err != nil {
		return nil, err
	}
	return e.calc.Scenario(ctx, v, oas, sc)
}

// scenario resolves spec's handles, retaining each lattice until done is called
func (e *Engine) scenario(spec ScenarioSpec) (sc risk.Scenario, done func(), err error) {
	var releases []func()
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}
	defer func() {
		if err != nil {
			releaseAll()
		}
	}()

	if sc.Horizon, err = parseDate(spec.Horizon, errors.CodeInvalidScenario); err != nil {
		return sc, nil, err
	}
	var ok bool
	if sc.Mode, ok = risk.ParseTransitionMode(spec.Mode); !ok {
		return sc, nil, errors.InvalidInputf(errors.CodeInvalidScenario, "unknown transition mode %q", spec.Mode)
	}
	if sc.Reinvest, ok = risk.ParseReinvestPolicy(spec.Reinvest); !ok {
		return sc, nil, errors.InvalidInputf(errors.CodeInvalidScenario, "unknown reinvestment policy %q", spec.Reinvest)
	}
	sc.ReinvestRate = spec.ReinvestRate
	sc.Efficiency = spec.Efficiency
	if sc.Efficiency == 0 {
		sc.Efficiency = e.cfg.ScenarioEfficiency
	}
	sc.ShiftBP = spec.ShiftBP

	for _, tr := range spec.Transitions {
		l, release, err := e.acquire(tr.Tree)
		if err != nil {
			return sc, nil, err
		}
		releases = append(releases, release)
		sc.Transitions = append(sc.Transitions, risk.Transition{Years: tr.Years, Lattice: l})
	}
	return sc, releaseAll, nil
}
