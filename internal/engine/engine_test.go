package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

var secret = []byte("engine-test")

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		DurationMode:       "par",
		DurationBPPlain:    10,
		DurationBPOptions:  40,
		ScenarioEfficiency: 100,
		StepsPerYear:       12,
		HorizonYears:       50,
		SolverTolerance:    1e-8,
		SolverMaxIter:      200,
		NoticeDays:         30,
		YieldMethod:        "simple_last_period",
		Tax:                config.TaxConfig{Income: 35, ShortTerm: 35, LongTerm: 15, SuperLong: 15},
	}
}

func gate(t *testing.T, f license.Feature) *license.Gate {
	t.Helper()
	g := license.NewGate(secret)
	key, err := license.Issue(secret, "desk", time.Now().Add(time.Hour), f)
	require.NoError(t, err)
	require.NoError(t, g.Authorize("desk", key))
	return g
}

func newEngine(t *testing.T, g *license.Gate, store *lattice.Store) *Engine {
	t.Helper()
	e, err := New(testConfig(), g, store, metrics.NewRecorder(prometheus.NewRegistry()))
	require.NoError(t, err)
	return e
}

func flatSpec(rate, vol float64) CurveSpec {
	years := []float64{0.5, 1, 2, 5, 10, 20, 30}
	values := make([]float64, len(years))
	for i := range values {
		values[i] = rate
	}
	return CurveSpec{Years: years, Values: values, Volatility: vol, MeanReversion: 5}
}

func bullet(t *testing.T, coupon float64, dated, maturity int) *bond.Bond {
	t.Helper()
	b, err := bond.Spec{Name: "test", Issue: dated, Maturity: maturity, Coupon: coupon}.Build()
	require.NoError(t, err)
	return b
}

func TestNewRejectsBadConfig(t *testing.T) {
	g := license.NewGate(secret)
	cfg := testConfig()
	cfg.DurationMode = "sideways"
	_, err := New(cfg, g, nil, nil)
	assert.True(t, errors.HasClass(err, errors.ClassInitialization))

	cfg = testConfig()
	cfg.YieldMethod = "guess"
	_, err = New(cfg, g, nil, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestCallsFailWhenUnauthorized(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, license.NewGate(secret), nil)
	b := bullet(t, 5, 20130701, 20230701)
	in := Input{PVDate: 20130701, Tree: lattice.Handle(1 << 32), Bond: b}

	calls := map[string]func() error{
		"tree fit": func() error { _, err := e.TreeFit(flatSpec(5, 0), nil); return err },
		"tree zero": func() error { _, err := e.TreeFitZero(flatSpec(5, 0)); return err },
		"tree info": func() error { _, err := e.TreeInfo(in.Tree); return err },
		"accrued": func() error { _, _, err := e.BondAccrued(20130701, b); return err },
		"price":   func() error { _, err := e.BondPrice(in, 0); return err },
		"oas":     func() error { _, err := e.BondOAS(in, 100); return err },
		"val": func() error {
			_, err := e.BondVal(ctx, in, models.Quote{Type: models.QuotePrice, Value: 100}, nil)
			return err
		},
		"yields":       func() error { _, err := e.BondYields(in, 100); return err },
		"key rate set": func() error { _, err := e.BondKeyDurSetup(ctx, in.Tree, []float64{2, 5}, 0); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.HasCode(call(), errors.CodeUninitialized))
		})
	}
}

func TestFeaturePermissions(t *testing.T) {
	ctx := context.Background()
	store := lattice.NewStore()
	full := newEngine(t, gate(t, license.FeatureAll), store)
	basic := newEngine(t, gate(t, license.FeatureNone), store)

	_, err := basic.TreeFit(flatSpec(5, 10), nil)
	assert.True(t, errors.HasCode(err, errors.CodePermissionLattice))
	assert.True(t, errors.HasClass(err, errors.ClassPermission))

	flat, err := basic.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	volatile, err := full.TreeFit(flatSpec(5, 10), nil)
	require.NoError(t, err)

	b := bullet(t, 5, 20130701, 20230701)
	_, err = basic.BondPrice(Input{PVDate: 20130701, Tree: volatile, Bond: b}, 0)
	assert.True(t, errors.HasCode(err, errors.CodePermissionLattice))

	_, err = basic.BondPrice(Input{PVDate: 20130701, Tree: flat, Bond: b, AfterTax: true}, 0)
	assert.True(t, errors.HasCode(err, errors.CodePermissionAfterTax))

	_, err = basic.BondScen(ctx, Input{PVDate: 20130701, Tree: flat, Bond: b},
		models.Quote{Type: models.QuoteOAS}, ScenarioSpec{Horizon: 20180701, Transitions: []TransitionSpec{{Years: 1, Tree: flat}}})
	assert.True(t, errors.HasCode(err, errors.CodePermissionScenarios))

	p, err := basic.BondPrice(Input{PVDate: 20130701, Tree: flat, Bond: b}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-4)
	assert.Equal(t, 2, store.Live())
}

func TestParBondValuation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	in := Input{PVDate: 20130701, Tree: h, Bond: bullet(t, 5, 20130701, 20230701)}

	oas, err := e.BondOAS(in, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0, oas, 0.01)

	rep, err := e.BondVal(ctx, in, models.Quote{Type: models.QuotePrice, Value: 100}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 100, rep.Price, 1e-6)
	assert.InDelta(t, 0, rep.OptionValue, 1e-9)
	assert.Equal(t, "par", rep.ShiftMode)
	assert.Equal(t, 10.0, rep.ShiftBP)
	assert.Greater(t, rep.Duration, 0.0)
	assert.InDelta(t, rep.Yields.ModifiedDuration, rep.Duration, 0.02)
	assert.InDelta(t, 5, rep.Yields.YTM, 1e-4)
	assert.Equal(t, 20130701, rep.PVDate)

	ai, days, err := e.BondAccrued(20131001, in.Bond)
	require.NoError(t, err)
	assert.Equal(t, 90, days)
	assert.InDelta(t, 1.25, ai, 1e-9)

	flows, err := e.BondFlow(in, models.Quote{Type: models.QuoteOAS, Value: 0})
	require.NoError(t, err)
	assert.Len(t, flows.Flows, 20)
	assert.InDelta(t, 100, flows.TotalPV, 1e-4)

	ytm, err := e.PriceCnv(in, models.Quote{Type: models.QuotePrice, Value: 100}, models.QuoteYTM)
	require.NoError(t, err)
	assert.InDelta(t, 5, ytm, 1e-4)

	ispread, err := e.ISpread(in, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0, ispread, 0.5)

	worst, err := e.YieldToWorst(in, 100, false)
	require.NoError(t, err)
	assert.Equal(t, 20230701, worst.Date)
	assert.Equal(t, models.RedemptionMaturity, worst.Type)

	worst, err = e.PriceToWorst(in, 5, false)
	require.NoError(t, err)
	assert.InDelta(t, 100, worst.Price, 1e-3)
	assert.Equal(t, 20230701, worst.Date)

	asw, err := e.AssetSwapSpread(in, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0, asw, 0.5)
}

func TestValuationSurvivesUnsolvedCallYield(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(10, 0), nil)
	require.NoError(t, err)

	b := bullet(t, 6, 20130701, 20330701)
	require.NoError(t, b.AddCall(calendar.MustNew(2018, time.July, 1), 100))
	b.SetCallStyle(bond.European)
	b.SetCallNotice(0, calendar.ExtendTrailingEdge)
	in := Input{PVDate: 20180625, Tree: h, Bond: b}

	rep, err := e.BondVal(ctx, in, models.Quote{Type: models.QuoteOAS, Value: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rep.OAS)
	assert.Less(t, rep.Price, 80.0)
	assert.Greater(t, rep.Duration, 0.0)
	assert.Equal(t, models.BadValue, rep.Yields.YTC)
	assert.InDelta(t, rep.Yields.YTM, rep.Yields.YTW, 1e-8)
	assert.Equal(t, "maturity", rep.Yields.YTWType)

	worst, err := e.YieldToWorst(in, rep.Price, false)
	require.NoError(t, err)
	assert.Equal(t, models.BadValue, worst.Yields[0])
	assert.Equal(t, 20330701, worst.Date)
}

func TestDurationOverride(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	in := Input{PVDate: 20130701, Tree: h, Bond: bullet(t, 5, 20130701, 20230701)}
	q := models.Quote{Type: models.QuoteOAS, Value: 0}

	rep, err := e.BondVal(ctx, in, q, &DurationOverride{Mode: "none"})
	require.NoError(t, err)
	assert.Equal(t, "none", rep.ShiftMode)
	assert.Zero(t, rep.Duration)

	rep, err = e.BondVal(ctx, in, q, &DurationOverride{Mode: "spot", ShiftBP: 25})
	require.NoError(t, err)
	assert.Equal(t, "spot", rep.ShiftMode)
	assert.Equal(t, 25.0, rep.ShiftBP)

	_, err = e.BondVal(ctx, in, q, &DurationOverride{ShiftBP: 300})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidDurationShift))

	_, err = e.BondVal(ctx, in, q, &DurationOverride{Mode: "diagonal"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidDurationShift))

	callable := bullet(t, 5, 20130701, 20230701)
	require.NoError(t, callable.AddCall(calendar.MustNew(2018, 7, 1), 100))
	rep, err = e.BondVal(ctx, Input{PVDate: 20130701, Tree: h, Bond: callable}, q, nil)
	require.NoError(t, err)
	assert.Equal(t, 40.0, rep.ShiftBP)
}

func TestBadInputs(t *testing.T) {
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	b := bullet(t, 5, 20130701, 20230701)

	tests := []struct {
		name string
		in   Input
		code errors.Code
	}{
		{"bad pvdate", Input{PVDate: 20130231, Tree: h, Bond: b}, errors.CodeInvalidPVDate},
		{"no bond", Input{PVDate: 20130701, Tree: h}, errors.CodeUninitialized},
		{"no tree", Input{PVDate: 20130701, Tree: lattice.NoTree, Bond: b}, errors.CodeInvalidLattice},
		{"bad trade date", Input{PVDate: 20130701, Tree: h, Bond: b, TradeDate: 20131301}, errors.CodeInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := e.BondPrice(tt.in, 0)
			assert.Equal(t, models.BadValue, p)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
	assert.Equal(t, 1, e.Lattices().Live())
}

func TestStaleHandleRejected(t *testing.T) {
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFitZero(flatSpec(5, 0))
	require.NoError(t, err)
	require.NoError(t, e.TreeRelease(h))

	_, err = e.TreeInfo(h)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidLattice))
	_, err = e.BondPrice(Input{PVDate: 20130701, Tree: h, Bond: bullet(t, 5, 20130701, 20230701)}, 0)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidLattice))
	assert.Error(t, e.TreeRelease(h))

	// a recycled slot does not revive the old handle
	h2, err := e.TreeFitZero(flatSpec(4, 0))
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, err = e.TreeInfo(h)
	assert.Error(t, err)
}

func TestTreeOperations(t *testing.T) {
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)

	info, err := e.TreeInfo(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(h), info.Handle)
	assert.Equal(t, 600, info.Steps)
	assert.InDelta(t, 1.0/12, info.Dt, 1e-12)
	assert.Zero(t, info.Volatility)

	lowest, err := e.TreeMinRate(h)
	require.NoError(t, err)
	assert.InDelta(t, 4.94, lowest, 0.05)

	fwd, err := e.FwdRates(h, []float64{0, 5}, []float64{1, 10})
	require.NoError(t, err)
	require.Len(t, fwd.Rates, 2)
	for _, row := range fwd.Rates {
		for _, r := range row {
			assert.InDelta(t, 5, r, 1e-3)
		}
	}
	_, err = e.FwdRates(h, []float64{5, 1}, []float64{1})
	assert.Error(t, err)

	direct, err := e.FwdRatesFromCurve(flatSpec(5, 0), []float64{0}, []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, fwd.Rates[0][1], direct.Rates[0][0], 1e-9)

	up, err := e.TreeFitShift(h, 25, "par")
	require.NoError(t, err)
	shifted, err := e.FwdRates(up, []float64{0}, []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, 5.25, shifted.Rates[0][0], 1e-3)

	spot, err := e.TreeFitShift(h, 25, "spot")
	require.NoError(t, err)
	spotInfo, err := e.TreeInfo(spot)
	require.NoError(t, err)
	assert.InDelta(t, 25, spotInfo.SpotShift, 1e-9)

	_, err = e.TreeFitShift(h, 25, "none")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidDurationShift))

	u, d, used, err := e.TreeFitShiftAuto(h, 40)
	require.NoError(t, err)
	assert.Equal(t, 40.0, used)
	assert.NotEqual(t, u, d)

	wide, err := e.TreeFitSpreads(h, SpreadSpec{Years: []float64{1, 30}, BPs: []float64{50, 50}})
	require.NoError(t, err)
	wideFwd, err := e.FwdRates(wide, []float64{0}, []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, 5.5, wideFwd.Rates[0][0], 1e-3)
}

func TestYieldVol(t *testing.T) {
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 10), nil)
	require.NoError(t, err)

	rep, err := e.YieldVol(h, []float64{1, 5, 10, 30})
	require.NoError(t, err)
	assert.InDelta(t, 5, rep.MeanReversion, 1e-9)
	require.Len(t, rep.Volatilities, 4)
	for i := 1; i < len(rep.Volatilities); i++ {
		assert.Less(t, rep.Volatilities[i], rep.Volatilities[i-1])
	}
}

func TestKeyRateDurations(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	in := Input{PVDate: 20130701, Tree: h, Bond: bullet(t, 5, 20130701, 20230701)}
	q := models.Quote{Type: models.QuoteOAS, Value: 0}

	setup, err := e.BondKeyDurSetup(ctx, h, []float64{2, 5, 10, 30}, 0)
	require.NoError(t, err)
	rep, err := e.BondKeyDur(ctx, in, setup, q)
	require.NoError(t, err)
	assert.InDelta(t, rep.EffectiveDuration, floats.Sum(rep.Durations), 1e-9)

	single, err := e.BondKeyRate(ctx, in, q, 10, 0, AnchorSpec{})
	require.NoError(t, err)
	assert.Greater(t, single, 0.0)

	other, err := e.TreeFitZero(flatSpec(4, 0))
	require.NoError(t, err)
	_, err = e.BondKeyDur(ctx, Input{PVDate: 20130701, Tree: other, Bond: in.Bond}, setup, q)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidLattice))
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, gate(t, license.FeatureAll), nil)
	h, err := e.TreeFit(flatSpec(5, 0), nil)
	require.NoError(t, err)
	in := Input{PVDate: 20130701, Tree: h, Bond: bullet(t, 5, 20130701, 20230701)}

	rep, err := e.BondScen(ctx, in, models.Quote{Type: models.QuotePrice, Value: 100}, ScenarioSpec{
		Horizon:     20180701,
		Transitions: []TransitionSpec{{Years: 1, Tree: h}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RedemptionNone, rep.RedemptionType)
	assert.InDelta(t, 25, rep.Interest, 1e-9)
	assert.InDelta(t, 5, rep.AnnualReturn, 1e-3)

	_, err = e.BondScen(ctx, in, models.Quote{Type: models.QuoteOAS}, ScenarioSpec{
		Horizon:     20180701,
		Transitions: []TransitionSpec{{Years: 1, Tree: h}},
		Mode:        "eventually",
	})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidScenario))

	_, err = e.BondScen(ctx, in, models.Quote{Type: models.QuoteOAS}, ScenarioSpec{
		Horizon:     20180701,
		Transitions: []TransitionSpec{{Years: 1, Tree: lattice.Handle(99 << 32)}},
	})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidLattice))

	// every lattice retained by the calls above has been released
	assert.Equal(t, 1, e.Lattices().Live())
}
