// Package engine is the entry point of the valuation library. Every call is
// checked against the license gate and reports its outcome to the metrics
// recorder; lattices are addressed by handles into a shared store.
package engine

import (
	"context"
	"time"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/internal/risk"
	"github.com/rzzdr/bond-oas-engine/internal/valuation"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Engine binds configuration, licensing and the lattice store
type Engine struct {
	cfg      config.EngineConfig
	valCfg   valuation.Config
	mode     risk.DurationMode
	gate     *license.Gate
	lattices *lattice.Store
	builder  *lattice.Builder
	calc     *risk.Calculator
	rec      *metrics.Recorder
	log      *logger.Logger
}

// New creates an engine. rec may be nil.
func New(cfg config.EngineConfig, gate *license.Gate, store *lattice.Store, rec *metrics.Recorder) (*Engine, error) {
	if gate == nil {
		return nil, errors.Initialization(errors.CodeUninitialized, "engine needs a license gate")
	}
	if store == nil {
		store = lattice.NewStore()
	}
	mode, ok := risk.ParseDurationMode(cfg.DurationMode)
	if !ok {
		return nil, errors.Initialization(errors.CodeInvalidDurationShift, "unknown duration mode "+cfg.DurationMode)
	}
	method, ok := bond.ParseYieldMethod(cfg.YieldMethod)
	if !ok {
		return nil, errors.Initialization(errors.CodeUninitialized, "unknown yield method "+cfg.YieldMethod)
	}
	valCfg := valuation.Config{
		NoticeDays:  cfg.NoticeDays,
		YieldMethod: method,
		Tax: bond.TaxRates{
			Income:    cfg.Tax.Income,
			ShortTerm: cfg.Tax.ShortTerm,
			LongTerm:  cfg.Tax.LongTerm,
			SuperLong: cfg.Tax.SuperLong,
		},
		Tolerance: cfg.SolverTolerance,
		MaxIter:   cfg.SolverMaxIter,
	}
	builder := lattice.NewBuilder(lattice.Params{StepsPerYear: cfg.StepsPerYear, HorizonYears: cfg.HorizonYears})

	e := &Engine{
		cfg:      cfg,
		valCfg:   valCfg,
		mode:     mode,
		gate:     gate,
		lattices: store,
		builder:  builder,
		calc:     risk.NewCalculator(builder),
		rec:      rec,
		log:      logger.GetLogger("engine.facade"),
	}
	e.log.Infow("Engine ready",
		"duration_mode", mode.String(),
		"steps_per_year", builder.Params().StepsPerYear,
		"horizon_years", builder.Params().HorizonYears)
	return e, nil
}

// Gate returns the license gate the engine checks
func (e *Engine) Gate() *license.Gate { return e.gate }

// Lattices returns the lattice store
func (e *Engine) Lattices() *lattice.Store { return e.lattices }

// Config returns the engine configuration
func (e *Engine) Config() config.EngineConfig { return e.cfg }

func (e *Engine) observe(op string, start time.Time, err error) {
	e.rec.RecordValuation(op, err, time.Since(start))
	if err != nil {
		e.log.Debugw("Call failed", "operation", op, "error", err)
	}
}

// bind checks the gate and configures a valuation of in. The lattice is
// retained until release is called.
func (e *Engine) bind(in Input, need license.Feature) (*valuation.Value, func(), error) {
	if in.AfterTax {
		need |= license.FeatureAfterTax
	}
	if err := e.gate.Check(need); err != nil {
		return nil, nil, err
	}
	if in.Bond == nil {
		return nil, nil, errors.InvalidInput(errors.CodeUninitialized, "no bond to value")
	}
	pvdate, err := parseDate(in.PVDate, errors.CodeInvalidPVDate)
	if err != nil {
		return nil, nil, err
	}
	trade, err := parseOptionalDate(in.TradeDate, errors.CodeInvalidDate)
	if err != nil {
		return nil, nil, err
	}

	l, release, err := e.acquire(in.Tree)
	if err != nil {
		return nil, nil, err
	}
	if !l.Deterministic() {
		if err := e.gate.Check(license.FeatureLattice); err != nil {
			release()
			return nil, nil, err
		}
	}
	v := valuation.New(e.valCfg)
	opts := valuation.Options{TradeDate: trade, Status: in.Status, Calendar: in.Calendar, AfterTax: in.AfterTax}
	if err := v.Reset(in.Bond, l, pvdate, opts); err != nil {
		release()
		return nil, nil, err
	}
	return v, release, nil
}

// acquire retains h and returns its lattice
func (e *Engine) acquire(h lattice.Handle) (*lattice.Lattice, func(), error) {
	if err := e.lattices.Retain(h); err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := e.lattices.Release(h); err != nil {
			e.log.Warnw("Lattice release failed", "handle", h, "error", err)
		}
		e.rec.RecordLiveLattices(e.lattices.Live())
	}
	l, err := e.lattices.Get(h)
	if err != nil {
		release()
		return nil, nil, err
	}
	return l, release, nil
}

// resolve turns q into an OAS and records the solver effort
func (e *Engine) resolve(v *valuation.Value, q models.Quote) (float64, error) {
	oas, err := v.ResolveOAS(q)
	if err != nil {
		return models.BadValue, err
	}
	if q.Type != models.QuoteOAS {
		e.rec.RecordOASIterations(v.Iterations())
	}
	return oas, nil
}

// shift returns the duration mode and shift for b after applying ov
func (e *Engine) shift(b *bond.Bond, ov *DurationOverride) (risk.DurationMode, float64, error) {
	mode := e.mode
	bp := e.cfg.DurationBPPlain
	if b.HasOptions() {
		bp = e.cfg.DurationBPOptions
	}
	if ov == nil {
		return mode, bp, nil
	}
	if ov.Mode != "" {
		m, ok := risk.ParseDurationMode(ov.Mode)
		if !ok {
			return mode, bp, errors.InvalidInputf(errors.CodeInvalidDurationShift, "unknown duration mode %q", ov.Mode)
		}
		mode = m
	}
	if ov.ShiftBP != 0 {
		if err := risk.CheckShift(ov.ShiftBP); err != nil {
			return mode, bp, err
		}
		bp = ov.ShiftBP
	}
	return mode, bp, nil
}

// BondAccrued returns the accrued interest and days of b at pvdate. It needs
// no lattice.
func (e *Engine) BondAccrued(pvdate int, b *bond.Bond) (ai float64, days int, err error) {
	start := time.Now()
	defer func() { e.observe("accrued", start, err) }()

	if err = e.gate.Check(license.FeatureNone); err != nil {
		return models.BadValue, 0, err
	}
	if b == nil {
		return models.BadValue, 0, errors.InvalidInput(errors.CodeUninitialized, "no bond to value")
	}
	d, err := parseDate(pvdate, errors.CodeInvalidPVDate)
	if err != nil {
		return models.BadValue, 0, err
	}
	return valuation.Accrued(b, d)
}

// BondPrice returns the clean price at oasBP
func (e *Engine) BondPrice(in Input, oasBP float64) (price float64, err error) {
	start := time.Now()
	defer func() { e.observe("price", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	return v.Price(oasBP)
}

// BondOAS returns the spread in basis points that reprices the bond to price
func (e *Engine) BondOAS(in Input, price float64) (oas float64, err error) {
	start := time.Now()
	defer func() { e.observe("oas", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	if oas, err = v.OAS(price); err != nil {
		return models.BadValue, err
	}
	e.rec.RecordOASIterations(v.Iterations())
	return oas, nil
}

// BondVal fills a full report: prices, option value, effective duration and
// convexity, and conventional yields
func (e *Engine) BondVal(ctx context.Context, in Input, q models.Quote, ov *DurationOverride) (rep *models.BondReport, err error) {
	start := time.Now()
	defer func() { e.observe("val", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()

	mode, bp, err := e.shift(in.Bond, ov)
	if err != nil {
		return nil, err
	}
	oas, err := e.resolve(v, q)
	if err != nil {
		return nil, err
	}
	if rep, err = v.Report(oas); err != nil {
		return nil, err
	}
	dur, err := e.calc.EffectiveDuration(ctx, v, oas, bp, mode)
	if err != nil {
		return nil, err
	}
	rep.ShiftMode = mode.String()
	if mode != risk.DurationNone {
		rep.Duration, rep.Convexity = dur.Duration, dur.Convexity
		rep.DurationUp, rep.DurationDown = dur.DurationUp, dur.DurationDown
		rep.DV01, rep.ShiftBP = dur.DV01, dur.ShiftBP
		rep.Warnings = dur.Warnings
	}
	yields, err := v.Yields(rep.Price)
	if err != nil {
		return nil, err
	}
	rep.Yields = *yields
	return rep, nil
}

// BondFlow reports the remaining cashflows discounted at the quote's OAS
func (e *Engine) BondFlow(in Input, q models.Quote) (rep *models.FlowReport, err error) {
	start := time.Now()
	defer func() { e.observe("flow", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()
	oas, err := e.resolve(v, q)
	if err != nil {
		return nil, err
	}
	if _, err = v.Price(oas); err != nil {
		return nil, err
	}
	return v.Flows()
}

// BondYields reports conventional yields at a clean price
func (e *Engine) BondYields(in Input, price float64) (rep *models.YieldReport, err error) {
	start := time.Now()
	defer func() { e.observe("yields", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()
	return v.Yields(price)
}

// YieldToWorst returns the yield to every call, put and maturity date and the
// lowest of them. toSink adds each sink date as a candidate.
func (e *Engine) YieldToWorst(in Input, price float64, toSink bool) (rep *models.WorstReport, err error) {
	start := time.Now()
	defer func() { e.observe("yield_to_worst", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()
	return v.YieldToWorst(price, toSink)
}

// PriceToWorst returns the lowest price over every redemption candidate at yield
func (e *Engine) PriceToWorst(in Input, yield float64, toSink bool) (rep *models.WorstReport, err error) {
	start := time.Now()
	defer func() { e.observe("price_to_worst", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return nil, err
	}
	defer release()
	return v.PriceToWorst(yield, toSink)
}

// PriceCnv converts a quote of one type into another
func (e *Engine) PriceCnv(in Input, q models.Quote, to models.QuoteType) (out float64, err error) {
	start := time.Now()
	defer func() { e.observe("convert", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	return v.Convert(q, to)
}

// AssetSwapSpread returns the par asset swap spread in basis points at price
func (e *Engine) AssetSwapSpread(in Input, price float64) (spread float64, err error) {
	start := time.Now()
	defer func() { e.observe("asset_swap", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	return v.AssetSwapSpread(price)
}

// ISpread returns the yield spread over the lattice par rate at maturity
func (e *Engine) ISpread(in Input, price float64) (spread float64, err error) {
	start := time.Now()
	defer func() { e.observe("i_spread", start, err) }()

	v, release, err := e.bind(in, license.FeatureNone)
	if err != nil {
		return models.BadValue, err
	}
	defer release()
	return v.ISpread(price)
}
