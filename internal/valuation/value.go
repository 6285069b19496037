// Package valuation prices bonds on calibrated short-rate lattices and solves
// for option-adjusted spreads and conventional yields.
package valuation

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/solver"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

const (
	// MinOAS and MaxOAS bound the OAS search in basis points
	MinOAS = -5000.0
	MaxOAS = 10000.0

	oasStartStep  = 100.0
	oasMaxExpand  = 30
	maxQuotePrice = 1000.0
)

// Config is the engine-wide valuation configuration
type Config struct {
	NoticeDays  int
	YieldMethod bond.YieldMethod
	Tax         bond.TaxRates
	Tolerance   float64
	MaxIter     int
}

// DefaultConfig returns the standard valuation settings
func DefaultConfig() Config {
	return Config{
		NoticeDays:  bond.DefaultNoticeDays,
		YieldMethod: bond.YieldSimpleLastPeriod,
		Tax:         bond.TaxRates{Income: 35, ShortTerm: 35, LongTerm: 15, SuperLong: 15},
		Tolerance:   1e-8,
		MaxIter:     200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.MaxIter <= 0 {
		c.MaxIter = d.MaxIter
	}
	if c.YieldMethod == bond.YieldDefault {
		c.YieldMethod = d.YieldMethod
	}
	return c
}

// State is the lifecycle of a Value
type State int

const (
	Uninitialized State = iota
	Configured
	Valued
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Configured:
		return "configured"
	case Valued:
		return "valued"
	default:
		return "uninitialized"
	}
}

// Options are the per-valuation settings bound by Reset
type Options struct {
	TradeDate calendar.Date
	Status    bond.SinkStatus
	Calendar  *calendar.Calendar
	AfterTax  bool
}

// Value binds a bond to a lattice at a valuation date. A Value is owned by
// one goroutine at a time; the lattice it uses may be shared.
type Value struct {
	cfg Config
	log *logger.Logger

	state   State
	bond    *bond.Bond
	version uint64
	lat     *lattice.Lattice
	pvdate  calendar.Date
	opts    Options

	cf     *bond.Cashflows
	plain  *bond.Cashflows
	priced *pricer
	bare   *pricer

	lastOAS     float64
	lastPrice   float64
	iterations  int
	optionValue map[float64]float64
}

// New creates an unconfigured valuation
func New(cfg Config) *Value {
	return &Value{
		cfg: cfg.withDefaults(),
		log: logger.GetLogger("valuation.engine"),
	}
}

// State returns the lifecycle state
func (v *Value) State() State { return v.state }

// Reset binds a bond and lattice at pvdate and returns the value to Configured
func (v *Value) Reset(b *bond.Bond, l *lattice.Lattice, pvdate calendar.Date, opts Options) error {
	v.state = Uninitialized
	if b == nil {
		return errors.InvalidInput(errors.CodeUninitialized, "no bond to value")
	}
	if l == nil {
		return errors.InvalidInput(errors.CodeInvalidLattice, "no lattice to value on")
	}
	v.bond, v.lat, v.pvdate, v.opts = b, l, pvdate, opts
	if err := v.prepare(); err != nil {
		return err
	}
	v.state = Configured
	return nil
}

// WithLattice returns a configured copy of v bound to another lattice. The
// copy shares v's cashflows and does not touch the bond.
func (v *Value) WithLattice(l *lattice.Lattice) (*Value, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.InvalidInput(errors.CodeInvalidLattice, "no lattice to value on")
	}
	cp := &Value{
		cfg:     v.cfg,
		log:     v.log,
		state:   Configured,
		bond:    v.bond,
		version: v.version,
		lat:     l,
		pvdate:  v.pvdate,
		opts:    v.opts,
		cf:      v.cf,
		plain:   v.plain,
	}
	var err error
	if cp.priced, err = newPricer(l, cp.cf, cp.taxMult()); err != nil {
		return nil, err
	}
	if cp.plain != nil {
		if cp.bare, err = newPricer(l, cp.plain, cp.taxMult()); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

func (v *Value) taxMult() float64 {
	if !v.opts.AfterTax {
		return 1
	}
	return 1 - v.TaxRates().Income/100
}

// TaxRates returns the bond's own rates, or the configured defaults
func (v *Value) TaxRates() bond.TaxRates {
	if v.bond != nil {
		if t := v.bond.TaxRates(); t != nil {
			return *t
		}
	}
	return v.cfg.Tax
}

func (v *Value) prepare() error {
	sched, err := v.bond.Schedule()
	if err != nil {
		return err
	}
	ro := bond.RemainingOptions{
		TradeDate:     v.opts.TradeDate,
		Status:        v.opts.Status,
		Calendar:      v.opts.Calendar,
		DefaultNotice: v.cfg.NoticeDays,
	}
	cf, err := sched.Remaining(v.pvdate, ro)
	if err != nil {
		return err
	}
	priced, err := newPricer(v.lat, cf, v.taxMult())
	if err != nil {
		return err
	}
	v.cf, v.priced = cf, priced
	v.plain, v.bare = nil, nil
	if cf.Call.Active() || cf.Put.Active() {
		ro.NoOptions = true
		if v.plain, err = sched.Remaining(v.pvdate, ro); err != nil {
			return err
		}
		if v.bare, err = newPricer(v.lat, v.plain, v.taxMult()); err != nil {
			return err
		}
	}
	v.version = v.bond.Version()
	v.lastOAS, v.lastPrice = 0, 0
	v.optionValue = nil
	return nil
}

// ensure fails before Reset and rebuilds after the bond changed
func (v *Value) ensure() error {
	if v.state == Uninitialized {
		return errors.Initialization(errors.CodeUninitialized, "valuation is not configured")
	}
	if v.bond.Version() != v.version {
		v.log.Debugw("Bond changed, rebuilding cashflows", "bond", v.bond.Name, "version", v.bond.Version())
		if err := v.prepare(); err != nil {
			v.state = Uninitialized
			return err
		}
		v.state = Configured
	}
	return nil
}

func checkOAS(oasBP float64) error {
	if math.IsNaN(oasBP) || oasBP < MinOAS || oasBP > MaxOAS {
		return errors.InvalidInputf(errors.CodeInvalidOAS, "oas %.2fbp outside [%.0f, %.0f]", oasBP, MinOAS, MaxOAS)
	}
	return nil
}

func checkPrice(price float64) error {
	if math.IsNaN(price) || price <= 0 || price >= maxQuotePrice {
		return errors.InvalidInputf(errors.CodeInvalidPrice, "price %.4f out of range", price)
	}
	return nil
}

// Price returns the clean price at oasBP from one backward induction
func (v *Value) Price(oasBP float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkOAS(oasBP); err != nil {
		return models.BadValue, err
	}
	dirty := v.priced.dirty(oasBP)
	if math.IsNaN(dirty) || math.IsInf(dirty, 0) {
		return models.BadValue, errors.Computationf(errors.CodeComputePrice, "price at %.2fbp is not finite", oasBP)
	}
	clean := dirty - v.cf.Accrued
	v.valued(oasBP, clean)
	return clean, nil
}

// DirtyPrice returns the price plus accrued at oasBP
func (v *Value) DirtyPrice(oasBP float64) (float64, error) {
	p, err := v.Price(oasBP)
	if err != nil {
		return models.BadValue, err
	}
	return p + v.cf.Accrued, nil
}

func (v *Value) valued(oasBP, price float64) {
	v.state = Valued
	v.lastOAS, v.lastPrice = oasBP, price
	v.optionValue = nil
}

// OAS solves for the spread in basis points at which the clean price equals price
func (v *Value) OAS(price float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, err
	}
	target := price + v.cf.Accrued
	f := func(oas float64) float64 { return v.priced.dirty(oas) - target }

	lo, hi, err := solver.Bracket(f, 0, oasStartStep, MinOAS, MaxOAS, oasMaxExpand)
	if err != nil {
		v.log.Warnw("OAS not bracketed", "bond", v.bond.Name, "price", price, "error", err)
		return models.BadValue, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeOAS,
			"no spread in range reprices the bond")
	}
	oas := lo
	v.iterations = 0
	if lo != hi {
		res, err := solver.Brent(f, lo, hi, v.cfg.Tolerance, v.cfg.MaxIter)
		if err != nil {
			v.log.Warnw("OAS search failed", "bond", v.bond.Name, "price", price, "error", err)
			return models.BadValue, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeOAS, "oas search failed")
		}
		oas = res.X
		v.iterations = res.Iterations
		v.log.Debugw("OAS solved", "bond", v.bond.Name, "price", price, "oas", oas, "iterations", res.Iterations)
	}
	v.valued(oas, price)
	return oas, nil
}

// ResolveOAS turns a quote of any type into an OAS in basis points
func (v *Value) ResolveOAS(q models.Quote) (float64, error) {
	if q.Type == models.QuoteOAS {
		if err := v.ensure(); err != nil {
			return models.BadValue, err
		}
		if err := checkOAS(q.Value); err != nil {
			return models.BadValue, err
		}
		return q.Value, nil
	}
	price, err := v.PriceFromQuote(q)
	if err != nil {
		return models.BadValue, err
	}
	return v.OAS(price)
}

// OptionValue is the dirty price of the optionless bond minus that of the
// bond itself at oasBP
func (v *Value) OptionValue(oasBP float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkOAS(oasBP); err != nil {
		return models.BadValue, err
	}
	if v.bare == nil {
		return 0, nil
	}
	if ov, ok := v.optionValue[oasBP]; ok {
		return ov, nil
	}
	ov := v.bare.dirty(oasBP) - v.priced.dirty(oasBP)
	if v.optionValue == nil {
		v.optionValue = make(map[float64]float64)
	}
	v.optionValue[oasBP] = ov
	return ov, nil
}

// Accrued returns the accrued interest per 100 at the valuation date
func (v *Value) Accrued() (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	return v.cf.Accrued, nil
}

// AccruedDays returns the accrued days; negative when trading ex-coupon
func (v *Value) AccruedDays() (int, error) {
	if err := v.ensure(); err != nil {
		return 0, err
	}
	return v.cf.AccruedDays, nil
}

// Accrued computes accrued interest without a lattice
func Accrued(b *bond.Bond, pvdate calendar.Date) (float64, int, error) {
	sched, err := b.Schedule()
	if err != nil {
		return models.BadValue, 0, err
	}
	if pvdate.Before(sched.Dated) {
		return models.BadValue, 0, errors.InvalidInputf(errors.CodeInvalidPVDate, "pvdate %s precedes dated date %s", pvdate, sched.Dated)
	}
	if !pvdate.Before(sched.End) {
		return models.BadValue, 0, errors.InvalidInputf(errors.CodeMatured, "bond redeemed on %s", sched.End)
	}
	ai, days, _ := sched.Accrued(pvdate)
	return ai, days, nil
}

// LastOAS returns the spread of the last Price or OAS call
func (v *Value) LastOAS() float64 { return v.lastOAS }

// Iterations returns the root finder iterations of the last OAS solve
func (v *Value) Iterations() int { return v.iterations }

// LastPrice returns the clean price of the last Price or OAS call
func (v *Value) LastPrice() float64 { return v.lastPrice }

// Cashflows returns the remaining events bound by Reset
func (v *Value) Cashflows() (*bond.Cashflows, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	return v.cf, nil
}

// Lattice returns the bound lattice
func (v *Value) Lattice() *lattice.Lattice { return v.lat }

// Bond returns the bound bond
func (v *Value) Bond() *bond.Bond { return v.bond }

// PVDate returns the valuation date
func (v *Value) PVDate() calendar.Date { return v.pvdate }

// Options returns the options bound by Reset
func (v *Value) Options() Options { return v.opts }

// Config returns the valuation configuration
func (v *Value) Config() Config { return v.cfg }

// Warnings returns the warnings raised while building the cashflows
func (v *Value) Warnings() []errors.Warning {
	if v.cf == nil {
		return nil
	}
	return append([]errors.Warning(nil), v.cf.Warnings...)
}

// Flows reports every remaining event discounted at the last spread
func (v *Value) Flows() (*models.FlowReport, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	oas := v.lastOAS
	rep := &models.FlowReport{PVDate: v.pvdate.Int(), OAS: oas, Warnings: v.Warnings()}
	interest := make([]float64, 0, len(v.cf.Events))
	principal := make([]float64, 0, len(v.cf.Events))
	pvs := make([]float64, 0, len(v.cf.Events))
	for _, e := range v.cf.Events {
		t := years(v.pvdate, e.Date)
		amount := e.Principal * e.Price / 100
		fl := models.Flow{
			Date:      e.Date.Int(),
			Years:     t,
			Interest:  e.Interest,
			Principal: amount,
			Total:     e.Interest + amount,
			ZeroRate:  v.lat.ZeroRate(t),
			Factor:    v.lat.Discount(t, oas),
			Call:      e.Call,
			Put:       e.Put,
		}
		fl.PV = fl.Total * fl.Factor
		rep.Flows = append(rep.Flows, fl)
		interest = append(interest, fl.Interest)
		principal = append(principal, fl.Principal)
		pvs = append(pvs, fl.PV)
	}
	rep.TotalInterest = floats.Sum(interest)
	rep.TotalPrincipal = floats.Sum(principal)
	rep.TotalPV = floats.Sum(pvs)
	return rep, nil
}

// Report fills the lattice-derived fields of a bond report at oasBP
func (v *Value) Report(oasBP float64) (*models.BondReport, error) {
	price, err := v.Price(oasBP)
	if err != nil {
		return nil, err
	}
	ov, err := v.OptionValue(oasBP)
	if err != nil {
		return nil, err
	}
	return &models.BondReport{
		PVDate:      v.pvdate.Int(),
		OAS:         oasBP,
		Price:       price,
		DirtyPrice:  price + v.cf.Accrued,
		Accrued:     v.cf.Accrued,
		AccruedDays: v.cf.AccruedDays,
		OptionValue: ov,
		Warnings:    v.Warnings(),
	}, nil
}
