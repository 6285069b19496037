package risk

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/valuation"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

const (
	knotEps              = 1e-9
	defaultHorizonShift  = 10.0
	defaultEfficiencyPct = 100.0
)

// TransitionMode sets when a scenario lattice takes over from the one before it
type TransitionMode int

const (
	// TransitionNow moves to each lattice as soon as the previous knot passes
	TransitionNow TransitionMode = iota
	// TransitionGradual blends linearly between knots
	TransitionGradual
	// TransitionThen moves to each lattice at its knot
	TransitionThen
)

// String returns the mode name
func (m TransitionMode) String() string {
	switch m {
	case TransitionGradual:
		return "gradual"
	case TransitionThen:
		return "then"
	default:
		return "now"
	}
}

// ParseTransitionMode accepts now, gradual and then
func ParseTransitionMode(s string) (TransitionMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "now", "":
		return TransitionNow, true
	case "gradual":
		return TransitionGradual, true
	case "then":
		return TransitionThen, true
	}
	return TransitionNow, false
}

// ReinvestPolicy sets the rate at which cash received before the horizon grows
type ReinvestPolicy int

const (
	// ReinvestStandard grows cash on the then-current lattice at the bond's OAS
	ReinvestStandard ReinvestPolicy = iota
	// ReinvestZeroOAS grows cash on the then-current lattice with no spread
	ReinvestZeroOAS
	// ReinvestFixed grows cash at a fixed semi-annual rate
	ReinvestFixed
)

// String returns the policy name
func (p ReinvestPolicy) String() string {
	switch p {
	case ReinvestZeroOAS:
		return "zero_oas"
	case ReinvestFixed:
		return "fixed"
	default:
		return "standard"
	}
}

// ParseReinvestPolicy accepts standard, zero_oas and fixed
func ParseReinvestPolicy(s string) (ReinvestPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "":
		return ReinvestStandard, true
	case "zero_oas", "zero":
		return ReinvestZeroOAS, true
	case "fixed":
		return ReinvestFixed, true
	}
	return ReinvestStandard, false
}

// Transition is a lattice describing the curve as seen Years after the
// valuation date
type Transition struct {
	Years   float64
	Lattice *lattice.Lattice
}

// Scenario walks a bond to Horizon through a sequence of future lattices
type Scenario struct {
	Horizon     calendar.Date
	Transitions []Transition
	Mode        TransitionMode
	Reinvest    ReinvestPolicy
	// ReinvestRate is the fixed reinvestment rate in percent
	ReinvestRate float64
	// Efficiency in percent: 100 exercises whenever it pays, lower values
	// need the option to be further in the money
	Efficiency float64
	// ShiftBP is the spot shift for the horizon duration
	ShiftBP float64
}

func (s Scenario) validate(pvdate calendar.Date) error {
	if !s.Horizon.After(pvdate) {
		return errors.InvalidInputf(errors.CodeInvalidScenario, "horizon %s is not after %s", s.Horizon, pvdate)
	}
	if len(s.Transitions) == 0 {
		return errors.InvalidInput(errors.CodeInvalidScenario, "scenario has no lattices")
	}
	for i, tr := range s.Transitions {
		if tr.Lattice == nil {
			return errors.InvalidInputf(errors.CodeInvalidScenario, "transition %d has no lattice", i)
		}
		if tr.Years <= 0 || (i > 0 && tr.Years <= s.Transitions[i-1].Years) {
			return errors.InvalidInput(errors.CodeInvalidScenario, "transition times must be positive and increasing")
		}
	}
	if s.Efficiency < 0 || s.Efficiency > 100 {
		return errors.InvalidInputf(errors.CodeInvalidScenario, "efficiency %.2f outside [0, 100]", s.Efficiency)
	}
	if s.Reinvest == ReinvestFixed && s.ReinvestRate <= -200 {
		return errors.InvalidInputf(errors.CodeInvalidScenario, "reinvestment rate %.2f too low", s.ReinvestRate)
	}
	return nil
}

func (s Scenario) efficiency() float64 {
	if s.Efficiency == 0 {
		return defaultEfficiencyPct
	}
	return s.Efficiency
}

func (s Scenario) shift() float64 {
	if s.ShiftBP == 0 {
		return defaultHorizonShift
	}
	return s.ShiftBP
}

func years(pvdate, d calendar.Date) float64 {
	return calendar.YearFraction(pvdate, d, calendar.Thirty360)
}

// path resolves the lattice in force at each walk time
type path struct {
	knots []Transition
	mode  TransitionMode
	at    map[float64]*lattice.Lattice
}

// segment returns the index of the first knot at or after t, or len(knots)
func (p *path) segment(t float64) int {
	return sort.Search(len(p.knots), func(i int) bool { return p.knots[i].Years >= t-knotEps })
}

// pick returns the knots around t and the blend weight of the later one
func (p *path) pick(t float64) (lo, hi int, w float64) {
	last := len(p.knots) - 1
	if t <= knotEps {
		return 0, 0, 0
	}
	k := p.segment(t)
	if k > last {
		return last, last, 0
	}
	if math.Abs(p.knots[k].Years-t) < knotEps {
		return k, k, 0
	}
	switch p.mode {
	case TransitionThen:
		return k - 1, k - 1, 0
	case TransitionGradual:
		span := p.knots[k].Years - p.knots[k-1].Years
		return k - 1, k, (t - p.knots[k-1].Years) / span
	default:
		return k, k, 0
	}
}

// newPath builds the lattice for every time in times, fitting blends in parallel
func (c *Calculator) newPath(ctx context.Context, base *lattice.Lattice, sc Scenario, times []float64) (*path, error) {
	p := &path{
		knots: append([]Transition{{Years: 0, Lattice: base}}, sc.Transitions...),
		mode:  sc.Mode,
		at:    make(map[float64]*lattice.Lattice, len(times)),
	}
	type blend struct {
		t      float64
		lo, hi int
		w      float64
	}
	var blends []blend
	for _, t := range times {
		lo, hi, w := p.pick(t)
		if lo == hi || w == 0 {
			p.at[t] = p.knots[lo].Lattice
			continue
		}
		blends = append(blends, blend{t, lo, hi, w})
	}
	if len(blends) == 0 {
		return p, nil
	}

	fitted := make([]*lattice.Lattice, len(blends))
	g, gctx := errgroup.WithContext(ctx)
	for i := range blends {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := blends[i]
			l, err := c.builder.FitBlend(p.knots[b.lo].Lattice, p.knots[b.hi].Lattice, b.w)
			if err != nil {
				return errors.Wrapf(err, "blend at %.2fy", b.t)
			}
			fitted[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, b := range blends {
		p.at[b.t] = fitted[i]
	}
	return p, nil
}

// growth is the factor by which one unit received at t grows to the horizon h
func growth(sc Scenario, l *lattice.Lattice, t, h, oasBP float64) float64 {
	tau := h - t
	if tau <= 0 {
		return 1
	}
	switch sc.Reinvest {
	case ReinvestFixed:
		return math.Pow(1+sc.ReinvestRate/200, 2*tau)
	case ReinvestZeroOAS:
		return 1 / l.Discount(tau, 0)
	default:
		return 1 / l.Discount(tau, oasBP)
	}
}

// remaining values the bond from d on l, returning the dirty price and the
// accrued per 100 of the balance outstanding after d
func remaining(v *valuation.Value, l *lattice.Lattice, d calendar.Date, oasBP float64) (*valuation.Value, float64, float64, error) {
	rv := valuation.New(v.Config())
	if err := rv.Reset(v.Bond(), l, d, v.Options()); err != nil {
		return nil, 0, 0, err
	}
	dirty, err := rv.DirtyPrice(oasBP)
	if err != nil {
		return nil, 0, 0, err
	}
	ai, err := rv.Accrued()
	if err != nil {
		return nil, 0, 0, err
	}
	return rv, dirty, ai, nil
}

// Scenario walks v's remaining flows to the horizon. At every call or put
// date the remaining bond is valued on the lattice then in force and the
// option is exercised when it clears the efficiency threshold. Cash received
// is reinvested to the horizon; a bond still outstanding there is valued on
// the horizon lattice.
func (c *Calculator) Scenario(ctx context.Context, v *valuation.Value, oasBP float64, sc Scenario) (*models.ScenarioReport, error) {
	price, err := v.Price(oasBP)
	if err != nil {
		return nil, err
	}
	cf, err := v.Cashflows()
	if err != nil {
		return nil, err
	}
	pv := v.PVDate()
	if err := sc.validate(pv); err != nil {
		return nil, err
	}
	h := years(pv, sc.Horizon)

	var times []float64
	for _, e := range cf.Events {
		if e.Date.After(sc.Horizon) {
			break
		}
		times = append(times, years(pv, e.Date))
	}
	times = append(times, h)
	lats, err := c.newPath(ctx, v.Lattice(), sc, times)
	if err != nil {
		return nil, err
	}

	taxMult := 1.0
	if v.Options().AfterTax {
		taxMult = 1 - v.TaxRates().Income/100
	}
	threshold := 1 - sc.efficiency()/100

	var w errors.Warnings
	w.Merge(v.Warnings())
	rep := &models.ScenarioReport{
		HorizonDate:    sc.Horizon.Int(),
		Value0:         price,
		Accrued0:       cf.Accrued,
		Cap0:           price + cf.Accrued,
		RedemptionType: models.RedemptionNone,
	}
	reinvested := 0.0
	balance := 100.0
	if len(cf.Events) > 0 {
		balance = cf.Events[0].Balance
	}

	for _, e := range cf.Events {
		if e.Date.After(sc.Horizon) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := years(pv, e.Date)
		l := lats.at[t]
		after := e.Balance - e.Principal
		interest := e.Interest * taxMult
		principal := e.Principal * e.Price / 100

		redeemed := models.RedemptionNone
		if e.Flags&(bond.FlagCall|bond.FlagPut) != 0 && after > 1e-12 {
			_, dirty, ai, err := remaining(v, l, e.Date, oasBP)
			if err != nil {
				return nil, err
			}
			cont := dirty * after / 100
			ai *= after / 100
			if e.Flags.Has(bond.FlagCall) {
				if k := e.Call * after / 100; cont-(k+ai) >= threshold*(k+ai) {
					redeemed, principal, interest = models.RedemptionCall, principal+k, interest+ai
				}
			}
			if redeemed == models.RedemptionNone && e.Flags.Has(bond.FlagPut) {
				if k := e.Put * after / 100; (k+ai)-cont >= threshold*(k+ai) {
					redeemed, principal, interest = models.RedemptionPut, principal+k, interest+ai
				}
			}
		}

		rep.Interest += interest
		rep.Principal += principal
		reinvested += (interest + principal) * growth(sc, l, t, h, oasBP)
		balance = after

		if redeemed == models.RedemptionNone && after <= 1e-12 {
			redeemed = models.RedemptionMaturity
			if e.Flags.Has(bond.FlagSink) && e.Date != cf.Last() {
				redeemed = models.RedemptionSink
			}
		}
		if redeemed != models.RedemptionNone {
			rep.RedemptionType = redeemed
			rep.RedemptionDate = e.Date.Int()
			c.log.Debugw("Scenario redemption", "bond", v.Bond().Name, "type", redeemed.String(), "date", e.Date.Int())
			break
		}
	}

	if rep.RedemptionType == models.RedemptionNone {
		rv, _, ai, err := remaining(v, lats.at[h], sc.Horizon, oasBP)
		if err != nil {
			return nil, err
		}
		clean := rv.LastPrice()
		rep.Value1 = clean * balance / 100
		rep.Accrued1 = ai * balance / 100

		dur, err := c.EffectiveDuration(ctx, rv, oasBP, sc.shift(), DurationSpot)
		if err != nil {
			return nil, err
		}
		rep.Duration, rep.Convexity = dur.Duration, dur.Convexity
		w.Merge(rv.Warnings())
	}

	rep.IntOnInt = reinvested - rep.Interest - rep.Principal
	rep.Cap1 = rep.Value1 + rep.Accrued1 + reinvested
	if rep.Cap0 > 0 {
		ratio := rep.Cap1 / rep.Cap0
		rep.TotalReturn = 100 * (ratio - 1)
		if ratio > 0 {
			rep.AnnualReturn = 200 * (math.Pow(ratio, 1/(2*h)) - 1)
		}
	}
	rep.Warnings = w.List()
	return rep, nil
}
