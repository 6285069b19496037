package valuation

import (
	"math"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/solver"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

const (
	minYield        = -50.0
	maxYield        = 1000.0
	yieldGuess      = 5.0
	yieldStep       = 1.0
	yieldMaxExpand  = 40
	yieldTolerance  = 1e-10
	yieldBump       = 0.01 // percent
	worstTieEpsilon = 1e-8
)

// stream is a set of dated amounts placed on the coupon-period grid
type stream struct {
	periods []float64
	amounts []float64
}

// method resolves the bond's yield method against the configured default
func (v *Value) method() bond.YieldMethod {
	if m := v.cf.Schedule.YieldMethod; m != bond.YieldDefault {
		return m
	}
	return v.cfg.YieldMethod
}

// streamOf places events on the coupon grid. Amounts on a date that pays no
// coupon carry the interest accrued to it.
func (v *Value) streamOf(events []bond.Event) stream {
	s := v.cf.Schedule
	var out stream
	for _, e := range events {
		amt := e.Interest + e.Principal*e.Price/100
		if !e.Flags.Has(bond.FlagInterest) && e.Principal > 0 {
			amt += v.priced.accruedAt(years(v.pvdate, e.Date)) * e.Principal / math.Max(e.Balance, 1e-12)
		}
		if amt == 0 {
			continue
		}
		out.periods = append(out.periods, s.Periods(v.pvdate, e.Date))
		out.amounts = append(out.amounts, amt)
	}
	return out
}

// pv discounts the stream at a yield in percent
func (v *Value) pv(st stream, y float64) float64 {
	f := float64(v.cf.Schedule.YieldFrequency())
	r := y / 100 / f
	if len(st.periods) == 0 {
		return 0
	}
	last := st.periods[len(st.periods)-1]

	simple := false
	switch v.method() {
	case bond.YieldSimpleLastPeriod:
		simple = last <= 1
	case bond.YieldSimpleLastYear:
		simple = last <= f
	case bond.YieldMuni:
		simple = last <= 1
	}

	total := 0.0
	for i, n := range st.periods {
		var df float64
		switch {
		case simple:
			df = 1 / (1 + r*n)
		case v.method() == bond.YieldMuni:
			// the stub to the next coupon is simple, whole periods compound
			stub := st.periods[0] - math.Floor(st.periods[0])
			if stub == 0 {
				stub = math.Min(st.periods[0], 1)
			}
			df = 1 / ((1 + r*stub) * math.Pow(1+r, n-stub))
		default:
			df = math.Pow(1+r, -n)
		}
		total += st.amounts[i] * df
	}
	return total
}

// solveYield finds the yield at which the stream is worth dirty
func (v *Value) solveYield(st stream, dirty float64) (float64, error) {
	if len(st.amounts) == 0 {
		return models.BadValue, errors.Computation(errors.CodeComputeYield, "no cashflows to yield")
	}
	f := func(y float64) float64 { return v.pv(st, y) - dirty }
	lo, hi, err := solver.Bracket(f, yieldGuess, yieldStep, minYield, maxYield, yieldMaxExpand)
	if err != nil {
		return models.BadValue, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeYield, "yield not bracketed")
	}
	if lo == hi {
		return lo, nil
	}
	res, err := solver.Brent(f, lo, hi, yieldTolerance, v.cfg.MaxIter)
	if err != nil {
		return models.BadValue, errors.WithCode(err, errors.ClassComputation, errors.CodeComputeYield, "yield search failed")
	}
	return res.X, nil
}

func checkYield(y float64) error {
	if math.IsNaN(y) || y <= minYield || y >= maxYield {
		return errors.InvalidInputf(errors.CodeInvalidYield, "yield %.4f out of range", y)
	}
	return nil
}

// bullet returns the events to maturity with sinks folded into redemption
func (v *Value) bullet() []bond.Event {
	return v.cf.WithoutAmortization().Events
}

// firstExercise returns the events redeemed at the first call (or put) and its date
func (v *Value) firstExercise(call bool) ([]bond.Event, calendar.Date, bool) {
	for _, e := range v.cf.Events {
		if call && e.Flags.Has(bond.FlagCall) {
			return v.cf.Truncate(e.Date, e.Call).Events, e.Date, true
		}
		if !call && e.Flags.Has(bond.FlagPut) {
			return v.cf.Truncate(e.Date, e.Put).Events, e.Date, true
		}
	}
	return nil, 0, false
}

// YTM returns the yield to maturity at a clean price
func (v *Value) YTM(price float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, err
	}
	return v.solveYield(v.streamOf(v.bullet()), price+v.cf.Accrued)
}

// CFY returns the cashflow yield including scheduled amortization
func (v *Value) CFY(price float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, err
	}
	return v.solveYield(v.streamOf(v.cf.Events), price+v.cf.Accrued)
}

// YTC returns the yield to the first call and its date
func (v *Value) YTC(price float64) (float64, calendar.Date, error) {
	return v.yieldToExercise(price, true)
}

// YTP returns the yield to the first put and its date
func (v *Value) YTP(price float64) (float64, calendar.Date, error) {
	return v.yieldToExercise(price, false)
}

func (v *Value) yieldToExercise(price float64, call bool) (float64, calendar.Date, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, 0, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, 0, err
	}
	events, d, ok := v.firstExercise(call)
	if !ok {
		kind := "put"
		if call {
			kind = "call"
		}
		return models.BadValue, 0, errors.InvalidInputf(errors.CodeInvalidYield, "no %s after %s", kind, v.pvdate)
	}
	y, err := v.solveYield(v.streamOf(events), price+v.cf.Accrued)
	return y, d, err
}

// YieldTo returns the yield if the bond is redeemed in full at redemption on d
func (v *Value) YieldTo(price float64, d calendar.Date, redemption float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, err
	}
	if !d.After(v.pvdate) || d.After(v.cf.Last()) {
		return models.BadValue, errors.InvalidInputf(errors.CodeInvalidDate, "redemption date %s outside remaining life", d)
	}
	events := v.cf.Truncate(d, redemption).Events
	if n := len(events); n == 0 || events[n-1].Date != d {
		// the date carries no event; redeem on it with accrued
		events = append(events, bond.Event{Date: d, Flags: bond.FlagPrincipal, Principal: v.balanceOn(d), Price: redemption, Balance: v.balanceOn(d)})
	}
	return v.solveYield(v.streamOf(events), price+v.cf.Accrued)
}

func (v *Value) balanceOn(d calendar.Date) float64 {
	for _, e := range v.cf.Events {
		if e.Date.After(d) {
			return e.Balance
		}
	}
	return 0
}

// candidate is one way the bond may be redeemed
type candidate struct {
	kind   models.RedemptionType
	date   calendar.Date
	events []bond.Event
}

// candidates lists every call and put date, then maturity. Sink dates are
// included only when toSink is set.
func (v *Value) candidates(toSink bool) []candidate {
	var out []candidate
	for _, e := range v.cf.Events {
		if e.Flags.Has(bond.FlagCall) {
			out = append(out, candidate{models.RedemptionCall, e.Date, v.cf.Truncate(e.Date, e.Call).Events})
		}
		if e.Flags.Has(bond.FlagPut) {
			out = append(out, candidate{models.RedemptionPut, e.Date, v.cf.Truncate(e.Date, e.Put).Events})
		}
		if toSink && e.Flags.Has(bond.FlagSink) && e.Date != v.cf.Last() {
			out = append(out, candidate{models.RedemptionSink, e.Date, v.cf.Truncate(e.Date, e.Price).Events})
		}
	}
	return append(out, candidate{models.RedemptionMaturity, v.cf.Last(), v.cf.Events})
}

func newWorstReport(cs []candidate) *models.WorstReport {
	rep := &models.WorstReport{
		Yield: models.BadValue,
		Price: models.BadValue,
		Worst: -1,
		Dates: make([]int, len(cs)),
		Types: make([]models.RedemptionType, len(cs)),
	}
	for i, c := range cs {
		rep.Dates[i], rep.Types[i] = c.date.Int(), c.kind
	}
	return rep
}

// pick records candidate i as the worst
func pick(rep *models.WorstReport, i int, yield, price float64) {
	rep.Worst, rep.Yield, rep.Price = i, yield, price
	rep.Date, rep.Type = rep.Dates[i], rep.Types[i]
}

// YieldToWorst returns the yield to every redemption candidate and the
// lowest of them. A candidate whose yield cannot be solved is reported as
// BadValue and skipped. Ties go to the earliest date.
func (v *Value) YieldToWorst(price float64, toSink bool) (*models.WorstReport, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	dirty := price + v.cf.Accrued
	cs := v.candidates(toSink)
	rep := newWorstReport(cs)
	rep.Yields = make([]float64, len(cs))
	var last error
	for i, c := range cs {
		y, err := v.solveYield(v.streamOf(c.events), dirty)
		if err != nil {
			v.log.Debugw("Redemption yield not solved", "date", c.date.Int(), "type", c.kind.String(), "error", err)
			rep.Yields[i], last = models.BadValue, err
			continue
		}
		rep.Yields[i] = y
		if rep.Worst < 0 || y < rep.Yield-worstTieEpsilon {
			pick(rep, i, y, price)
		}
	}
	if rep.Worst < 0 {
		return nil, errors.WithCode(last, errors.ClassComputation, errors.CodeComputeYield, "no redemption yield could be solved")
	}
	rep.Warnings = v.Warnings()
	return rep, nil
}

// PriceToWorst returns the clean price at yield for every redemption
// candidate and the lowest of them. Ties go to the earliest date.
func (v *Value) PriceToWorst(yield float64, toSink bool) (*models.WorstReport, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	if err := checkYield(yield); err != nil {
		return nil, err
	}
	cs := v.candidates(toSink)
	rep := newWorstReport(cs)
	rep.Prices = make([]float64, len(cs))
	for i, c := range cs {
		p := v.pv(v.streamOf(c.events), yield) - v.cf.Accrued
		rep.Prices[i] = p
		if rep.Worst < 0 || p < rep.Price-worstTieEpsilon {
			pick(rep, i, yield, p)
		}
	}
	rep.Warnings = v.Warnings()
	return rep, nil
}

// PriceFromYield returns the clean price at a yield to maturity
func (v *Value) PriceFromYield(yield float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkYield(yield); err != nil {
		return models.BadValue, err
	}
	return v.pv(v.streamOf(v.bullet()), yield) - v.cf.Accrued, nil
}

// PriceFromQuote turns a quote of any type into a clean price
func (v *Value) PriceFromQuote(q models.Quote) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	switch q.Type {
	case models.QuoteOAS:
		return v.Price(q.Value)
	case models.QuotePrice:
		if err := checkPrice(q.Value); err != nil {
			return models.BadValue, err
		}
		return q.Value, nil
	case models.QuoteYTM:
		return v.PriceFromYield(q.Value)
	case models.QuoteYTC, models.QuoteYTP:
		if err := checkYield(q.Value); err != nil {
			return models.BadValue, err
		}
		events, _, ok := v.firstExercise(q.Type == models.QuoteYTC)
		if !ok {
			return models.BadValue, errors.InvalidInputf(errors.CodeInvalidQuoteType, "bond has no %s", q.Type)
		}
		return v.pv(v.streamOf(events), q.Value) - v.cf.Accrued, nil
	}
	return models.BadValue, errors.InvalidInputf(errors.CodeInvalidQuoteType, "unknown quote type %d", int(q.Type))
}

// Convert re-expresses a quote as another quote type
func (v *Value) Convert(q models.Quote, to models.QuoteType) (float64, error) {
	price, err := v.PriceFromQuote(q)
	if err != nil {
		return models.BadValue, err
	}
	switch to {
	case models.QuotePrice:
		return price, nil
	case models.QuoteOAS:
		return v.OAS(price)
	case models.QuoteYTM:
		return v.YTM(price)
	case models.QuoteYTC:
		y, _, err := v.YTC(price)
		return y, err
	case models.QuoteYTP:
		y, _, err := v.YTP(price)
		return y, err
	}
	return models.BadValue, errors.InvalidInputf(errors.CodeInvalidQuoteType, "unknown quote type %d", int(to))
}

// YieldRisk is the modified duration, convexity and DV01 of a stream at a yield
type YieldRisk struct {
	Duration  float64
	Convexity float64
	DV01      float64
}

func (v *Value) yieldRisk(st stream, y float64) YieldRisk {
	p := v.pv(st, y)
	up := v.pv(st, y+yieldBump)
	down := v.pv(st, y-yieldBump)
	h := yieldBump / 100
	return YieldRisk{
		Duration:  (down - up) / (2 * p * h),
		Convexity: (up + down - 2*p) / (p * h * h),
		DV01:      (down - up) / 2,
	}
}

// ModifiedDuration returns the yield sensitivities to maturity at a clean price
func (v *Value) ModifiedDuration(price float64) (YieldRisk, error) {
	y, err := v.YTM(price)
	if err != nil {
		return YieldRisk{}, err
	}
	return v.yieldRisk(v.streamOf(v.bullet()), y), nil
}

// WAM returns the principal-weighted average life in years
func (v *Value) WAM() (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	num, den := 0.0, 0.0
	for _, e := range v.cf.Events {
		if e.Principal > 0 {
			num += e.Principal * years(v.pvdate, e.Date)
			den += e.Principal
		}
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// Yields fills a yield report at a clean price. Yields that do not apply to
// the bond, or that cannot be solved at price, are reported as BadValue; the
// latter also add a YIELD_UNAVAILABLE warning.
func (v *Value) Yields(price float64) (*models.YieldReport, error) {
	if err := v.ensure(); err != nil {
		return nil, err
	}
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	rep := &models.YieldReport{
		Price:             price,
		YTM:               models.BadValue,
		YTC:               models.BadValue,
		YTP:               models.BadValue,
		CFY:               models.BadValue,
		YTW:               models.BadValue,
		ModifiedDuration:  models.BadValue,
		ModifiedConvexity: models.BadValue,
		DV01:              models.BadValue,
	}
	var warns errors.Warnings
	warns.Merge(v.Warnings())
	unsolved := func(name string, err error) error {
		if !errors.HasClass(err, errors.ClassComputation) {
			return err
		}
		warns.Addf(errors.WarnYieldUnavailable, "%s: %v", name, err)
		return nil
	}

	if ytm, err := v.YTM(price); err == nil {
		rep.YTM = ytm
		risk := v.yieldRisk(v.streamOf(v.bullet()), ytm)
		rep.ModifiedDuration, rep.ModifiedConvexity, rep.DV01 = risk.Duration, risk.Convexity, risk.DV01
	} else if err = unsolved("ytm", err); err != nil {
		return nil, err
	}
	if y, d, err := v.YTC(price); err == nil {
		rep.YTC, rep.YTCDate = y, d.Int()
	} else if !errors.HasCode(err, errors.CodeInvalidYield) {
		if err = unsolved("ytc", err); err != nil {
			return nil, err
		}
	}
	if y, d, err := v.YTP(price); err == nil {
		rep.YTP, rep.YTPDate = y, d.Int()
	} else if !errors.HasCode(err, errors.CodeInvalidYield) {
		if err = unsolved("ytp", err); err != nil {
			return nil, err
		}
	}
	if cfy, err := v.CFY(price); err == nil {
		rep.CFY = cfy
	} else if err = unsolved("cfy", err); err != nil {
		return nil, err
	}
	if worst, err := v.YieldToWorst(price, false); err == nil {
		rep.YTW, rep.YTWDate, rep.YTWType = worst.Yield, worst.Date, worst.Type.String()
	} else if err = unsolved("ytw", err); err != nil {
		return nil, err
	}

	wam, err := v.WAM()
	if err != nil {
		return nil, err
	}
	rep.WAM = wam
	rep.Warnings = warns.List()
	return rep, nil
}

// AssetSwapSpread returns the par asset swap spread in basis points: the
// annual running spread over the lattice's discount curve that recovers the
// gap between the bond's curve value and its dirty price
func (v *Value) AssetSwapSpread(price float64) (float64, error) {
	if err := v.ensure(); err != nil {
		return models.BadValue, err
	}
	if err := checkPrice(price); err != nil {
		return models.BadValue, err
	}
	curvePV := 0.0
	for _, e := range v.bullet() {
		t := years(v.pvdate, e.Date)
		curvePV += (e.Interest + e.Principal*e.Price/100) * v.lat.Factor(t)
	}
	annuity := 0.0
	for _, w := range v.priced.windows {
		accrual := w.end - math.Max(w.start, 0)
		annuity += accrual * v.lat.Factor(w.end)
	}
	if annuity <= 0 {
		return models.BadValue, errors.Computation(errors.CodeComputeYield, "no coupon periods remain")
	}
	return (curvePV - price - v.cf.Accrued) / (100 * annuity) * 1e4, nil
}

// ISpread returns the yield to maturity over the lattice par rate at the
// bond's maturity, in basis points
func (v *Value) ISpread(price float64) (float64, error) {
	ytm, err := v.YTM(price)
	if err != nil {
		return models.BadValue, err
	}
	t := years(v.pvdate, v.cf.Last())
	return (ytm - v.lat.ParRate(t)) * 100, nil
}
