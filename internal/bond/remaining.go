package bond

import (
	"github.com/shopspring/decimal"

	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// DefaultNoticeDays is the option notice period used when a bond sets none
const DefaultNoticeDays = 30

// outstandingFloor is the fraction of face below which a reported outstanding
// amount is treated as a data error
const outstandingFloor = 0.001

// SinkStatus is the current state of a sinking fund in dollars. Zero values
// mean "follow the schedule".
type SinkStatus struct {
	Outstanding  float64
	Accumulation float64
}

// RemainingOptions controls how the schedule is cut at a valuation date
type RemainingOptions struct {
	TradeDate     calendar.Date
	Status        SinkStatus
	Calendar      *calendar.Calendar
	DefaultNotice int
	NoOptions     bool
}

// Event is a future schedule record normalized per 100 of the holder's
// balance on the valuation date
type Event struct {
	Date      calendar.Date
	Flags     Flag
	Interest  float64
	Principal float64
	Price     float64
	Balance   float64
	Call      float64
	Put       float64
}

// Cashflows are the events remaining after a valuation date
type Cashflows struct {
	PVDate      calendar.Date
	Events      []Event
	Accrued     float64
	AccruedDays int
	ExCoupon    bool
	CallFrom    calendar.Date
	PutFrom     calendar.Date
	Call        Exercise
	Put         Exercise
	Schedule    *Schedule
	Warnings    []errors.Warning
}

// CallStrikeAt returns the call strike on d, honouring the notice cutoff
func (c *Cashflows) CallStrikeAt(d calendar.Date) (float64, bool) {
	if !c.Call.Active() || d.Before(c.CallFrom) {
		return 0, false
	}
	return c.Call.StrikeAt(d)
}

// PutStrikeAt returns the put strike on d, honouring the notice cutoff
func (c *Cashflows) PutStrikeAt(d calendar.Date) (float64, bool) {
	if !c.Put.Active() || d.Before(c.PutFrom) {
		return 0, false
	}
	return c.Put.StrikeAt(d)
}

// Last returns the date of the final event
func (c *Cashflows) Last() calendar.Date {
	if len(c.Events) == 0 {
		return c.PVDate
	}
	return c.Events[len(c.Events)-1].Date
}

// Truncate returns a copy whose flows stop at d, where the remaining
// balance is redeemed at price
func (c *Cashflows) Truncate(d calendar.Date, price float64) *Cashflows {
	out := *c
	out.Events = nil
	for _, e := range c.Events {
		if e.Date.After(d) {
			break
		}
		if e.Date == d {
			e.Flags |= FlagPrincipal
			e.Principal = e.Balance
			e.Price = price
			out.Events = append(out.Events, e)
			break
		}
		out.Events = append(out.Events, e)
	}
	return &out
}

// WithoutAmortization returns a copy with every sink folded into the final
// redemption
func (c *Cashflows) WithoutAmortization() *Cashflows {
	out := *c
	out.Events = make([]Event, 0, len(c.Events))
	for i, e := range c.Events {
		e.Balance = 100
		if i < len(c.Events)-1 {
			if e.Principal > 0 {
				e.Principal = 0
				e.Flags &^= FlagPrincipal | FlagSink
			}
		} else {
			e.Principal = 100
		}
		out.Events = append(out.Events, e)
	}
	// coupons scale back up to the full balance
	for i := range out.Events {
		if b := c.Events[i].Balance; b > 0 {
			out.Events[i].Interest = c.Events[i].Interest * 100 / b
		}
	}
	return &out
}

// NoticeCutoff returns the first dates on which a call and a put may be
// exercised when notice is given on tradeDate (or pvdate when zero)
func (s *Schedule) NoticeCutoff(pvdate, tradeDate calendar.Date, cal *calendar.Calendar, defaultNotice int, w *errors.Warnings) (calendar.Date, calendar.Date) {
	base := pvdate
	if !tradeDate.IsZero() {
		base = tradeDate
	}
	return s.cutoff(base, s.Call, cal, defaultNotice, w), s.cutoff(base, s.Put, cal, defaultNotice, w)
}

func (s *Schedule) cutoff(base calendar.Date, e Exercise, cal *calendar.Calendar, defaultNotice int, w *errors.Warnings) calendar.Date {
	if !e.Active() {
		return base
	}
	notice := e.Notice
	if notice < 0 {
		notice = defaultNotice
	}
	maxDays := 30 * s.months
	switch {
	case notice < 0:
		w.Addf(errors.WarnOptionDelay, "notice of %d days raised to 0", notice)
		notice = 0
	case notice > maxDays:
		w.Addf(errors.WarnOptionDelay, "notice of %d days cut to one period (%d days)", notice, maxDays)
		notice = maxDays
	}
	return cal.AddNotice(base, notice, e.NoticeMode)
}

// Accrued returns the accrued interest per 100 of balance at pvdate, the
// accrued days, and whether the bond trades ex-coupon
func (s *Schedule) Accrued(pvdate calendar.Date) (float64, int, bool) {
	next := -1
	for i, f := range s.Flows {
		if f.Date.After(pvdate) && f.Flags.Has(FlagInterest) {
			next = i
			break
		}
	}
	if next < 0 {
		return 0, 0, false
	}
	f := s.Flows[next]
	start := f.Pieces[0].Start

	if s.ExCoupon > 0 && !pvdate.Before(f.Date.AddDays(-s.ExCoupon)) {
		ai := 0.0
		for _, p := range f.Pieces {
			if p.End.After(pvdate) {
				from := calendar.Max(p.Start, pvdate)
				ai -= p.Rate * s.fraction(from, p.End, p.Q0, p.Q1)
			}
		}
		return ai, -calendar.Days(pvdate, f.Date, s.DayCount), true
	}

	ai := 0.0
	for _, p := range f.Pieces {
		if !p.Start.Before(pvdate) {
			break
		}
		to := calendar.Min(p.End, pvdate)
		ai += p.Rate * s.fraction(p.Start, to, p.Q0, p.Q1)
	}
	return ai, calendar.Days(start, pvdate, s.DayCount), false
}

// Remaining cuts the schedule at pvdate and normalizes the future events per
// 100 of the holder's balance, applying the sinking fund status
func (s *Schedule) Remaining(pvdate calendar.Date, opts RemainingOptions) (*Cashflows, error) {
	if pvdate.Before(s.Dated) {
		return nil, errors.InvalidInputf(errors.CodeInvalidPVDate, "pvdate %s precedes dated date %s", pvdate, s.Dated)
	}
	if !pvdate.Before(s.End) {
		return nil, errors.InvalidInputf(errors.CodeMatured, "bond redeemed on %s, pvdate %s", s.End, pvdate)
	}

	var w errors.Warnings
	w.Merge(s.warnings)

	first := 0
	for first < len(s.Flows) && !s.Flows[first].Date.After(pvdate) {
		first++
	}
	future := s.Flows[first:]
	schedBal := future[0].Balance

	principal := make([]decimal.Decimal, len(future))
	for i, f := range future {
		principal[i] = decimal.NewFromFloat(f.Principal)
	}
	holder := s.applyStatus(decimal.NewFromFloat(schedBal), principal, opts.Status, &w)
	holderF, _ := holder.Float64()
	if holderF <= 0 {
		return nil, errors.InvalidInputf(errors.CodeInvalidFaceAmount, "nothing outstanding on %s", pvdate)
	}

	cf := &Cashflows{PVDate: pvdate, Schedule: s}
	if !opts.NoOptions {
		cf.Call, cf.Put = s.Call, s.Put
		cf.CallFrom, cf.PutFrom = s.NoticeCutoff(pvdate, opts.TradeDate, opts.Calendar, opts.DefaultNotice, &w)
	}
	cf.Accrued, cf.AccruedDays, cf.ExCoupon = s.Accrued(pvdate)

	scale := 100 / holderF
	bal := holder
	var exSkipped bool
	for i, f := range future {
		e := Event{
			Date:  f.Date,
			Flags: f.Flags &^ (FlagCall | FlagPut),
			Price: f.Price,
		}
		e.Balance, _ = bal.Mul(decimal.NewFromFloat(scale)).Float64()
		e.Principal, _ = principal[i].Mul(decimal.NewFromFloat(scale)).Float64()
		if e.Principal == 0 {
			e.Flags &^= FlagPrincipal | FlagSink
		}
		if f.Flags.Has(FlagInterest) {
			if cf.ExCoupon && !exSkipped {
				exSkipped = true
			} else {
				e.Interest = s.eventInterest(f, pvdate, e.Balance)
			}
		}
		if px, ok := cf.CallStrikeAt(f.Date); ok {
			e.Flags |= FlagCall
			e.Call = px
		}
		if px, ok := cf.PutStrikeAt(f.Date); ok {
			e.Flags |= FlagPut
			e.Put = px
		}
		bal = bal.Sub(principal[i])
		if e.Flags&(FlagInterest|FlagPrincipal|FlagCall|FlagPut) == 0 {
			continue
		}
		cf.Events = append(cf.Events, e)
	}
	cf.Warnings = w.List()
	return cf, nil
}

// eventInterest pays each accrual piece on the balance outstanding at its
// start; pieces before pvdate accrue on the holder's full balance
func (s *Schedule) eventInterest(f Flow, pvdate calendar.Date, startBal float64) float64 {
	total := 0.0
	for _, p := range f.Pieces {
		bal := 100.0
		if p.Start.After(pvdate) && f.Balance > 0 {
			bal = startBal * s.balanceAt(p.Start) / f.Balance
			if bal > 100 {
				bal = 100
			}
		}
		total += p.Rate * s.fraction(p.Start, p.End, p.Q0, p.Q1) * bal / 100
	}
	return total
}

// applyStatus reconciles the reported outstanding and accumulation with the
// scheduled balance. principal is adjusted in place; the holder balance per
// 100 of original face is returned.
func (s *Schedule) applyStatus(sched decimal.Decimal, principal []decimal.Decimal, st SinkStatus, w *errors.Warnings) decimal.Decimal {
	if len(principal) == 0 {
		return sched
	}
	hundred := decimal.NewFromInt(100)
	face := decimal.NewFromFloat(s.Face)
	last := len(principal) - 1
	holder := sched

	if st.Outstanding > 0 {
		out := decimal.NewFromFloat(st.Outstanding).Div(face).Mul(hundred)
		floor := hundred.Mul(decimal.NewFromFloat(outstandingFloor))
		switch {
		case out.LessThan(floor):
			w.Addf(errors.WarnOutstandingLow, "outstanding %.2f is under %.1f%% of face, schedule trusted", st.Outstanding, 100*outstandingFloor)
		case out.GreaterThan(sched):
			w.Addf(errors.WarnOutstandingHigh, "outstanding %.2f exceeds the scheduled balance, excess paid at maturity", st.Outstanding)
			principal[last] = principal[last].Add(out.Sub(sched))
			holder = out
		case out.LessThan(sched):
			allocate(principal, sched.Sub(out), s.Sink.Allocation, sched)
			holder = out
		}
	}

	if st.Accumulation > 0 {
		acc := decimal.NewFromFloat(st.Accumulation).Div(face).Mul(hundred)
		left := acc
		for i := 0; i < last && left.IsPositive(); i++ {
			take := decimal.Min(left, principal[i])
			principal[i] = principal[i].Sub(take)
			left = left.Sub(take)
		}
		if left.IsPositive() {
			w.Addf(errors.WarnSinkUndesignated, "%.2f of accumulation exceeds the remaining sinks", st.Accumulation*left.Div(acc).InexactFloat64())
		}
		designated := acc.Sub(left)
		holder = holder.Sub(designated)
	}
	return holder
}

// allocate removes short from the principal schedule by policy
func allocate(principal []decimal.Decimal, short decimal.Decimal, policy Allocation, total decimal.Decimal) {
	switch policy {
	case Front:
		for i := 0; i < len(principal) && short.IsPositive(); i++ {
			take := decimal.Min(short, principal[i])
			principal[i] = principal[i].Sub(take)
			short = short.Sub(take)
		}
	case Back:
		for i := len(principal) - 1; i >= 0 && short.IsPositive(); i-- {
			take := decimal.Min(short, principal[i])
			principal[i] = principal[i].Sub(take)
			short = short.Sub(take)
		}
	default:
		keep := total.Sub(short).Div(total)
		for i := range principal {
			principal[i] = principal[i].Mul(keep)
		}
	}
}
