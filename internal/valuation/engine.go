package valuation

import (
	"math"
	"sort"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// timeEps separates an event sitting on a lattice step from one just after it
const timeEps = 1e-9

// timedEvent is a cashflow event placed on the lattice clock
type timedEvent struct {
	bond.Event
	t  float64
	ai float64 // accrued owed with a strike paid on this date
}

// couponWindow is the accrual period of one interest event
type couponWindow struct {
	start, end float64
	amount     float64
}

// americanLeg is a continuously exercisable call or put
type americanLeg struct {
	call   bool
	from   float64
	times  []float64
	prices []float64
}

// strikeAt returns the strike in force at t
func (a *americanLeg) strikeAt(t float64) (float64, bool) {
	if t < a.from-timeEps {
		return 0, false
	}
	i := sort.Search(len(a.times), func(i int) bool { return a.times[i] > t+timeEps })
	if i == 0 {
		return 0, false
	}
	return a.prices[i-1], true
}

// pricer values one set of remaining cashflows on one lattice. It holds no
// mutable state between calls and may be shared by concurrent readers.
type pricer struct {
	l       *lattice.Lattice
	sink    bond.Sink
	events  []timedEvent
	windows []couponWindow
	legs    []americanLeg
	taxMult float64

	// observe, when set, sees the node values of each step after exercise
	observe func(step int, t float64, values []float64)
}

// years is the lattice clock: 30/360 years from the valuation date
func years(pvdate, d calendar.Date) float64 {
	return calendar.YearFraction(pvdate, d, calendar.Thirty360)
}

func newPricer(l *lattice.Lattice, cf *bond.Cashflows, taxMult float64) (*pricer, error) {
	p := &pricer{l: l, sink: cf.Schedule.Sink, taxMult: taxMult}
	pv := cf.PVDate

	p.windows = couponWindows(cf)
	for _, e := range cf.Events {
		te := timedEvent{Event: e, t: years(pv, e.Date)}
		if !e.Flags.Has(bond.FlagInterest) {
			te.ai = p.accruedAt(te.t)
		}
		p.events = append(p.events, te)
	}
	if n := len(p.events); n > 0 && p.events[n-1].t > l.Horizon()+timeEps {
		return nil, errors.InvalidInputf(errors.CodeInvalidLattice,
			"lattice horizon %.2fy ends before the last flow at %.2fy", l.Horizon(), p.events[n-1].t)
	}

	for _, leg := range []struct {
		call bool
		e    bond.Exercise
		from calendar.Date
	}{{true, cf.Call, cf.CallFrom}, {false, cf.Put, cf.PutFrom}} {
		if !leg.e.Active() || leg.e.Style != bond.American {
			continue
		}
		a := americanLeg{call: leg.call, from: math.Max(years(pv, leg.from), years(pv, leg.e.First()))}
		for _, st := range leg.e.Strikes {
			a.times = append(a.times, years(pv, st.Date))
			a.prices = append(a.prices, st.Price)
		}
		p.legs = append(p.legs, a)
	}
	return p, nil
}

// couponWindows lays each interest event's accrual period on the lattice clock
func couponWindows(cf *bond.Cashflows) []couponWindow {
	s := cf.Schedule
	var out []couponWindow
	prev := s.Dated
	ei := 0
	for _, f := range s.Flows {
		if !f.Flags.Has(bond.FlagInterest) {
			continue
		}
		if f.Date.After(cf.PVDate) {
			for ei < len(cf.Events) && cf.Events[ei].Date.Before(f.Date) {
				ei++
			}
			amount := 0.0
			if ei < len(cf.Events) && cf.Events[ei].Date == f.Date {
				amount = cf.Events[ei].Interest
			}
			out = append(out, couponWindow{
				start:  years(cf.PVDate, prev),
				end:    years(cf.PVDate, f.Date),
				amount: amount,
			})
		}
		prev = f.Date
	}
	return out
}

// accruedAt is the interest accrued at t, linear across the coupon period
func (p *pricer) accruedAt(t float64) float64 {
	for _, w := range p.windows {
		if t >= w.start-timeEps && t < w.end-timeEps {
			if w.end <= w.start {
				return 0
			}
			return w.amount * (t - w.start) / (w.end - w.start)
		}
	}
	return 0
}

// balanceAt is the outstanding balance at t, before the next event
func (p *pricer) balanceAt(t float64) (float64, bool) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].t > t+timeEps })
	if i == len(p.events) {
		return 0, false
	}
	return p.events[i].Balance, true
}

// dirty runs one backward induction and returns the value at the root per
// 100 of the holder's balance
func (p *pricer) dirty(oasBP float64) float64 {
	if len(p.events) == 0 {
		return 0
	}
	l := p.l
	dt := l.Dt()
	s := oasBP / 1e4
	last := p.events[len(p.events)-1].t
	m := int(math.Ceil(last/dt-timeEps)) - 1
	if m < 0 {
		m = 0
	}
	if m > l.Steps()-1 {
		m = l.Steps() - 1
	}

	var (
		rates []float64
		next  []float64
		cur   []float64
	)
	k := len(p.events) - 1
	for i := m; i >= 0; i-- {
		t0 := float64(i) * dt
		t1 := float64(i+1) * dt
		rates = l.Rates(i, rates)
		for j := range rates {
			rates[j] = (rates[j] + s) * p.taxMult
		}
		if i == m {
			cur = cur[:0]
			for range rates {
				cur = append(cur, 0)
			}
		} else {
			cur = l.Expect(i, next, cur)
		}

		tau := t1
		for k >= 0 && p.events[k].t > t0+timeEps {
			e := &p.events[k]
			discount(cur, rates, tau-e.t)
			tau = e.t
			p.apply(e, cur)
			k--
		}
		discount(cur, rates, tau-t0)
		p.exercise(t0, cur)
		if p.observe != nil {
			p.observe(i, t0, cur)
		}
		next, cur = cur, next
	}
	return next[0]
}

func discount(v, rates []float64, tau float64) {
	if tau == 0 {
		return
	}
	for j := range v {
		v[j] *= math.Exp(-rates[j] * tau)
	}
}

// apply settles an event on the continuation values v: options first, then
// the sink, the principal and the coupon
func (p *pricer) apply(e *timedEvent, v []float64) {
	after := e.Balance - e.Principal
	if e.Flags.Has(bond.FlagCall) {
		k := e.Call*after/100 + e.ai
		for j := range v {
			v[j] = math.Min(v[j], k)
		}
	}
	if e.Flags.Has(bond.FlagPut) {
		k := e.Put*after/100 + e.ai
		for j := range v {
			v[j] = math.Max(v[j], k)
		}
	}

	if e.Principal > 0 {
		px := e.Price / 100
		if e.Flags.Has(bond.FlagSink) && after > 1e-12 {
			accel := math.Min(p.sink.Acceleration/100*e.Principal, after)
			for j := range v {
				u := v[j] / after
				pay := px
				if p.sink.Delivery && u < px {
					pay = u
				}
				if accel > 0 && u > px {
					v[j] -= accel * (u - px)
				}
				v[j] += e.Principal * pay
			}
		} else {
			for j := range v {
				v[j] += e.Principal * px
			}
		}
	}

	if e.Interest != 0 {
		c := e.Interest * p.taxMult
		for j := range v {
			v[j] += c
		}
	}
}

// exercise applies American calls and puts at a lattice step
func (p *pricer) exercise(t float64, v []float64) {
	if len(p.legs) == 0 {
		return
	}
	bal, ok := p.balanceAt(t)
	if !ok {
		return
	}
	ai := p.accruedAt(t)
	for i := range p.legs {
		leg := &p.legs[i]
		px, ok := leg.strikeAt(t)
		if !ok {
			continue
		}
		k := px*bal/100 + ai
		for j := range v {
			if leg.call {
				v[j] = math.Min(v[j], k)
			} else {
				v[j] = math.Max(v[j], k)
			}
		}
	}
}
