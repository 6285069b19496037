package bond

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Flag tags a schedule record
type Flag uint8

const (
	FlagInterest Flag = 1 << iota
	FlagPrincipal
	FlagSink
	FlagCall
	FlagPut
	FlagPseudo
)

// Has reports whether every bit of o is set in f
func (f Flag) Has(o Flag) bool { return f&o == o }

// Piece is a stretch of accrual at one rate inside one quasi-coupon period
type Piece struct {
	Start calendar.Date
	End   calendar.Date
	Q0    calendar.Date
	Q1    calendar.Date
	Rate  float64
}

// Flow is one dated record of the schedule. Amounts are per 100 of original
// face; Balance is the amount outstanding just before the record.
type Flow struct {
	Date      calendar.Date
	Flags     Flag
	Pieces    []Piece
	Interest  float64
	Principal float64
	Price     float64
	Balance   float64
	Call      float64
	Put       float64
}

// Exercise is an option schedule as it applies to the built cashflows
type Exercise struct {
	Style      Style
	Notice     int
	NoticeMode calendar.NoticeMode
	Strikes    []Strike
}

// Active reports whether the option has any strike
func (e Exercise) Active() bool { return len(e.Strikes) > 0 }

// First returns the first strike date
func (e Exercise) First() calendar.Date {
	if len(e.Strikes) == 0 {
		return 0
	}
	return e.Strikes[0].Date
}

// StrikeAt returns the strike on d, if the option can be exercised then
func (e Exercise) StrikeAt(d calendar.Date) (float64, bool) {
	i := sort.Search(len(e.Strikes), func(i int) bool { return e.Strikes[i].Date.After(d) })
	if i == 0 {
		return 0, false
	}
	s := e.Strikes[i-1]
	if e.Style == European && s.Date != d {
		return 0, false
	}
	return s.Price, true
}

// Schedule is the ordered cashflow and event list derived from a Bond
type Schedule struct {
	version uint64

	Dated       calendar.Date
	Maturity    calendar.Date
	End         calendar.Date
	FirstCoupon calendar.Date
	LastCoupon  calendar.Date
	Frequency   Frequency
	DayCount    calendar.DayCount
	YieldMethod YieldMethod
	Redemption  float64
	ExCoupon    int
	Face        float64

	Flows []Flow
	Call  Exercise
	Put   Exercise
	Sink  Sink

	quasi    []calendar.Date
	months   int
	qfreq    int
	warnings []errors.Warning
}

// Warnings returns the substitutions made while building
func (s *Schedule) Warnings() []errors.Warning {
	return append([]errors.Warning(nil), s.warnings...)
}

// IntAtMaturity reports whether the bond pays a single interest flow
func (s *Schedule) IntAtMaturity() bool { return s.Frequency == IntAtMaturity }

// YieldFrequency is the compounding frequency of conventional yields
func (s *Schedule) YieldFrequency() int { return s.qfreq }

// PeriodMonths is the length of a regular coupon period in months
func (s *Schedule) PeriodMonths() int { return s.months }

// Quasi returns the quasi-coupon dates bracketing the bond's life
func (s *Schedule) Quasi() []calendar.Date {
	return append([]calendar.Date(nil), s.quasi...)
}

func build(b *Bond) (*Schedule, error) {
	if b.dated.IsZero() || b.maturity.IsZero() {
		return nil, errors.InvalidInput(errors.CodeInvalidDate, "bond dates are not set")
	}
	var w errors.Warnings

	freq := b.frequency
	if !freq.Valid() {
		w.Addf(errors.WarnFrequency, "frequency %d unsupported, using semi-annual", int(freq))
		freq = SemiAnnual
	}
	dc := b.dayCount
	if !dc.Valid() {
		w.Addf(errors.WarnDayCount, "day count %d unsupported, using 30/360", int(dc))
		dc = calendar.Thirty360
	}
	ym := b.yieldMethod
	if ym < YieldDefault || ym > YieldMuni {
		w.Addf(errors.WarnYieldMethod, "yield method %d unsupported, using default", int(ym))
		ym = YieldDefault
	}

	s := &Schedule{
		version:     b.version,
		Dated:       b.dated,
		Maturity:    b.maturity,
		Frequency:   freq,
		DayCount:    dc,
		YieldMethod: ym,
		Redemption:  b.redemption,
		ExCoupon:    b.exCoupon,
		qfreq:       int(freq),
	}
	if freq == IntAtMaturity {
		s.qfreq = 2
	}
	s.months = 12 / s.qfreq

	anchor := b.maturity
	if !b.lastCoupon.IsZero() && freq != IntAtMaturity {
		if !b.lastCoupon.After(b.dated) || b.lastCoupon.After(b.maturity) {
			return nil, errors.InvalidInputf(errors.CodeInvalidLastCoupon, "last coupon %s outside (%s, %s]", b.lastCoupon, b.dated, b.maturity)
		}
		anchor = b.lastCoupon
	}
	payDay := resolvePayDay(b.payDay, anchor, b.maturity, &w)

	cycle := []calendar.Date{anchor}
	for k := 1; cycle[len(cycle)-1].After(b.dated); k++ {
		cycle = append(cycle, anchor.AddMonths(-k*s.months, payDay))
	}
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	quasi := append([]calendar.Date(nil), cycle...)
	for k := 1; quasi[len(quasi)-1].Before(b.maturity); k++ {
		quasi = append(quasi, anchor.AddMonths(k*s.months, payDay))
	}
	s.quasi = quasi

	first := cycle[1]
	switch {
	case freq == IntAtMaturity:
		first = b.maturity
	case !b.firstCoupon.IsZero():
		fc := b.firstCoupon
		if !fc.After(b.dated) || fc.After(b.maturity) {
			return nil, errors.InvalidInputf(errors.CodeInvalidFirstCoupon, "first coupon %s outside (%s, %s]", fc, b.dated, b.maturity)
		}
		if indexOf(cycle, fc) > 0 {
			first = fc
		} else {
			w.Addf(errors.WarnNonCyclicalCoupon, "first coupon %s is not on the coupon cycle, ignored", fc)
		}
	}
	s.FirstCoupon = first
	s.LastCoupon = anchor

	face, sinks, err := s.resolveSinks(b, &w)
	if err != nil {
		return nil, err
	}
	s.Face = face

	payments := make(map[calendar.Date]bool)
	if freq == IntAtMaturity {
		payments[s.End] = true
	} else {
		for _, d := range cycle {
			if !d.Before(first) && !d.After(s.End) {
				payments[d] = true
			}
		}
		payments[s.End] = true
	}

	dates := make(map[calendar.Date]bool)
	for d := range payments {
		dates[d] = true
	}
	pseudo := make(map[calendar.Date]bool)
	for _, d := range quasi {
		if d.After(b.dated) && d.Before(s.End) && !payments[d] {
			pseudo[d] = true
			dates[d] = true
		}
	}
	sinkAt := make(map[calendar.Date]sinkPct)
	for _, sp := range sinks {
		sinkAt[sp.date] = sp
		dates[sp.date] = true
	}
	s.Call = s.exercise(b.call)
	s.Put = s.exercise(b.put)
	for _, st := range s.Call.Strikes {
		dates[st.Date] = true
	}
	for _, st := range s.Put.Strikes {
		dates[st.Date] = true
	}

	ordered := make([]calendar.Date, 0, len(dates))
	for d := range dates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	splits := s.stepDates(b)
	for _, sp := range sinks {
		splits = append(splits, sp.date)
	}

	balance := 100.0
	periodStart := b.dated
	for _, d := range ordered {
		f := Flow{Date: d, Balance: balance}
		if payments[d] {
			f.Flags |= FlagInterest
			f.Pieces = s.pieces(periodStart, d, splits, b)
			periodStart = d
		}
		if pseudo[d] {
			f.Flags |= FlagPseudo
		}
		if sp, ok := sinkAt[d]; ok && d != s.End {
			f.Flags |= FlagPrincipal | FlagSink
			f.Principal = sp.pct
			f.Price = sp.price
		}
		if d == s.End {
			f.Flags |= FlagPrincipal
			f.Principal = balance
			f.Price = b.redemption
			if sp, ok := sinkAt[d]; ok && d != b.maturity {
				f.Flags |= FlagSink
				f.Price = sp.price
			}
		}
		if px, ok := s.Call.StrikeAt(d); ok {
			f.Flags |= FlagCall
			f.Call = px
		}
		if px, ok := s.Put.StrikeAt(d); ok {
			f.Flags |= FlagPut
			f.Put = px
		}
		s.Flows = append(s.Flows, f)
		balance -= f.Principal
	}

	// interest follows the balance path, which is only known once every
	// principal record is placed
	for i := range s.Flows {
		f := &s.Flows[i]
		for _, p := range f.Pieces {
			f.Interest += p.Rate * s.fraction(p.Start, p.End, p.Q0, p.Q1) * s.balanceAt(p.Start) / 100
		}
	}

	s.warnings = w.List()
	return s, nil
}

func indexOf(ds []calendar.Date, d calendar.Date) int {
	for i, x := range ds {
		if x == d {
			return i
		}
	}
	return -1
}

func resolvePayDay(payDay int, anchor, maturity calendar.Date, w *errors.Warnings) int {
	switch {
	case payDay == 0:
		if anchor.IsEndOfMonth() {
			return -1
		}
		return anchor.Day()
	case payDay < 0:
		if maturity.IsEndOfMonth() {
			return -1
		}
		return anchor.Day()
	}
	if payDay != anchor.Day() && !anchor.IsEndOfMonth() {
		w.Addf(errors.WarnPayDay, "pay day %d differs from %s, cashflows move to day %d", payDay, anchor, payDay)
	}
	return payDay
}

type sinkPct struct {
	date  calendar.Date
	pct   float64
	price float64
}

// resolveSinks converts dollar sinks into percent of face, reconciles their
// sum against the face amount, and sets the schedule's effective end
func (s *Schedule) resolveSinks(b *Bond, w *errors.Warnings) (float64, []sinkPct, error) {
	s.End = b.maturity
	s.Sink = b.Sink()
	entries := s.Sink.Entries
	if len(entries) == 0 {
		face := b.face
		if face == 0 {
			face = 100
		}
		return face, nil, nil
	}

	sum := decimal.Zero
	for _, e := range entries {
		if !e.Date.After(b.dated) || e.Date.After(b.maturity) {
			return 0, nil, errors.InvalidInputf(errors.CodeInvalidSinkDate, "sink %s outside (%s, %s]", e.Date, b.dated, b.maturity)
		}
		sum = sum.Add(decimal.NewFromFloat(e.Amount))
	}

	face := decimal.NewFromFloat(b.face)
	switch {
	case b.face == 0:
		face = sum
	case sum.LessThan(face):
		w.Addf(errors.WarnSinkSumLow, "sinks total %s of %s face, remainder paid at maturity", sum.StringFixed(2), face.StringFixed(2))
	case sum.GreaterThan(face):
		w.Addf(errors.WarnSinkSumHigh, "sinks total %s exceeds %s face, schedule trusted", sum.StringFixed(2), face.StringFixed(2))
		face = sum
	}

	hundred := decimal.NewFromInt(100)
	var out []sinkPct
	cum := decimal.Zero
	for _, e := range entries {
		amt := decimal.NewFromFloat(e.Amount)
		cum = cum.Add(amt)
		pct, _ := amt.Div(face).Mul(hundred).Float64()
		out = append(out, sinkPct{date: e.Date, pct: pct, price: e.Price})
		if cum.GreaterThanOrEqual(face) && e.Date.Before(b.maturity) {
			w.Addf(errors.WarnSinkTooSoon, "sinks retire the bond on %s before maturity %s", e.Date, b.maturity)
			s.End = e.Date
			break
		}
	}
	faceF, _ := face.Float64()
	return faceF, out, nil
}

func (s *Schedule) exercise(o Option) Exercise {
	e := Exercise{Style: o.Style, Notice: o.Notice, NoticeMode: o.NoticeMode}
	for _, st := range o.Strikes {
		if st.Date.After(s.Dated) && !st.Date.After(s.End) {
			e.Strikes = append(e.Strikes, st)
		}
	}
	return e
}

// stepDates returns the coupon step boundaries that split accrual
func (s *Schedule) stepDates(b *Bond) []calendar.Date {
	out := make([]calendar.Date, 0, len(b.steps))
	for _, st := range b.steps {
		out = append(out, st.Date)
	}
	return out
}

// rateAt returns the coupon accruing on d
func rateAt(b *Bond, d calendar.Date) float64 {
	if len(b.steps) == 0 {
		return b.coupon
	}
	if b.stepType == PeriodEnd {
		for _, st := range b.steps {
			if st.Date.After(d) {
				return st.Rate
			}
		}
		return b.coupon
	}
	rate := b.coupon
	for _, st := range b.steps {
		if st.Date.After(d) {
			break
		}
		rate = st.Rate
	}
	return rate
}

// pieces splits [from, to] at quasi-coupon dates and at the given split dates
func (s *Schedule) pieces(from, to calendar.Date, splits []calendar.Date, b *Bond) []Piece {
	cuts := []calendar.Date{from, to}
	for _, q := range s.quasi {
		if q.After(from) && q.Before(to) {
			cuts = append(cuts, q)
		}
	}
	for _, d := range splits {
		if d.After(from) && d.Before(to) {
			cuts = append(cuts, d)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	var out []Piece
	for i := 0; i+1 < len(cuts); i++ {
		a, z := cuts[i], cuts[i+1]
		if a == z {
			continue
		}
		q0, q1 := s.quasiAround(a)
		out = append(out, Piece{Start: a, End: z, Q0: q0, Q1: q1, Rate: rateAt(b, a)})
	}
	return out
}

// quasiAround returns the quasi-coupon period [q0, q1) containing d
func (s *Schedule) quasiAround(d calendar.Date) (calendar.Date, calendar.Date) {
	i := sort.Search(len(s.quasi), func(i int) bool { return s.quasi[i].After(d) })
	if i == 0 {
		return s.quasi[0], s.quasi[min(1, len(s.quasi)-1)]
	}
	if i == len(s.quasi) {
		n := len(s.quasi)
		return s.quasi[n-1], s.quasi[n-1].AddMonths(s.months, s.quasi[n-1].Day())
	}
	return s.quasi[i-1], s.quasi[i]
}

// fraction returns the coupon fraction for accrual from a to z inside the
// quasi-coupon period [q0, q1]
func (s *Schedule) fraction(a, z, q0, q1 calendar.Date) float64 {
	if a == q0 && z == q1 {
		return 1 / float64(s.qfreq)
	}
	if s.DayCount == calendar.ActAct {
		return float64(a.DaysUntil(z)) / float64(q0.DaysUntil(q1)) / float64(s.qfreq)
	}
	return calendar.YearFraction(a, z, s.DayCount)
}

// balanceAt returns the outstanding per 100 of original face on d, after
// any principal paid on d
func (s *Schedule) balanceAt(d calendar.Date) float64 {
	bal := 100.0
	for _, f := range s.Flows {
		if f.Date.After(d) {
			break
		}
		bal -= f.Principal
	}
	return bal
}

// Periods returns the number of coupon periods from a to z measured on the
// quasi-coupon grid
func (s *Schedule) Periods(a, z calendar.Date) float64 {
	if !z.After(a) {
		return 0
	}
	return s.position(z) - s.position(a)
}

// position places d on the quasi-coupon grid: quasi[i] maps to i
func (s *Schedule) position(d calendar.Date) float64 {
	q0, q1 := s.quasiAround(d)
	i := float64(indexOf(s.quasi, q0))
	if i < 0 {
		i = float64(len(s.quasi) - 1)
	}
	if d.Before(q0) {
		// before the grid: extend by whole periods
		back := q0
		n := 0.0
		for d.Before(back) {
			back = back.AddMonths(-s.months, back.Day())
			n++
		}
		q0, q1 = back, back.AddMonths(s.months, back.Day())
		i -= n
	}
	span := calendar.Days(q0, q1, s.DayCount)
	if span <= 0 {
		return i
	}
	return i + float64(calendar.Days(q0, d, s.DayCount))/float64(span)
}
