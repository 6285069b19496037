package bond

import (
	"math"
	"sort"

	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// Frequency is the number of coupons per year. IntAtMaturity pays once.
type Frequency int

const (
	IntAtMaturity Frequency = 0
	Annual        Frequency = 1
	SemiAnnual    Frequency = 2
	Quarterly     Frequency = 4
	Monthly       Frequency = 12
)

// Valid reports whether f is a supported frequency
func (f Frequency) Valid() bool {
	switch f {
	case IntAtMaturity, Annual, SemiAnnual, Quarterly, Monthly:
		return true
	}
	return false
}

// YieldMethod selects how conventional yields discount cashflows
type YieldMethod int

const (
	YieldDefault YieldMethod = iota
	YieldBEY
	YieldSimpleLastPeriod
	YieldSimpleLastYear
	YieldMuni
)

// String returns the method name
func (m YieldMethod) String() string {
	switch m {
	case YieldBEY:
		return "bey"
	case YieldSimpleLastPeriod:
		return "simple_last_period"
	case YieldSimpleLastYear:
		return "simple_last_year"
	case YieldMuni:
		return "muni"
	default:
		return "default"
	}
}

// ParseYieldMethod maps a method name to a YieldMethod
func ParseYieldMethod(s string) (YieldMethod, bool) {
	for m := YieldBEY; m <= YieldMuni; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return YieldDefault, false
}

// Style is the exercise style of an option
type Style int

const (
	// European options are exercisable on their listed dates only
	European Style = iota
	// American options are exercisable at any time from the first listed date
	American
)

// String returns the style name
func (s Style) String() string {
	if s == American {
		return "american"
	}
	return "european"
}

// Allocation is how a sinking fund shortfall is spread over remaining sinks
type Allocation int

const (
	ProRata Allocation = iota
	Front
	Back
)

// PeriodType tells whether coupon step dates begin or end their periods
type PeriodType int

const (
	PeriodBegin PeriodType = iota
	PeriodEnd
)

// Strike is a single (date, price) exercise point
type Strike struct {
	Date  calendar.Date
	Price float64
}

// Option is a call or put schedule
type Option struct {
	Style      Style
	Notice     int
	NoticeMode calendar.NoticeMode
	Strikes    []Strike
}

// CouponStep is a step-up coupon boundary
type CouponStep struct {
	Date calendar.Date
	Rate float64
}

// SinkEntry is one scheduled sinking fund payment, in dollars
type SinkEntry struct {
	Date   calendar.Date
	Amount float64
	Price  float64
}

// Sink is a sinking fund
type Sink struct {
	Entries      []SinkEntry
	Allocation   Allocation
	Delivery     bool
	Acceleration float64
}

// TaxRates are the percent rates used by after-tax valuation
type TaxRates struct {
	Income    float64 `json:"income"`
	ShortTerm float64 `json:"short_term"`
	LongTerm  float64 `json:"long_term"`
	SuperLong float64 `json:"super_long"`
}

// Bond is the static description of a fixed income security. It is not safe
// for concurrent mutation; every successful setter bumps its version.
type Bond struct {
	Name string

	issue       calendar.Date
	dated       calendar.Date
	maturity    calendar.Date
	firstCoupon calendar.Date
	lastCoupon  calendar.Date

	coupon      float64
	steps       []CouponStep
	stepType    PeriodType
	frequency   Frequency
	dayCount    calendar.DayCount
	payDay      int
	exCoupon    int
	redemption  float64
	yieldMethod YieldMethod
	face        float64
	issuePrice  float64

	call Option
	put  Option
	sink Sink
	tax  *TaxRates

	version  uint64
	schedule *Schedule
}

// New creates a semi-annual 30/360 bond redeeming at 100
func New(name string) *Bond {
	return &Bond{
		Name:        name,
		frequency:   SemiAnnual,
		dayCount:    calendar.Thirty360,
		redemption:  100,
		issuePrice:  100,
		yieldMethod: YieldDefault,
		call:        Option{Style: American, Notice: -1},
		put:         Option{Style: European, Notice: -1},
	}
}

// Version increases with every successful mutation
func (b *Bond) Version() uint64 { return b.version }

func (b *Bond) touch() {
	b.version++
	b.schedule = nil
}

// SetDates sets the issue, dated and maturity dates. A zero dated date
// defaults to the issue date.
func (b *Bond) SetDates(issue, dated, maturity calendar.Date) error {
	if dated.IsZero() {
		dated = issue
	}
	if issue.IsZero() {
		issue = dated
	}
	if dated.IsZero() || maturity.IsZero() {
		return errors.InvalidInput(errors.CodeInvalidDate, "issue and maturity dates are required")
	}
	if !maturity.After(dated) {
		return errors.InvalidInputf(errors.CodeInvalidDate, "maturity %s is not after dated date %s", maturity, dated)
	}
	b.issue, b.dated, b.maturity = issue, dated, maturity
	b.touch()
	return nil
}

// SetCoupon sets the fixed coupon rate in percent
func (b *Bond) SetCoupon(rate float64) error {
	if err := checkCoupon(rate); err != nil {
		return err
	}
	b.coupon = rate
	b.touch()
	return nil
}

func checkCoupon(rate float64) error {
	if rate < 0 || rate >= 100 || math.IsNaN(rate) {
		return errors.InvalidInputf(errors.CodeInvalidCoupon, "coupon %.4f out of range", rate)
	}
	return nil
}

// SetFrequency sets the coupon frequency. Unsupported values fall back to
// semi-annual with a warning when the schedule is built.
func (b *Bond) SetFrequency(f Frequency) {
	b.frequency = f
	b.touch()
}

// SetDayCount sets the accrual convention. Unknown values fall back to 30/360
// with a warning when the schedule is built.
func (b *Bond) SetDayCount(dc calendar.DayCount) {
	b.dayCount = dc
	b.touch()
}

// SetFirstCoupon overrides the first coupon date
func (b *Bond) SetFirstCoupon(d calendar.Date) error {
	if !d.IsZero() && !b.dated.IsZero() && (!d.After(b.dated) || d.After(b.maturity)) {
		return errors.InvalidInputf(errors.CodeInvalidFirstCoupon, "first coupon %s outside (%s, %s]", d, b.dated, b.maturity)
	}
	b.firstCoupon = d
	b.touch()
	return nil
}

// SetLastCoupon overrides the last regular coupon date
func (b *Bond) SetLastCoupon(d calendar.Date) error {
	if !d.IsZero() && !b.dated.IsZero() && (!d.After(b.dated) || d.After(b.maturity)) {
		return errors.InvalidInputf(errors.CodeInvalidLastCoupon, "last coupon %s outside (%s, %s]", d, b.dated, b.maturity)
	}
	b.lastCoupon = d
	b.touch()
	return nil
}

// SetPayDay sets the coupon day of month. Zero uses the anchor date's day and
// -1 uses the month end when the maturity falls on one.
func (b *Bond) SetPayDay(day int) error {
	if day < -1 || day > 31 {
		return errors.InvalidInputf(errors.CodeInvalidDate, "pay day %d out of range", day)
	}
	b.payDay = day
	b.touch()
	return nil
}

// SetExCouponDays sets how many days before a coupon the bond trades ex
func (b *Bond) SetExCouponDays(days int) error {
	if days < 0 || days > 31 {
		return errors.InvalidInputf(errors.CodeInvalidDate, "ex-coupon days %d out of range", days)
	}
	b.exCoupon = days
	b.touch()
	return nil
}

// SetRedemption sets the price paid at maturity
func (b *Bond) SetRedemption(price float64) error {
	if err := checkPrice(price, errors.CodeInvalidPrice); err != nil {
		return err
	}
	b.redemption = price
	b.touch()
	return nil
}

func checkPrice(price float64, code errors.Code) error {
	if price <= 0 || price >= 1000 || math.IsNaN(price) {
		return errors.InvalidInputf(code, "price %.4f out of range", price)
	}
	return nil
}

// SetIssuePrice sets the original issue price used by after-tax valuation
func (b *Bond) SetIssuePrice(price float64) error {
	if err := checkPrice(price, errors.CodeInvalidPrice); err != nil {
		return err
	}
	b.issuePrice = price
	b.touch()
	return nil
}

// SetYieldMethod sets the conventional yield method
func (b *Bond) SetYieldMethod(m YieldMethod) {
	b.yieldMethod = m
	b.touch()
}

// SetFaceAmount sets the original face in dollars, used to scale sinks
func (b *Bond) SetFaceAmount(face float64) error {
	if face <= 0 || math.IsNaN(face) || math.IsInf(face, 0) {
		return errors.InvalidInputf(errors.CodeInvalidFaceAmount, "face amount %.2f must be positive", face)
	}
	b.face = face
	b.touch()
	return nil
}

// AddCouponStep adds or replaces a step-up coupon boundary
func (b *Bond) AddCouponStep(d calendar.Date, rate float64) error {
	if d.IsZero() {
		return errors.InvalidInput(errors.CodeInvalidDate, "coupon step needs a date")
	}
	if err := checkCoupon(rate); err != nil {
		return err
	}
	i := sort.Search(len(b.steps), func(i int) bool { return !b.steps[i].Date.Before(d) })
	if i < len(b.steps) && b.steps[i].Date == d {
		b.steps[i].Rate = rate
	} else {
		b.steps = append(b.steps, CouponStep{})
		copy(b.steps[i+1:], b.steps[i:])
		b.steps[i] = CouponStep{Date: d, Rate: rate}
	}
	b.touch()
	return nil
}

// SetCouponStepType sets whether step dates begin or end their periods
func (b *Bond) SetCouponStepType(t PeriodType) {
	b.stepType = t
	b.touch()
}

func addStrike(o *Option, d calendar.Date, price float64) error {
	if d.IsZero() {
		return errors.InvalidInput(errors.CodeInvalidOptionDate, "option needs a date")
	}
	if err := checkPrice(price, errors.CodeInvalidOptionPrice); err != nil {
		return err
	}
	i := sort.Search(len(o.Strikes), func(i int) bool { return !o.Strikes[i].Date.Before(d) })
	if i < len(o.Strikes) && o.Strikes[i].Date == d {
		o.Strikes[i].Price = price
		return nil
	}
	o.Strikes = append(o.Strikes, Strike{})
	copy(o.Strikes[i+1:], o.Strikes[i:])
	o.Strikes[i] = Strike{Date: d, Price: price}
	return nil
}

// AddCall adds an issuer call strike
func (b *Bond) AddCall(d calendar.Date, price float64) error {
	if err := addStrike(&b.call, d, price); err != nil {
		return err
	}
	b.touch()
	return nil
}

// AddPut adds a holder put strike
func (b *Bond) AddPut(d calendar.Date, price float64) error {
	if err := addStrike(&b.put, d, price); err != nil {
		return err
	}
	b.touch()
	return nil
}

// SetCallStyle sets the call exercise style
func (b *Bond) SetCallStyle(s Style) {
	b.call.Style = s
	b.touch()
}

// SetPutStyle sets the put exercise style
func (b *Bond) SetPutStyle(s Style) {
	b.put.Style = s
	b.touch()
}

// SetCallNotice sets the call notice period. Negative days use the configured default.
func (b *Bond) SetCallNotice(days int, mode calendar.NoticeMode) {
	b.call.Notice, b.call.NoticeMode = days, mode
	b.touch()
}

// SetPutNotice sets the put notice period. Negative days use the configured default.
func (b *Bond) SetPutNotice(days int, mode calendar.NoticeMode) {
	b.put.Notice, b.put.NoticeMode = days, mode
	b.touch()
}

// AddSink adds a sinking fund payment of amount dollars at price
func (b *Bond) AddSink(d calendar.Date, amount, price float64) error {
	if d.IsZero() {
		return errors.InvalidInput(errors.CodeInvalidSinkDate, "sink needs a date")
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return errors.InvalidInputf(errors.CodeInvalidFaceAmount, "sink amount %.2f must be positive", amount)
	}
	if err := checkPrice(price, errors.CodeInvalidSinkPrice); err != nil {
		return err
	}
	entries := b.sink.Entries
	i := sort.Search(len(entries), func(i int) bool { return !entries[i].Date.Before(d) })
	if i < len(entries) && entries[i].Date == d {
		entries[i] = SinkEntry{Date: d, Amount: amount, Price: price}
	} else {
		entries = append(entries, SinkEntry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = SinkEntry{Date: d, Amount: amount, Price: price}
	}
	b.sink.Entries = entries
	b.touch()
	return nil
}

// SetSinkAllocation sets how outstanding shortfalls are allocated
func (b *Bond) SetSinkAllocation(a Allocation) {
	b.sink.Allocation = a
	b.touch()
}

// SetSinkDelivery sets the issuer's open-market delivery option
func (b *Bond) SetSinkDelivery(on bool) {
	b.sink.Delivery = on
	b.touch()
}

// SetSinkAcceleration sets the acceleration option in percent: 100 is a double-up
func (b *Bond) SetSinkAcceleration(pct float64) error {
	if pct < 0 || pct > 1000 || math.IsNaN(pct) {
		return errors.InvalidInputf(errors.CodeInvalidFaceAmount, "acceleration %.2f out of range", pct)
	}
	b.sink.Acceleration = pct
	b.touch()
	return nil
}

// SetTaxRates sets the bond's own tax rates for after-tax valuation
func (b *Bond) SetTaxRates(t TaxRates) error {
	for _, r := range []float64{t.Income, t.ShortTerm, t.LongTerm, t.SuperLong} {
		if r < 0 || r >= 100 || math.IsNaN(r) {
			return errors.InvalidInputf(errors.CodeInvalidCoupon, "tax rate %.2f out of range", r)
		}
	}
	b.tax = &t
	b.touch()
	return nil
}

// Dated returns the accrual start date
func (b *Bond) Dated() calendar.Date { return b.dated }

// Issue returns the issue date
func (b *Bond) Issue() calendar.Date { return b.issue }

// Maturity returns the maturity date
func (b *Bond) Maturity() calendar.Date { return b.maturity }

// Coupon returns the fixed coupon rate
func (b *Bond) Coupon() float64 { return b.coupon }

// Redemption returns the maturity price
func (b *Bond) Redemption() float64 { return b.redemption }

// IssuePrice returns the original issue price
func (b *Bond) IssuePrice() float64 { return b.issuePrice }

// Call returns a copy of the call schedule
func (b *Bond) Call() Option { return copyOption(b.call) }

// Put returns a copy of the put schedule
func (b *Bond) Put() Option { return copyOption(b.put) }

// Sink returns a copy of the sinking fund
func (b *Bond) Sink() Sink {
	s := b.sink
	s.Entries = append([]SinkEntry(nil), b.sink.Entries...)
	return s
}

// Face returns the original face in dollars, zero when unset
func (b *Bond) Face() float64 { return b.face }

// TaxRates returns the bond's own tax rates, or nil to use defaults
func (b *Bond) TaxRates() *TaxRates {
	if b.tax == nil {
		return nil
	}
	t := *b.tax
	return &t
}

// HasOptions reports whether the bond carries any call or put strike
func (b *Bond) HasOptions() bool {
	return len(b.call.Strikes) > 0 || len(b.put.Strikes) > 0
}

func copyOption(o Option) Option {
	o.Strikes = append([]Strike(nil), o.Strikes...)
	return o
}

// Clone returns an independent copy at the same version
func (b *Bond) Clone() *Bond {
	cp := *b
	cp.steps = append([]CouponStep(nil), b.steps...)
	cp.call = copyOption(b.call)
	cp.put = copyOption(b.put)
	cp.sink = b.Sink()
	cp.tax = b.TaxRates()
	cp.schedule = nil
	return &cp
}

// WithoutOptions returns a copy with calls and puts removed
func (b *Bond) WithoutOptions() *Bond {
	cp := b.Clone()
	cp.call.Strikes = nil
	cp.put.Strikes = nil
	return cp
}

// Schedule returns the cashflow schedule, rebuilding it if the bond changed
// since the last build
func (b *Bond) Schedule() (*Schedule, error) {
	if b.schedule != nil && b.schedule.version == b.version {
		return b.schedule, nil
	}
	s, err := build(b)
	if err != nil {
		return nil, err
	}
	b.schedule = s
	return s, nil
}
