package bond

import (
	"strings"

	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// StrikeSpec is a strike at a yyyymmdd date
type StrikeSpec struct {
	Date  int     `json:"date" validate:"required"`
	Price float64 `json:"price" validate:"gt=0"`
}

// OptionSpec describes a call or put schedule
type OptionSpec struct {
	Style      string       `json:"style,omitempty" validate:"omitempty,oneof=european american"`
	Notice     *int         `json:"notice,omitempty"`
	NoticeMode string       `json:"notice_mode,omitempty" validate:"omitempty,oneof=extend business"`
	Strikes    []StrikeSpec `json:"strikes" validate:"dive"`
}

// SinkSpec describes a sinking fund
type SinkSpec struct {
	Entries      []SinkEntrySpec `json:"entries" validate:"dive"`
	Allocation   string          `json:"allocation,omitempty" validate:"omitempty,oneof=prorata front back"`
	Delivery     bool            `json:"delivery,omitempty"`
	Acceleration float64         `json:"acceleration,omitempty" validate:"gte=0"`
}

// SinkEntrySpec is one sinking fund payment
type SinkEntrySpec struct {
	Date   int     `json:"date" validate:"required"`
	Amount float64 `json:"amount" validate:"gt=0"`
	Price  float64 `json:"price" validate:"gt=0"`
}

// StepSpec is a step-up coupon boundary
type StepSpec struct {
	Date int     `json:"date" validate:"required"`
	Rate float64 `json:"rate" validate:"gte=0"`
}

// Spec is the wire form of a bond with yyyymmdd dates
type Spec struct {
	Name         string      `json:"name"`
	Issue        int         `json:"issue"`
	Dated        int         `json:"dated,omitempty"`
	Maturity     int         `json:"maturity" validate:"required"`
	FirstCoupon  int         `json:"first_coupon,omitempty"`
	LastCoupon   int         `json:"last_coupon,omitempty"`
	Coupon       float64     `json:"coupon" validate:"gte=0"`
	Steps        []StepSpec  `json:"steps,omitempty" validate:"dive"`
	StepsEnd     bool        `json:"steps_end,omitempty"`
	Frequency    *int        `json:"frequency,omitempty"`
	DayCount     string      `json:"day_count,omitempty"`
	PayDay       int         `json:"pay_day,omitempty"`
	ExCouponDays int         `json:"ex_coupon_days,omitempty"`
	Redemption   float64     `json:"redemption,omitempty"`
	YieldMethod  string      `json:"yield_method,omitempty"`
	FaceAmount   float64     `json:"face_amount,omitempty"`
	Call         *OptionSpec `json:"call,omitempty"`
	Put          *OptionSpec `json:"put,omitempty"`
	Sink         *SinkSpec   `json:"sink,omitempty"`
	Tax          *TaxRates   `json:"tax,omitempty"`
}

func parseDate(v int, code errors.Code) (calendar.Date, error) {
	if v == 0 {
		return 0, nil
	}
	d, err := calendar.Parse(v)
	if err != nil {
		return 0, errors.WithCode(err, errors.ClassInvalidInput, code, "bad date")
	}
	return d, nil
}

// Build validates every field through the bond's setters
func (s Spec) Build() (*Bond, error) {
	b := New(s.Name)

	issue, err := parseDate(s.Issue, errors.CodeInvalidDate)
	if err != nil {
		return nil, err
	}
	dated, err := parseDate(s.Dated, errors.CodeInvalidDate)
	if err != nil {
		return nil, err
	}
	maturity, err := parseDate(s.Maturity, errors.CodeInvalidDate)
	if err != nil {
		return nil, err
	}
	if err := b.SetDates(issue, dated, maturity); err != nil {
		return nil, err
	}
	if err := b.SetCoupon(s.Coupon); err != nil {
		return nil, err
	}
	if s.Frequency != nil {
		b.SetFrequency(Frequency(*s.Frequency))
	}
	if s.DayCount != "" {
		dc, ok := calendar.ParseDayCount(s.DayCount)
		if !ok {
			dc = calendar.DayCount(0)
		}
		b.SetDayCount(dc)
	}
	if fc, err := parseDate(s.FirstCoupon, errors.CodeInvalidFirstCoupon); err != nil {
		return nil, err
	} else if err := b.SetFirstCoupon(fc); err != nil {
		return nil, err
	}
	if lc, err := parseDate(s.LastCoupon, errors.CodeInvalidLastCoupon); err != nil {
		return nil, err
	} else if err := b.SetLastCoupon(lc); err != nil {
		return nil, err
	}
	if err := b.SetPayDay(s.PayDay); err != nil {
		return nil, err
	}
	if err := b.SetExCouponDays(s.ExCouponDays); err != nil {
		return nil, err
	}
	if s.Redemption != 0 {
		if err := b.SetRedemption(s.Redemption); err != nil {
			return nil, err
		}
	}
	if s.YieldMethod != "" {
		m, ok := ParseYieldMethod(strings.ToLower(s.YieldMethod))
		if !ok {
			m = YieldMethod(-1)
		}
		b.SetYieldMethod(m)
	}
	if s.FaceAmount != 0 {
		if err := b.SetFaceAmount(s.FaceAmount); err != nil {
			return nil, err
		}
	}
	for _, st := range s.Steps {
		d, err := parseDate(st.Date, errors.CodeInvalidDate)
		if err != nil {
			return nil, err
		}
		if err := b.AddCouponStep(d, st.Rate); err != nil {
			return nil, err
		}
	}
	if s.StepsEnd {
		b.SetCouponStepType(PeriodEnd)
	}
	if err := s.applyOption(b, s.Call, true); err != nil {
		return nil, err
	}
	if err := s.applyOption(b, s.Put, false); err != nil {
		return nil, err
	}
	if s.Sink != nil {
		for _, e := range s.Sink.Entries {
			d, err := parseDate(e.Date, errors.CodeInvalidSinkDate)
			if err != nil {
				return nil, err
			}
			if err := b.AddSink(d, e.Amount, e.Price); err != nil {
				return nil, err
			}
		}
		switch s.Sink.Allocation {
		case "front":
			b.SetSinkAllocation(Front)
		case "back":
			b.SetSinkAllocation(Back)
		}
		b.SetSinkDelivery(s.Sink.Delivery)
		if err := b.SetSinkAcceleration(s.Sink.Acceleration); err != nil {
			return nil, err
		}
	}
	if s.Tax != nil {
		if err := b.SetTaxRates(*s.Tax); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s Spec) applyOption(b *Bond, o *OptionSpec, call bool) error {
	if o == nil {
		return nil
	}
	for _, st := range o.Strikes {
		d, err := parseDate(st.Date, errors.CodeInvalidOptionDate)
		if err != nil {
			return err
		}
		add := b.AddPut
		if call {
			add = b.AddCall
		}
		if err := add(d, st.Price); err != nil {
			return err
		}
	}
	if o.Style != "" {
		style := European
		if o.Style == "american" {
			style = American
		}
		if call {
			b.SetCallStyle(style)
		} else {
			b.SetPutStyle(style)
		}
	}
	if o.Notice != nil || o.NoticeMode != "" {
		days := -1
		if o.Notice != nil {
			days = *o.Notice
		}
		mode := calendar.ExtendTrailingEdge
		if o.NoticeMode == "business" {
			mode = calendar.BusinessDaysOnly
		}
		if call {
			b.SetCallNotice(days, mode)
		} else {
			b.SetPutNotice(days, mode)
		}
	}
	return nil
}
