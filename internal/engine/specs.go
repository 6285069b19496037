package engine

import (
	"strings"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/curve"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// CurveSpec is the wire form of a curve and its volatility assumptions.
// LongVolatility, when set, wins over MeanReversion.
type CurveSpec struct {
	Type           string    `json:"type,omitempty" validate:"omitempty,oneof=par zero factor"`
	Years          []float64 `json:"years" validate:"required,min=1,dive,gt=0"`
	Values         []float64 `json:"values" validate:"required,min=1"`
	Volatility     float64   `json:"volatility" validate:"gte=0,lt=100"`
	MeanReversion  float64   `json:"mean_reversion,omitempty" validate:"gte=0,lt=100"`
	LongVolatility float64   `json:"long_volatility,omitempty" validate:"gte=0,lt=100"`
}

// Build validates the curve description through the curve's setters
func (s CurveSpec) Build() (*curve.Curve, error) {
	typ := curve.Par
	if s.Type != "" {
		var ok bool
		if typ, ok = curve.ParseType(strings.ToLower(s.Type)); !ok {
			return nil, errors.InvalidInputf(errors.CodeInvalidCurve, "unknown curve type %q", s.Type)
		}
	}
	c, err := curve.NewFromPoints(typ, s.Years, s.Values)
	if err != nil {
		return nil, err
	}
	if err := c.SetVolatility(s.Volatility); err != nil {
		return nil, err
	}
	if err := c.SetMeanReversion(s.MeanReversion); err != nil {
		return nil, err
	}
	if s.LongVolatility > 0 {
		if err := c.SetLongVolatility(s.LongVolatility); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SpreadSpec is the wire form of an issuer spread curve in basis points
type SpreadSpec struct {
	Years []float64 `json:"years" validate:"required,min=1,dive,gt=0"`
	BPs   []float64 `json:"bps" validate:"required,min=1"`
}

// Build validates the spread points
func (s SpreadSpec) Build() (*curve.Spread, error) {
	return curve.NewSpread(s.Years, s.BPs)
}

// Input names the bond, lattice and dates of one valuation call
type Input struct {
	PVDate    int
	Tree      lattice.Handle
	Bond      *bond.Bond
	TradeDate int
	Status    bond.SinkStatus
	AfterTax  bool
	Calendar  *calendar.Calendar
}

// QuoteSpec is the wire form of a market quote. Type is oas, price, ytm, ytc
// or ytp.
type QuoteSpec struct {
	Type  string  `json:"type" validate:"required"`
	Value float64 `json:"value"`
}

// Quote parses the quote type
func (s QuoteSpec) Quote() (models.Quote, error) {
	typ, ok := models.ParseQuoteType(s.Type)
	if !ok {
		return models.Quote{}, errors.InvalidInputf(errors.CodeInvalidQuoteType, "unknown quote type %q", s.Type)
	}
	return models.Quote{Type: typ, Value: s.Value}, nil
}

// DurationOverride replaces the configured duration shift for one call. Zero
// fields keep the configured values.
type DurationOverride struct {
	Mode    string  `json:"mode,omitempty" validate:"omitempty,oneof=par spot none"`
	ShiftBP float64 `json:"shift_bp,omitempty" validate:"omitempty,gte=1,lt=300"`
}

// TransitionSpec places a scenario lattice Years after the valuation date
type TransitionSpec struct {
	Years float64        `json:"years" validate:"gt=0"`
	Tree  lattice.Handle `json:"tree" validate:"required"`
}

// ScenarioSpec is the wire form of a horizon scenario
type ScenarioSpec struct {
	Horizon      int              `json:"horizon" validate:"required"`
	Transitions  []TransitionSpec `json:"transitions" validate:"required,min=1,dive"`
	Mode         string           `json:"mode,omitempty" validate:"omitempty,oneof=now gradual then"`
	Reinvest     string           `json:"reinvest,omitempty" validate:"omitempty,oneof=standard zero_oas zero fixed"`
	ReinvestRate float64          `json:"reinvest_rate,omitempty"`
	Efficiency   float64          `json:"efficiency,omitempty" validate:"gte=0,lte=100"`
	ShiftBP      float64          `json:"shift_bp,omitempty" validate:"gte=0,lt=300"`
}

// AnchorSpec sets the zero points of a single key-rate tent in years
type AnchorSpec struct {
	Left  float64 `json:"left,omitempty" validate:"gte=0"`
	Right float64 `json:"right,omitempty" validate:"gte=0"`
	Width float64 `json:"width,omitempty" validate:"gte=0"`
}

func parseDate(v int, code errors.Code) (calendar.Date, error) {
	d, err := calendar.Parse(v)
	if err != nil {
		return 0, errors.WithCode(err, errors.ClassInvalidInput, code, "bad date")
	}
	return d, nil
}

func parseOptionalDate(v int, code errors.Code) (calendar.Date, error) {
	if v == 0 {
		return 0, nil
	}
	return parseDate(v, code)
}
