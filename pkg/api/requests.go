package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/calendar"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// LatticeRequest fits a lattice to an inline curve or a stored one
type LatticeRequest struct {
	Curve     *engine.CurveSpec  `json:"curve,omitempty"`
	CurveName string             `json:"curve_name,omitempty"`
	Spread    *engine.SpreadSpec `json:"spread,omitempty"`
}

// ShiftRequest shifts a lattice. Mode auto fits both legs and may halve bp.
type ShiftRequest struct {
	BP   float64 `json:"bp" validate:"required"`
	Mode string  `json:"mode,omitempty" validate:"omitempty,oneof=par spot auto"`
}

// ForwardRequest asks for forward par curves of an inline curve
type ForwardRequest struct {
	Curve      engine.CurveSpec `json:"curve"`
	Times      []float64        `json:"times" validate:"required,min=1"`
	Maturities []float64        `json:"maturities" validate:"required,min=1"`
}

// SinkStatusSpec is the current state of a sinking fund
type SinkStatusSpec struct {
	Outstanding  float64 `json:"outstanding,omitempty" validate:"gte=0"`
	Accumulation float64 `json:"accumulation,omitempty" validate:"gte=0"`
}

// InputSpec names the lattice, bond and dates shared by every valuation
// request. The bond is either stored (BondName) or inline (Bond).
type InputSpec struct {
	Tree      lattice.Handle  `json:"tree" validate:"required"`
	PVDate    int             `json:"pvdate" validate:"required"`
	TradeDate int             `json:"trade_date,omitempty"`
	BondName  string          `json:"bond_name,omitempty"`
	Bond      *bond.Spec      `json:"bond,omitempty"`
	Sink      *SinkStatusSpec `json:"sink,omitempty"`
	Holidays  []int           `json:"holidays,omitempty"`
	AfterTax  bool            `json:"after_tax,omitempty"`
}

// ValuationRequest runs the full report
type ValuationRequest struct {
	InputSpec
	Quote    engine.QuoteSpec         `json:"quote"`
	Duration *engine.DurationOverride `json:"duration,omitempty"`
}

// PriceRequest prices at an OAS in basis points
type PriceRequest struct {
	InputSpec
	OAS float64 `json:"oas"`
}

// PriceInput carries a clean price
type PriceInput struct {
	InputSpec
	Price float64 `json:"price" validate:"gt=0"`
}

// QuoteInput carries a market quote
type QuoteInput struct {
	InputSpec
	Quote engine.QuoteSpec `json:"quote"`
}

// ConvertRequest converts a quote into another quote type
type ConvertRequest struct {
	InputSpec
	Quote engine.QuoteSpec `json:"quote"`
	To    string           `json:"to" validate:"required"`
}

// WorstRequest asks for yield to worst at a price or price to worst at a
// yield; exactly one must be set. ToSink adds sink dates to the candidates.
type WorstRequest struct {
	InputSpec
	Price  *float64 `json:"price,omitempty" validate:"omitempty,gt=0"`
	Yield  *float64 `json:"yield,omitempty"`
	ToSink bool     `json:"to_sink"`
}

// KeyRatesRequest measures durations to a set of key rates
type KeyRatesRequest struct {
	InputSpec
	Quote      engine.QuoteSpec `json:"quote"`
	Maturities []float64        `json:"maturities" validate:"required,min=1"`
	BP         float64          `json:"bp,omitempty" validate:"gte=0,lt=300"`
}

// KeyRateRequest measures the duration to a single tent
type KeyRateRequest struct {
	InputSpec
	Quote   engine.QuoteSpec  `json:"quote"`
	Target  float64           `json:"target" validate:"gt=0"`
	BP      float64           `json:"bp,omitempty" validate:"gte=0,lt=300"`
	Anchors engine.AnchorSpec `json:"anchors"`
}

// ScenarioRequest walks a bond to a horizon
type ScenarioRequest struct {
	InputSpec
	Quote    engine.QuoteSpec    `json:"quote"`
	Scenario engine.ScenarioSpec `json:"scenario"`
}

// AccruedRequest asks for accrued interest of a bond
type AccruedRequest struct {
	PVDate   int        `json:"pvdate" validate:"required"`
	BondName string     `json:"bond_name,omitempty"`
	Bond     *bond.Spec `json:"bond,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Class   string `json:"class"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// statusOf maps an engine error to an HTTP status
func statusOf(err error) int {
	switch errors.ClassOf(err) {
	case errors.ClassInvalidInput:
		if errors.HasCode(err, errors.CodeNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.ClassPermission:
		return http.StatusForbidden
	case errors.ClassInitialization:
		return http.StatusUnauthorized
	case errors.ClassComputation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Class:   errors.ClassOf(err).String(),
			Code:    string(errors.CodeOf(err)),
			Message: err.Error(),
		},
		RequestID: c.GetString(requestIDKey),
	})
}

func invalidRequest(err error) error {
	return errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidRequest, "invalid request")
}

func handleParam(c *gin.Context) (lattice.Handle, error) {
	raw := c.Param("handle")
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return lattice.NoTree, errors.InvalidInputf(errors.CodeInvalidLattice, "bad lattice handle %q", raw)
	}
	return lattice.Handle(v), nil
}

// floatList parses a comma separated query parameter
func floatList(c *gin.Context, name string) ([]float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, errors.InvalidInputf(errors.CodeInvalidRequest, "missing query parameter %q", name)
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.InvalidInputf(errors.CodeInvalidRequest, "bad %s value %q", name, p)
		}
		out[i] = v
	}
	return out, nil
}

func buildCalendar(holidays []int) (*calendar.Calendar, error) {
	if len(holidays) == 0 {
		return nil, nil
	}
	dates := make([]calendar.Date, len(holidays))
	for i, h := range holidays {
		d, err := calendar.Parse(h)
		if err != nil {
			return nil, errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidDate, "bad holiday")
		}
		dates[i] = d
	}
	return calendar.NewCalendar(dates, false), nil
}
