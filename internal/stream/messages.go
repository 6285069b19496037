package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// ValuationRequest asks for a full valuation of an inline bond against an
// inline curve
type ValuationRequest struct {
	CorrelationID string                   `json:"correlation_id,omitempty"`
	PVDate        int                      `json:"pvdate" validate:"required"`
	TradeDate     int                      `json:"trade_date,omitempty"`
	Curve         engine.CurveSpec         `json:"curve"`
	Spread        *engine.SpreadSpec       `json:"spread,omitempty"`
	Bond          bond.Spec                `json:"bond"`
	Quote         engine.QuoteSpec         `json:"quote"`
	Duration      *engine.DurationOverride `json:"duration,omitempty"`
	AfterTax      bool                     `json:"after_tax,omitempty"`
}

// ErrorBody carries a failed request's error
type ErrorBody struct {
	Class   string `json:"class"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValuationResult is written once per request, keyed by correlation ID
type ValuationResult struct {
	CorrelationID string             `json:"correlation_id"`
	Bond          string             `json:"bond,omitempty"`
	Report        *models.BondReport `json:"report,omitempty"`
	Error         *ErrorBody         `json:"error,omitempty"`
	ProcessedAt   time.Time          `json:"processed_at"`
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{
		Class:   errors.ClassOf(err).String(),
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	}
}

// curveKey identifies the lattice a request needs
func curveKey(c engine.CurveSpec, s *engine.SpreadSpec) (string, error) {
	data, err := json.Marshal(struct {
		Curve  engine.CurveSpec   `json:"curve"`
		Spread *engine.SpreadSpec `json:"spread,omitempty"`
	}{c, s})
	if err != nil {
		return "", errors.Wrap(err, "digest curve")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
