package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

// input resolves the bond and calendar of spec
func (h *Handlers) input(spec InputSpec) (engine.Input, error) {
	b, err := h.bondOf(spec.Bond, spec.BondName)
	if err != nil {
		return engine.Input{}, err
	}
	cal, err := buildCalendar(spec.Holidays)
	if err != nil {
		return engine.Input{}, err
	}
	in := engine.Input{
		PVDate:    spec.PVDate,
		Tree:      spec.Tree,
		Bond:      b,
		TradeDate: spec.TradeDate,
		AfterTax:  spec.AfterTax,
		Calendar:  cal,
	}
	if spec.Sink != nil {
		in.Status = bond.SinkStatus{Outstanding: spec.Sink.Outstanding, Accumulation: spec.Sink.Accumulation}
	}
	return in, nil
}

// prepare binds req, then resolves its input and optional quote
func (h *Handlers) prepare(c *gin.Context, req any, spec *InputSpec, quote *engine.QuoteSpec) (engine.Input, models.Quote, bool) {
	if !h.bind(c, req) {
		return engine.Input{}, models.Quote{}, false
	}
	in, err := h.input(*spec)
	if err != nil {
		respondError(c, err)
		return engine.Input{}, models.Quote{}, false
	}
	var q models.Quote
	if quote != nil {
		if q, err = quote.Quote(); err != nil {
			respondError(c, err)
			return engine.Input{}, models.Quote{}, false
		}
	}
	return in, q, true
}

// Value runs the full valuation report
func (h *Handlers) Value(c *gin.Context) {
	var req ValuationRequest
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	rep, err := h.engine.BondVal(c.Request.Context(), in, q, req.Duration)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Price prices at an OAS
func (h *Handlers) Price(c *gin.Context) {
	var req PriceRequest
	in, _, ok := h.prepare(c, &req, &req.InputSpec, nil)
	if !ok {
		return
	}
	price, err := h.engine.BondPrice(in, req.OAS)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"oas": req.OAS, "price": price})
}

// OAS solves for the spread that reprices to a clean price
func (h *Handlers) OAS(c *gin.Context) {
	var req PriceInput
	in, _, ok := h.prepare(c, &req, &req.InputSpec, nil)
	if !ok {
		return
	}
	oas, err := h.engine.BondOAS(in, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": req.Price, "oas": oas})
}

// Accrued returns accrued interest at pvdate
func (h *Handlers) Accrued(c *gin.Context) {
	var req AccruedRequest
	if !h.bind(c, &req) {
		return
	}
	b, err := h.bondOf(req.Bond, req.BondName)
	if err != nil {
		respondError(c, err)
		return
	}
	ai, days, err := h.engine.BondAccrued(req.PVDate, b)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pvdate": req.PVDate, "accrued": ai, "days": days})
}

// Flows returns the projected cash flows at the quoted OAS
func (h *Handlers) Flows(c *gin.Context) {
	var req QuoteInput
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	rep, err := h.engine.BondFlow(in, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Yields returns the yield report at a clean price
func (h *Handlers) Yields(c *gin.Context) {
	var req PriceInput
	in, _, ok := h.prepare(c, &req, &req.InputSpec, nil)
	if !ok {
		return
	}
	rep, err := h.engine.BondYields(in, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Worst returns yield to worst at a price, or price to worst at a yield
func (h *Handlers) Worst(c *gin.Context) {
	var req WorstRequest
	in, _, ok := h.prepare(c, &req, &req.InputSpec, nil)
	if !ok {
		return
	}
	var (
		rep *models.WorstReport
		err error
	)
	switch {
	case req.Price != nil && req.Yield == nil:
		rep, err = h.engine.YieldToWorst(in, *req.Price, req.ToSink)
	case req.Yield != nil && req.Price == nil:
		rep, err = h.engine.PriceToWorst(in, *req.Yield, req.ToSink)
	default:
		err = errors.InvalidInput(errors.CodeInvalidRequest, "give exactly one of price or yield")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Convert turns a quote into another quote type
func (h *Handlers) Convert(c *gin.Context) {
	var req ConvertRequest
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	to, found := models.ParseQuoteType(req.To)
	if !found {
		respondError(c, errors.InvalidInputf(errors.CodeInvalidQuoteType, "unknown quote type %q", req.To))
		return
	}
	out, err := h.engine.PriceCnv(in, q, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": to.String(), "value": out})
}

// Spreads returns the asset swap spread and the interpolated spread at a price
func (h *Handlers) Spreads(c *gin.Context) {
	var req PriceInput
	in, _, ok := h.prepare(c, &req, &req.InputSpec, nil)
	if !ok {
		return
	}
	asw, err := h.engine.AssetSwapSpread(in, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	ispread, err := h.engine.ISpread(in, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": req.Price, "asset_swap_spread": asw, "i_spread": ispread})
}

// KeyRates measures durations to each key rate maturity
func (h *Handlers) KeyRates(c *gin.Context) {
	var req KeyRatesRequest
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	setup, err := h.engine.BondKeyDurSetup(ctx, in.Tree, req.Maturities, req.BP)
	if err != nil {
		respondError(c, err)
		return
	}
	rep, err := h.engine.BondKeyDur(ctx, in, setup, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// KeyRate measures the duration to a single tent
func (h *Handlers) KeyRate(c *gin.Context) {
	var req KeyRateRequest
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	dur, err := h.engine.BondKeyRate(c.Request.Context(), in, q, req.Target, req.BP, req.Anchors)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": req.Target, "duration": dur})
}

// Scenario walks a bond to the scenario horizon
func (h *Handlers) Scenario(c *gin.Context) {
	var req ScenarioRequest
	in, q, ok := h.prepare(c, &req, &req.InputSpec, &req.Quote)
	if !ok {
		return
	}
	rep, err := h.engine.BondScen(c.Request.Context(), in, q, req.Scenario)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
