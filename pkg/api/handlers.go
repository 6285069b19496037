package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/internal/store"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	engine   *engine.Engine
	bonds    *store.InMemoryBondStore
	curves   *store.InMemoryCurveStore
	validate *validator.Validate
	log      *logger.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(eng *engine.Engine, bonds *store.InMemoryBondStore, curves *store.InMemoryCurveStore) *Handlers {
	return &Handlers{
		engine:   eng,
		bonds:    bonds,
		curves:   curves,
		validate: validator.New(),
		log:      logger.GetLogger("api.handlers"),
	}
}

// bind decodes and validates the JSON body into req, responding on failure
func (h *Handlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, errors.WithCode(err, errors.ClassInvalidInput, errors.CodeInvalidRequest, "malformed body"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, invalidRequest(err))
		return false
	}
	return true
}

// Health reports liveness and license state
func (h *Handlers) Health(c *gin.Context) {
	gate := h.engine.Gate()
	body := gin.H{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"live_lattices": h.engine.Lattices().Live(),
		"licensed":      gate.Check(license.FeatureNone) == nil,
	}
	if user := gate.User(); user != "" {
		body["license_user"] = user
		body["license_expires"] = gate.Expires().UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

// NotFound answers unknown routes
func (h *Handlers) NotFound(c *gin.Context) {
	respondError(c, errors.NotFound("no route for "+c.Request.Method+" "+c.Request.URL.Path))
}

func (h *Handlers) curveOf(spec *engine.CurveSpec, name string) (engine.CurveSpec, error) {
	switch {
	case spec != nil && name != "":
		return engine.CurveSpec{}, errors.InvalidInput(errors.CodeInvalidRequest, "give either curve or curve_name")
	case spec != nil:
		if err := h.validate.Struct(spec); err != nil {
			return engine.CurveSpec{}, invalidRequest(err)
		}
		return *spec, nil
	case name != "":
		return h.curves.GetCurve(name)
	}
	return engine.CurveSpec{}, errors.InvalidInput(errors.CodeInvalidRequest, "curve or curve_name is required")
}

func (h *Handlers) bondOf(spec *bond.Spec, name string) (*bond.Bond, error) {
	switch {
	case spec != nil && name != "":
		return nil, errors.InvalidInput(errors.CodeInvalidRequest, "give either bond or bond_name")
	case spec != nil:
		return spec.Build()
	case name != "":
		return h.bonds.GetBond(name)
	}
	return nil, errors.InvalidInput(errors.CodeInvalidRequest, "bond or bond_name is required")
}

// created answers with the description of a freshly stored lattice
func (h *Handlers) created(c *gin.Context, handle lattice.Handle) {
	info, err := h.engine.TreeInfo(handle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// FitLattice calibrates a lattice to a curve
func (h *Handlers) FitLattice(c *gin.Context) {
	var req LatticeRequest
	if !h.bind(c, &req) {
		return
	}
	spec, err := h.curveOf(req.Curve, req.CurveName)
	if err != nil {
		respondError(c, err)
		return
	}
	handle, err := h.engine.TreeFit(spec, req.Spread)
	if err != nil {
		respondError(c, err)
		return
	}
	h.log.Debugw("Lattice fitted", "handle", handle, "request_id", c.GetString(requestIDKey))
	h.created(c, handle)
}

// FitZeroLattice calibrates a zero-volatility lattice
func (h *Handlers) FitZeroLattice(c *gin.Context) {
	var req LatticeRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Spread != nil {
		respondError(c, errors.InvalidInput(errors.CodeInvalidRequest, "fit the spread with /lattices/:handle/spread"))
		return
	}
	spec, err := h.curveOf(req.Curve, req.CurveName)
	if err != nil {
		respondError(c, err)
		return
	}
	handle, err := h.engine.TreeFitZero(spec)
	if err != nil {
		respondError(c, err)
		return
	}
	h.created(c, handle)
}

// FitSpreadLattice refits a lattice with an issuer spread on top of its curve
func (h *Handlers) FitSpreadLattice(c *gin.Context) {
	base, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var spread engine.SpreadSpec
	if !h.bind(c, &spread) {
		return
	}
	handle, err := h.engine.TreeFitSpreads(base, spread)
	if err != nil {
		respondError(c, err)
		return
	}
	h.created(c, handle)
}

// ShiftLattice builds a shifted copy of a lattice
func (h *Handlers) ShiftLattice(c *gin.Context) {
	base, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req ShiftRequest
	if !h.bind(c, &req) {
		return
	}

	if req.Mode == "auto" {
		up, down, used, err := h.engine.TreeFitShiftAuto(base, req.BP)
		if err != nil {
			respondError(c, err)
			return
		}
		upInfo, err := h.engine.TreeInfo(up)
		if err != nil {
			respondError(c, err)
			return
		}
		downInfo, err := h.engine.TreeInfo(down)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"up": upInfo, "down": downInfo, "bp_used": used})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = "par"
	}
	handle, err := h.engine.TreeFitShift(base, req.BP, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	h.created(c, handle)
}

// GetLattice describes a lattice
func (h *Handlers) GetLattice(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	info, err := h.engine.TreeInfo(handle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ReleaseLattice drops the caller's reference to a lattice
func (h *Handlers) ReleaseLattice(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.engine.TreeRelease(handle); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ForwardRates returns forward par curves of a lattice at ?times=&maturities=
func (h *Handlers) ForwardRates(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	times, err := floatList(c, "times")
	if err != nil {
		respondError(c, err)
		return
	}
	mats, err := floatList(c, "maturities")
	if err != nil {
		respondError(c, err)
		return
	}
	rep, err := h.engine.FwdRates(handle, times, mats)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// CurveForwardRates returns forward par curves of an inline curve
func (h *Handlers) CurveForwardRates(c *gin.Context) {
	var req ForwardRequest
	if !h.bind(c, &req) {
		return
	}
	rep, err := h.engine.FwdRatesFromCurve(req.Curve, req.Times, req.Maturities)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// YieldVolatility returns the term structure of yield volatility at ?maturities=
func (h *Handlers) YieldVolatility(c *gin.Context) {
	handle, err := handleParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	mats, err := floatList(c, "maturities")
	if err != nil {
		respondError(c, err)
		return
	}
	rep, err := h.engine.YieldVol(handle, mats)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ListBonds returns the stored bond names
func (h *Handlers) ListBonds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bonds": h.bonds.ListBonds()})
}

// PutBond stores a bond under :name
func (h *Handlers) PutBond(c *gin.Context) {
	var spec bond.Spec
	if !h.bind(c, &spec) {
		return
	}
	name := c.Param("name")
	if err := h.bonds.SaveBond(name, spec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// GetBond returns the stored description of :name
func (h *Handlers) GetBond(c *gin.Context) {
	spec, err := h.bonds.GetSpec(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

// DeleteBond removes :name
func (h *Handlers) DeleteBond(c *gin.Context) {
	if err := h.bonds.DeleteBond(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCurves returns the stored curve names
func (h *Handlers) ListCurves(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"curves": h.curves.ListCurves()})
}

// PutCurve stores a curve under :name
func (h *Handlers) PutCurve(c *gin.Context) {
	var spec engine.CurveSpec
	if !h.bind(c, &spec) {
		return
	}
	name := c.Param("name")
	if err := h.curves.SaveCurve(name, spec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// GetCurve returns the stored curve :name
func (h *Handlers) GetCurve(c *gin.Context) {
	spec, err := h.curves.GetCurve(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

// DeleteCurve removes :name
func (h *Handlers) DeleteCurve(c *gin.Context) {
	if err := h.curves.DeleteCurve(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
