package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/bond"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/lattice"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/models"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

var secret = []byte("api-test")

func init() {
	gin.SetMode(gin.TestMode)
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		DurationMode:       "par",
		DurationBPPlain:    10,
		DurationBPOptions:  40,
		ScenarioEfficiency: 100,
		StepsPerYear:       12,
		HorizonYears:       30,
		SolverTolerance:    1e-8,
		SolverMaxIter:      200,
		NoticeDays:         30,
		YieldMethod:        "simple_last_period",
	}
}

func newServer(t *testing.T, authorize bool, api config.APIConfig) (*Server, *prometheus.Registry) {
	t.Helper()
	g := license.NewGate(secret)
	if authorize {
		key, err := license.Issue(secret, "desk", time.Now().Add(time.Hour), license.FeatureAll)
		require.NoError(t, err)
		require.NoError(t, g.Authorize("desk", key))
	}
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	e, err := engine.New(engineConfig(), g, nil, rec)
	require.NoError(t, err)
	return NewServer(api, Deps{Engine: e, Recorder: rec, Gatherer: reg}), reg
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func flatCurve() engine.CurveSpec {
	return engine.CurveSpec{
		Years:  []float64{0.5, 1, 2, 5, 10, 30},
		Values: []float64{5, 5, 5, 5, 5, 5},
	}
}

func bulletSpec() *bond.Spec {
	return &bond.Spec{Name: "ACME 5 23", Issue: 20130701, Maturity: 20230701, Coupon: 5}
}

func fit(t *testing.T, s *Server) uint64 {
	t.Helper()
	curve := flatCurve()
	rr := do(t, s, http.MethodPost, "/api/v1/lattices", LatticeRequest{Curve: &curve})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	info := decode[models.TreeInfo](t, rr)
	require.NotZero(t, info.Handle)
	return info.Handle
}

func TestLatticeLifecycle(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{})
	h := fit(t, s)
	path := fmt.Sprintf("/api/v1/lattices/%d", h)

	rr := do(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	info := decode[models.TreeInfo](t, rr)
	assert.Equal(t, 360, info.Steps)

	rr = do(t, s, http.MethodPost, path+"/shift", ShiftRequest{BP: 25})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodPost, path+"/shift", ShiftRequest{BP: 40, Mode: "auto"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	auto := decode[map[string]any](t, rr)
	assert.Equal(t, 40.0, auto["bp_used"])

	rr = do(t, s, http.MethodPost, path+"/spread", engine.SpreadSpec{Years: []float64{1, 10}, BPs: []float64{50, 50}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodGet, path+"/forwards?times=0,1&maturities=1,5", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	fwd := decode[models.ForwardReport](t, rr)
	require.Len(t, fwd.Rates, 2)
	assert.InDelta(t, 5, fwd.Rates[1][1], 0.05)

	rr = do(t, s, http.MethodGet, path+"/forwards?times=0,x&maturities=1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, s, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(errors.CodeInvalidLattice), decode[ErrorResponse](t, rr).Error.Code)

	rr = do(t, s, http.MethodGet, "/api/v1/lattices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestValuation(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{})
	h := fit(t, s)

	req := ValuationRequest{
		InputSpec: InputSpec{PVDate: 20130701, Bond: bulletSpec()},
		Quote:     engine.QuoteSpec{Type: "price", Value: 100},
	}
	req.Tree = lattice.Handle(h)

	rr := do(t, s, http.MethodPost, "/api/v1/valuations", req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decode[models.BondReport](t, rr)
	assert.InDelta(t, 0, rep.OAS, 1e-3)
	assert.InDelta(t, 100, rep.Price, 1e-6)
	assert.Equal(t, 10.0, rep.ShiftBP)
	assert.InDelta(t, 5, rep.Yields.YTM, 1e-4)

	t.Run("bad date", func(t *testing.T) {
		bad := req
		bad.PVDate = 20131301
		rr := do(t, s, http.MethodPost, "/api/v1/valuations", bad)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, string(errors.CodeInvalidPVDate), decode[ErrorResponse](t, rr).Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations", "{")
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, string(errors.CodeInvalidRequest), decode[ErrorResponse](t, rr).Error.Code)
	})

	t.Run("unknown quote", func(t *testing.T) {
		bad := req
		bad.Quote = engine.QuoteSpec{Type: "spread", Value: 1}
		rr := do(t, s, http.MethodPost, "/api/v1/valuations", bad)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, string(errors.CodeInvalidQuoteType), decode[ErrorResponse](t, rr).Error.Code)
	})

	t.Run("price and oas", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/price", PriceRequest{InputSpec: req.InputSpec})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.InDelta(t, 100, decode[map[string]float64](t, rr)["price"], 1e-3)

		rr = do(t, s, http.MethodPost, "/api/v1/valuations/oas", PriceInput{InputSpec: req.InputSpec, Price: 100})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.InDelta(t, 0, decode[map[string]float64](t, rr)["oas"], 1e-3)
	})

	t.Run("flows", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/flows", QuoteInput{InputSpec: req.InputSpec, Quote: req.Quote})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Len(t, decode[models.FlowReport](t, rr).Flows, 20)
	})

	t.Run("worst needs one input", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/worst", WorstRequest{InputSpec: req.InputSpec})
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		price := 100.0
		rr = do(t, s, http.MethodPost, "/api/v1/valuations/worst", WorstRequest{InputSpec: req.InputSpec, Price: &price})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, 20230701, decode[models.WorstReport](t, rr).Date)

		rr = do(t, s, http.MethodPost, "/api/v1/valuations/worst", WorstRequest{InputSpec: req.InputSpec, Price: &price, ToSink: true})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		worst := decode[models.WorstReport](t, rr)
		assert.Equal(t, []int{20230701}, worst.Dates)
		assert.Equal(t, 0, worst.Worst)
		require.Len(t, worst.Yields, 1)
		assert.InDelta(t, 5, worst.Yields[0], 1e-4)
	})

	t.Run("spreads", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/spreads", PriceInput{InputSpec: req.InputSpec, Price: 100})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode[map[string]float64](t, rr)
		assert.InDelta(t, 0, body["asset_swap_spread"], 0.5)
		assert.InDelta(t, 0, body["i_spread"], 0.5)
	})

	t.Run("convert", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/convert", ConvertRequest{InputSpec: req.InputSpec, Quote: req.Quote, To: "ytm"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.InDelta(t, 5, decode[map[string]any](t, rr)["value"], 1e-4)
	})

	t.Run("accrued", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/api/v1/valuations/accrued", AccruedRequest{PVDate: 20131001, Bond: bulletSpec()})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode[map[string]float64](t, rr)
		assert.InDelta(t, 1.25, body["accrued"], 1e-9)
		assert.Equal(t, 90.0, body["days"])
	})
}

func TestBondRegistry(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{})
	h := fit(t, s)

	rr := do(t, s, http.MethodPut, "/api/v1/bonds/ACME", bulletSpec())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/v1/bonds", nil)
	assert.Equal(t, []string{"ACME"}, decode[map[string][]string](t, rr)["bonds"])

	req := PriceInput{InputSpec: InputSpec{PVDate: 20130701, BondName: "ACME"}, Price: 100}
	req.Tree = lattice.Handle(h)
	rr = do(t, s, http.MethodPost, "/api/v1/valuations/yields", req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.InDelta(t, 5, decode[models.YieldReport](t, rr).YTM, 1e-4)

	both := req
	both.Bond = bulletSpec()
	rr = do(t, s, http.MethodPost, "/api/v1/valuations/yields", both)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodDelete, "/api/v1/bonds/ACME", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, s, http.MethodGet, "/api/v1/bonds/ACME", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCurveRegistry(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{})

	rr := do(t, s, http.MethodPut, "/api/v1/curves/usd", flatCurve())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodPost, "/api/v1/lattices/zero", LatticeRequest{CurveName: "usd"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 0.0, decode[models.TreeInfo](t, rr).Volatility)

	rr = do(t, s, http.MethodPost, "/api/v1/lattices", LatticeRequest{CurveName: "eur"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/v1/lattices", LatticeRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnlicensed(t *testing.T) {
	s, _ := newServer(t, false, config.APIConfig{})

	rr := do(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode[map[string]any](t, rr)["licensed"])

	curve := flatCurve()
	rr = do(t, s, http.MethodPost, "/api/v1/lattices", LatticeRequest{Curve: &curve})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddleware(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{RateLimit: 1, Burst: 2})

	rr := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, rr.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "trace-1")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "trace-1", rr.Header().Get(requestIDHeader))

	rr = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestNotFoundAndMetrics(t *testing.T) {
	s, _ := newServer(t, true, config.APIConfig{})

	rr := do(t, s, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "oas_api_requests_total"))
}
