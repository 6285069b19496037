package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/store"
	"github.com/rzzdr/bond-oas-engine/internal/websocket"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Deps are the collaborators of the API server. Hub and Gatherer may be nil.
type Deps struct {
	Engine   *engine.Engine
	Bonds    *store.InMemoryBondStore
	Curves   *store.InMemoryCurveStore
	Hub      *websocket.Hub
	Recorder *metrics.Recorder
	Gatherer prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	config     config.APIConfig
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	deps       Deps
	log        *logger.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if deps.Bonds == nil {
		deps.Bonds = store.NewInMemoryBondStore()
	}
	if deps.Curves == nil {
		deps.Curves = store.NewInMemoryCurveStore()
	}

	s := &Server{
		config:   cfg,
		router:   gin.New(),
		handlers: NewHandlers(deps.Engine, deps.Bonds, deps.Curves),
		deps:     deps,
		log:      logger.GetLogger("api.server"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(
		RequestIDMiddleware(),
		RecoveryMiddleware(),
		LoggingMiddleware(),
		MetricsMiddleware(s.deps.Recorder),
		CORSMiddleware(),
		RateLimitMiddleware(s.config.RateLimit, s.config.Burst),
	)

	h := s.handlers
	s.router.GET("/health", h.Health)
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.deps.Gatherer)))
	}

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", h.Health)
	if s.deps.Hub != nil {
		v1.GET("/ws", gin.WrapF(s.deps.Hub.HandleWebSocket))
	}

	licensed := v1.Group("", LicenseMiddleware(s.deps.Engine.Gate()))

	lattices := licensed.Group("/lattices")
	lattices.POST("", h.FitLattice)
	lattices.POST("/zero", h.FitZeroLattice)
	lattices.POST("/:handle/spread", h.FitSpreadLattice)
	lattices.POST("/:handle/shift", h.ShiftLattice)
	lattices.GET("/:handle", h.GetLattice)
	lattices.GET("/:handle/forwards", h.ForwardRates)
	lattices.GET("/:handle/volatility", h.YieldVolatility)
	lattices.DELETE("/:handle", h.ReleaseLattice)
	licensed.POST("/forwards", h.CurveForwardRates)

	bonds := licensed.Group("/bonds")
	bonds.GET("", h.ListBonds)
	bonds.PUT("/:name", h.PutBond)
	bonds.GET("/:name", h.GetBond)
	bonds.DELETE("/:name", h.DeleteBond)

	curves := licensed.Group("/curves")
	curves.GET("", h.ListCurves)
	curves.PUT("/:name", h.PutCurve)
	curves.GET("/:name", h.GetCurve)
	curves.DELETE("/:name", h.DeleteCurve)

	vals := licensed.Group("/valuations")
	vals.POST("", h.Value)
	vals.POST("/price", h.Price)
	vals.POST("/oas", h.OAS)
	vals.POST("/accrued", h.Accrued)
	vals.POST("/flows", h.Flows)
	vals.POST("/yields", h.Yields)
	vals.POST("/worst", h.Worst)
	vals.POST("/convert", h.Convert)
	vals.POST("/spreads", h.Spreads)
	vals.POST("/keyrates", h.KeyRates)
	vals.POST("/keyrate", h.KeyRate)
	vals.POST("/scenario", h.Scenario)

	s.router.NoRoute(h.NotFound)
}
