package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/nfsync/internal/config"
	"github.com/smallbiznis/nfsync/internal/ingestion"
	invoicedomain "github.com/smallbiznis/nfsync/internal/invoice/domain"
	obslogger "github.com/smallbiznis/nfsync/internal/observability/logger"
	obstracing "github.com/smallbiznis/nfsync/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(provideRunner),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Runner starts an ingestion run on demand.
type Runner interface {
	RunOnce(ctx context.Context) (ingestion.RunSummary, error)
}

func provideRunner(s *ingestion.Scheduler) Runner { return s }

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	invoiceSvc invoicedomain.Service
	runner     Runner
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	Runner     Runner
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http"),
		invoiceSvc: p.InvoiceSvc,
		runner:     p.Runner,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.POST("/ingestion/runs", s.TriggerRun)
	api.GET("/invoices/:number/:series", s.GetInvoiceByKey)
}
