package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/paperwell/metering/internal/billing/domain"
	"github.com/paperwell/metering/internal/config"
	"github.com/paperwell/metering/internal/metrics"
	"github.com/paperwell/metering/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(metrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	billingSvc    billingdomain.Service
	chargeLimiter *ratelimit.ChargeLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	BillingSvc    billingdomain.Service
	ChargeLimiter *ratelimit.ChargeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		billingSvc:    p.BillingSvc,
		chargeLimiter: p.ChargeLimiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	billing := api.Group("/billing", s.AccountRequired())
	{
		billing.GET("/eligibility", s.CheckEligibility)
		billing.GET("/balance", s.GetBalance)
	}

	api.POST("/operations/charge", s.AccountRequired(), s.ChargeRateLimit(), s.Charge)
	api.GET("/usage/stats", s.AccountRequired(), s.GetUsageStats)

	payments := api.Group("/payments")
	{
		payments.POST("/deposits", s.Deposit)
		payments.POST("/deposits/pending", s.CreatePendingDeposit)
		payments.POST("/webhooks/confirm", s.ConfirmDeposit)
		payments.POST("/webhooks/fail", s.FailDeposit)
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
