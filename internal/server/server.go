package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitrinelabs/vitrine/internal/audit"
	auditdomain "github.com/vitrinelabs/vitrine/internal/audit/domain"
	"github.com/vitrinelabs/vitrine/internal/billing"
	billingservice "github.com/vitrinelabs/vitrine/internal/billing/service"
	"github.com/vitrinelabs/vitrine/internal/config"
	"github.com/vitrinelabs/vitrine/internal/lock"
	"github.com/vitrinelabs/vitrine/internal/observability"
	obsmiddleware "github.com/vitrinelabs/vitrine/internal/observability/logger"
	obstracing "github.com/vitrinelabs/vitrine/internal/observability/tracing"
	"github.com/vitrinelabs/vitrine/internal/order"
	"github.com/vitrinelabs/vitrine/internal/payment"
	paymentservice "github.com/vitrinelabs/vitrine/internal/payment/service"
	paymentwebhook "github.com/vitrinelabs/vitrine/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	audit.Module,
	order.Module,
	billing.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(cors.Default())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	cfg        config.Config
	webhookSvc *paymentwebhook.Service
	paymentSvc *paymentservice.Service
	billingSvc *billingservice.Service
	auditSvc   auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	WebhookSvc *paymentwebhook.Service
	PaymentSvc *paymentservice.Service
	BillingSvc *billingservice.Service
	AuditSvc   auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		webhookSvc: p.WebhookSvc,
		paymentSvc: p.PaymentSvc,
		billingSvc: p.BillingSvc,
		auditSvc:   p.AuditSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/webhook-events", s.ListWebhookEvents)
	admin.GET("/audit-logs", s.ListAuditLogs)
	admin.GET("/transactions/:id", s.GetTransactionByID)
	admin.GET("/subscriptions/:id", s.GetSubscriptionByID)
}
