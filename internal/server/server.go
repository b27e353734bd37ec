package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/pedifacil/billing/internal/accessblock"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	"github.com/pedifacil/billing/internal/credit"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	"github.com/pedifacil/billing/internal/fee"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	"github.com/pedifacil/billing/internal/invoice"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	"github.com/pedifacil/billing/internal/joblock"
	obslogger "github.com/pedifacil/billing/internal/observability/logger"
	obstracing "github.com/pedifacil/billing/internal/observability/tracing"
	"github.com/pedifacil/billing/internal/partner"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"github.com/pedifacil/billing/internal/payment"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	"github.com/pedifacil/billing/internal/plan"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	"github.com/pedifacil/billing/internal/subscription"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	partner.Module,
	fee.Module,
	credit.Module,
	invoice.Module,
	accessblock.Module,
	plan.Module,
	payment.Module,
	subscription.Module,
	joblock.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
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

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	engine          *gin.Engine
	cfg             config.Config
	billingCfg      *config.BillingConfigHolder
	genID           *snowflake.Node
	clock           clock.Clock
	partnerSvc      partnerdomain.Service
	feeSvc          feedomain.Service
	creditSvc       creditdomain.Service
	invoiceSvc      invoicedomain.Service
	accessBlockSvc  *accessblock.Service
	planSvc         plandomain.Service
	paymentSvc      paymentdomain.Service
	subscriptionSvc subscriptiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	BillingCfg      *config.BillingConfigHolder
	GenID           *snowflake.Node
	Clock           clock.Clock
	PartnerSvc      partnerdomain.Service
	FeeSvc          feedomain.Service
	CreditSvc       creditdomain.Service
	InvoiceSvc      invoicedomain.Service
	AccessBlockSvc  *accessblock.Service
	PlanSvc         plandomain.Service
	PaymentSvc      paymentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		billingCfg:      p.BillingCfg,
		genID:           p.GenID,
		clock:           p.Clock,
		partnerSvc:      p.PartnerSvc,
		feeSvc:          p.FeeSvc,
		creditSvc:       p.CreditSvc,
		invoiceSvc:      p.InvoiceSvc,
		accessBlockSvc:  p.AccessBlockSvc,
		planSvc:         p.PlanSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/fees", s.CreateFee)
	v1.PATCH("/fees/:id", s.UpdateFee)
	v1.GET("/fees/:id", s.GetFee)
	v1.GET("/partners/:partner_id/fees/summary", s.FeeSummary)

	v1.POST("/credits", s.CreateCredit)
	v1.GET("/partners/:partner_id/credits", s.ListAvailableCredits)

	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.POST("/invoices/:id/payment", s.GenerateInvoicePayment)
	v1.POST("/invoices/:id/check-status", s.CheckInvoicePaymentStatus)

	v1.GET("/access-block", s.CheckAccessBlock)

	v1.GET("/plans", s.ListPlans)
	v1.POST("/subscriptions", s.CreateSubscription)
	v1.GET("/partners/:partner_id/subscription", s.GetActiveSubscription)
	v1.POST("/partners/:partner_id/subscription/pause", s.PauseSubscription)
	v1.POST("/partners/:partner_id/subscription/resume", s.ResumeSubscription)
	v1.POST("/partners/:partner_id/subscription/cancel", s.CancelSubscription)
	v1.POST("/partners/:partner_id/cards", s.SaveCard)
	v1.GET("/partners/:partner_id/cards", s.ListCards)
	v1.DELETE("/partners/:partner_id/cards/:card_id", s.RemoveCard)

	v1.POST("/jobs/repair-settlement", s.RepairSettlement)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/mercadopago", s.MercadoPagoWebhook)
}
