package payment

import (
	"time"

	"github.com/pedifacil/billing/internal/config"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	"github.com/pedifacil/billing/internal/payment/mercadopago"
	"github.com/pedifacil/billing/internal/payment/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	if cfg.GatewayStub {
		log.Warn("payment gateway stub enabled; no real charges will be made")
		return mercadopago.NewStub()
	}
	return mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.GatewayBaseURL,
		AccessToken: cfg.GatewayAccessToken,
		Timeout:     time.Duration(cfg.GatewayTimeoutSec) * time.Second,
	}, log)
}

var Module = fx.Module("payment.service",
	fx.Provide(
		provideGateway,
		repository.ProvideStore[paymentdomain.PaymentEvent],
		service.NewService,
	),
)
