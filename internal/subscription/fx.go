package subscription

import (
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"github.com/pedifacil/billing/internal/subscription/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(
		repository.ProvideStore[subscriptiondomain.Subscription],
		repository.ProvideStore[paymentdomain.Payment],
		service.NewService,
	),
)
