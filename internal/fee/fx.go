package fee

import (
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	"github.com/pedifacil/billing/internal/fee/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("fee.service",
	fx.Provide(
		repository.ProvideStore[feedomain.Fee],
		service.NewService,
	),
)
