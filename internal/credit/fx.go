package credit

import (
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	"github.com/pedifacil/billing/internal/credit/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(
		repository.ProvideStore[creditdomain.Credit],
		service.NewService,
	),
)
