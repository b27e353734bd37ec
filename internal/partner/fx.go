package partner

import (
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"github.com/pedifacil/billing/internal/partner/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("partner.service",
	fx.Provide(
		repository.ProvideStore[partnerdomain.Partner],
		service.NewService,
	),
)
