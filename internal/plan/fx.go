package plan

import (
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	"github.com/pedifacil/billing/internal/plan/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(
		repository.ProvideStore[plandomain.Plan],
		service.NewService,
	),
)
