package invoice

import (
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	"github.com/pedifacil/billing/internal/invoice/service"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(
		repository.ProvideStore[invoicedomain.Invoice],
		service.NewService,
	),
)
