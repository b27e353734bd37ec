package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	"github.com/pedifacil/billing/internal/credit"
	"github.com/pedifacil/billing/internal/fee"
	"github.com/pedifacil/billing/internal/invoice"
	"github.com/pedifacil/billing/internal/joblock"
	"github.com/pedifacil/billing/internal/observability"
	"github.com/pedifacil/billing/internal/partner"
	"github.com/pedifacil/billing/internal/payment"
	"github.com/pedifacil/billing/internal/plan"
	"github.com/pedifacil/billing/internal/scheduler"
	"github.com/pedifacil/billing/internal/subscription"
	"github.com/pedifacil/billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services the jobs drive.
		scheduler.Module,
		partner.Module,
		fee.Module,
		credit.Module,
		invoice.Module,
		plan.Module,
		payment.Module,
		subscription.Module,
		joblock.Module,

		// No server module!
		fx.Invoke(scheduler.Run),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
