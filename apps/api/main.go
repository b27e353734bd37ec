package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	"github.com/pedifacil/billing/internal/migration"
	"github.com/pedifacil/billing/internal/observability"
	"github.com/pedifacil/billing/internal/server"
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
		migration.Module,

		// server.Module pulls in every billing domain module and starts
		// the HTTP listener. The daily jobs run in the scheduler binary.
		server.Module,
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
