package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vitrinelabs/vitrine/internal/audit"
	"github.com/vitrinelabs/vitrine/internal/billing"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"github.com/vitrinelabs/vitrine/internal/config"
	"github.com/vitrinelabs/vitrine/internal/migration"
	"github.com/vitrinelabs/vitrine/internal/observability"
	"github.com/vitrinelabs/vitrine/internal/scheduler"
	"github.com/vitrinelabs/vitrine/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domain services required by the sweeps.
		audit.Module,
		billing.Module,

		// No server module.
		scheduler.Module,
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
