package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vitrinelabs/vitrine/internal/clock"
	"github.com/vitrinelabs/vitrine/internal/config"
	"github.com/vitrinelabs/vitrine/internal/migration"
	"github.com/vitrinelabs/vitrine/internal/observability"
	"github.com/vitrinelabs/vitrine/internal/server"
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
