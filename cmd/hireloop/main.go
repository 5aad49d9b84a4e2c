package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/hireloop/hireloop/internal/clock"
	"github.com/hireloop/hireloop/internal/config"
	"github.com/hireloop/hireloop/internal/logger"
	"github.com/hireloop/hireloop/internal/migration"
	"github.com/hireloop/hireloop/internal/observability"
	"github.com/hireloop/hireloop/internal/server"
	"github.com/hireloop/hireloop/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
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
