package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/paperwell/metering/internal/billing"
	"github.com/paperwell/metering/internal/clock"
	"github.com/paperwell/metering/internal/config"
	"github.com/paperwell/metering/internal/idempotency"
	"github.com/paperwell/metering/internal/metrics"
	"github.com/paperwell/metering/internal/migration"
	"github.com/paperwell/metering/internal/ratelimit"
	"github.com/paperwell/metering/internal/scheduler"
	"github.com/paperwell/metering/internal/server"
	"github.com/paperwell/metering/pkg/db"
	"github.com/paperwell/metering/pkg/log"
	"github.com/paperwell/metering/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		telemetry.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		idempotency.Module,
		ratelimit.Module,
		billing.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
