// Command server runs the graph store HTTP API.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/graph"
	"github.com/emergent-company/emergent.graph/domain/health"
	"github.com/emergent-company/emergent.graph/domain/scheduler"
	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
	"github.com/emergent-company/emergent.graph/domain/tracing"
	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/internal/database"
	"github.com/emergent-company/emergent.graph/internal/migrate"
	"github.com/emergent-company/emergent.graph/internal/server"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

func main() {
	// Existing environment wins over .env; .env.local wins over both.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(app()).Run()
}

// app is the full module graph. Migrations are registered ahead of the
// server so the schema is current before the listener opens.
func app() fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,
		tracing.Module,

		health.Module,
		schemaregistry.Module,
		events.Module,
		graph.Module,
		scheduler.Module,
	)
}
