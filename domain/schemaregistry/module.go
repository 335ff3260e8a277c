package schemaregistry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/pkg/logger"
)

// Module provides the schema registry domain
var Module = fx.Module("schemaregistry",
	fx.Provide(
		NewRepository,
		fx.Annotate(
			func(r *Repository) Store { return r },
			fx.As(new(Store)),
		),
		NewBus,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterInvalidationListener),
)

// RegisterInvalidationListener applies invalidations broadcast by other
// instances for the lifetime of the app.
func RegisterInvalidationListener(lc fx.Lifecycle, svc *Service, log *slog.Logger) {
	log = log.With(logger.Scope("schema.registry"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := svc.Listen(ctx); err != nil {
					log.Error("schema invalidation listener stopped", logger.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
