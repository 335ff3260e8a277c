package graph

import (
	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
)

// Module provides the object and relationship store, its HTTP surface and the
// lineage auditor the scheduler runs.
var Module = fx.Module("graph",
	fx.Provide(
		NewRepository,
		NewService,
		NewAuditor,
		NewHandler,
		func(s *schemaregistry.Service) SchemaResolver { return s },
		func(s *events.Service) EventPublisher { return s },
	),
	fx.Invoke(RegisterRoutes),
)
