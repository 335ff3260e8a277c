package scheduler

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/domain/graph"
	"github.com/emergent-company/emergent.graph/internal/config"
)

// LineageAuditTaskName is the name the nightly audit is scheduled under.
const LineageAuditTaskName = "lineage_audit"

// Module schedules background maintenance. With SCHEDULER_ENABLED=false the
// scheduler is still provided, for the metrics endpoint, but never started.
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(Register),
)

// Params are the dependencies of Register.
type Params struct {
	fx.In

	LC        fx.Lifecycle
	Scheduler *Scheduler
	Auditor   *graph.Auditor
	Log       *slog.Logger
	Cfg       *config.Config
}

// Register schedules the tasks and ties the scheduler to the app lifecycle.
func Register(p Params) error {
	if !p.Cfg.Scheduler.Enabled {
		p.Log.Info("scheduler disabled")
		return nil
	}

	audit := NewLineageAuditTask(p.Auditor, p.Log)
	if err := p.Scheduler.AddCronTask(LineageAuditTaskName, p.Cfg.Scheduler.AuditSchedule, audit.Run); err != nil {
		return err
	}

	p.LC.Append(fx.Hook{
		OnStart: p.Scheduler.Start,
		OnStop:  p.Scheduler.Stop,
	})
	return nil
}

var _ LineageAuditor = (*graph.Auditor)(nil)

