package boxinit

import (
	"context"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/layout"
	"github.com/cuemby/boxlite/internal/pipeline"
)

// BuildPlan selects the execution plan for ctx's box based on its
// persisted status, per the three shapes: fresh start, restart, and
// reattach to an already-running VM.
func BuildPlan(ctx *Context, home layout.Home) (pipeline.ExecutionPlan, error) {
	const op = "boxinit.BuildPlan"

	switch ctx.State.Status {
	case boxtypes.StatusStarting, boxtypes.StatusStopped:
		return pipeline.ExecutionPlan{Stages: []pipeline.Stage{
			pipeline.SequentialStage(&filesystemSetupTask{ctx: ctx, home: home}),
			pipeline.ParallelStage(
				&containerRootfsPrepTask{ctx: ctx},
				&guestRootfsInitTask{ctx: ctx},
			),
			pipeline.SequentialStage(&vmmSpawnTask{ctx: ctx}),
			pipeline.SequentialStage(&guestConnectTask{ctx: ctx}),
			pipeline.SequentialStage(&guestInitTask{ctx: ctx}),
		}}, nil

	case boxtypes.StatusRunning:
		return pipeline.ExecutionPlan{Stages: []pipeline.Stage{
			pipeline.SequentialStage(&vmmAttachTask{ctx: ctx}),
			pipeline.SequentialStage(&guestConnectTask{ctx: ctx}),
		}}, nil

	default:
		return pipeline.ExecutionPlan{}, boxerr.InvalidStatef(op,
			"box %s has no valid init plan from status %q", ctx.Config.ID, ctx.State.Status)
	}
}

// Run builds and executes the plan for ctx, disarming the cleanup
// guard on success and leaving it armed on failure. Callers own calling
// guard.Close(), which performs the rollback; Run never calls it itself
// so a caller inspecting a failure can still read ctx's partial outputs
// before the rollback runs.
func Run(c context.Context, ctx *Context, home layout.Home) (*pipeline.Metrics, error) {
	plan, err := BuildPlan(ctx, home)
	if err != nil {
		return nil, err
	}
	metrics, err := (pipeline.Executor{}).Execute(c, plan)
	if err != nil {
		return metrics, err
	}
	ctx.Guard.Disarm()
	return metrics, nil
}
