// Package pipeline is a generic table-driven execution framework: an
// ExecutionPlan of Stages, each a group of Tasks run either in parallel
// or in sequence, with per-task/per-stage/total timing collected along
// the way.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/boxlite/internal/metrics"
)

// Task is an atomic unit of pipeline work. Implementations close over
// whatever shared state they read/write rather than receiving it
// through Run, so the same Task shape works whether it touches a box's
// init context, a registry handle, or nothing at all.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// ExecutionMode selects how a Stage's tasks run relative to each other.
type ExecutionMode int

const (
	Sequential ExecutionMode = iota
	Parallel
)

func (m ExecutionMode) String() string {
	if m == Parallel {
		return "parallel"
	}
	return "sequential"
}

// Stage groups tasks that share an execution mode.
type Stage struct {
	Tasks     []Task
	Execution ExecutionMode
}

// ParallelStage builds a Stage whose tasks run concurrently; the first
// task error cancels the rest via the shared context.
func ParallelStage(tasks ...Task) Stage {
	return Stage{Tasks: tasks, Execution: Parallel}
}

// SequentialStage builds a Stage whose tasks run one after another.
func SequentialStage(tasks ...Task) Stage {
	return Stage{Tasks: tasks, Execution: Sequential}
}

// ExecutionPlan is an ordered list of stages, selected ahead of time
// based on whatever state the caller is driving (a box's persisted
// status, in boxinit's case).
type ExecutionPlan struct {
	Stages []Stage
}

// Executor runs an ExecutionPlan to completion or first error.
type Executor struct{}

// Execute runs every stage in order. A Parallel stage uses errgroup so
// the first task error stops the group and is returned; tasks that had
// already finished still contribute their metrics.
func (Executor) Execute(ctx context.Context, plan ExecutionPlan) (*Metrics, error) {
	totalStart := time.Now()
	stageMetrics := make([]StageMetrics, 0, len(plan.Stages))

	for index, stage := range plan.Stages {
		stageTimer := metrics.NewTimer()

		var taskMetrics []TaskMetrics
		var err error
		switch stage.Execution {
		case Parallel:
			taskMetrics, err = runParallel(ctx, stage.Tasks)
		default:
			taskMetrics, err = runSequential(ctx, stage.Tasks)
		}

		metrics.ObservePipelineStage(fmt.Sprintf("%d-%s", index, stage.Execution), stageTimer)

		stageMetrics = append(stageMetrics, StageMetrics{
			Index:     index,
			Execution: stage.Execution,
			Duration:  stageTimer.Elapsed(),
			Tasks:     taskMetrics,
		})
		if err != nil {
			return &Metrics{TotalDuration: time.Since(totalStart), Stages: stageMetrics}, err
		}
	}

	return &Metrics{TotalDuration: time.Since(totalStart), Stages: stageMetrics}, nil
}

func runSequential(ctx context.Context, tasks []Task) ([]TaskMetrics, error) {
	metrics := make([]TaskMetrics, 0, len(tasks))
	for _, task := range tasks {
		start := time.Now()
		if err := task.Run(ctx); err != nil {
			return metrics, err
		}
		metrics = append(metrics, TaskMetrics{Name: task.Name(), Duration: time.Since(start)})
	}
	return metrics, nil
}

func runParallel(ctx context.Context, tasks []Task) ([]TaskMetrics, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]TaskMetrics, len(tasks))

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			start := time.Now()
			if err := task.Run(gctx); err != nil {
				return err
			}
			results[i] = TaskMetrics{Name: task.Name(), Duration: time.Since(start)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Keep metrics for whichever tasks did complete before the first
		// error; zero-value entries mark the ones that didn't.
		completed := make([]TaskMetrics, 0, len(results))
		for _, m := range results {
			if m.Name != "" {
				completed = append(completed, m)
			}
		}
		return completed, err
	}
	return results, nil
}
