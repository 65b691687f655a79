package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	name     string
	sleep    time.Duration
	fail     error
	executed *atomic.Int32
}

func (t *fakeTask) Name() string { return t.name }

func (t *fakeTask) Run(ctx context.Context) error {
	if t.sleep > 0 {
		select {
		case <-time.After(t.sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.executed != nil {
		t.executed.Add(1)
	}
	return t.fail
}

func TestExecuteSequentialRunsInOrder(t *testing.T) {
	var order []string
	plan := ExecutionPlan{Stages: []Stage{
		SequentialStage(
			recordingTask("a", &order),
			recordingTask("b", &order),
			recordingTask("c", &order),
		),
	}}

	metrics, err := Executor{}.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Len(t, metrics.Stages, 1)
	assert.Len(t, metrics.Stages[0].Tasks, 3)
}

func recordingTask(name string, order *[]string) Task {
	return &recorder{name: name, order: order}
}

type recorder struct {
	name  string
	order *[]string
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) Run(ctx context.Context) error {
	*r.order = append(*r.order, r.name)
	return nil
}

func TestExecuteParallelRunsAllTasks(t *testing.T) {
	var executed atomic.Int32
	plan := ExecutionPlan{Stages: []Stage{
		ParallelStage(
			&fakeTask{name: "a", executed: &executed},
			&fakeTask{name: "b", executed: &executed},
			&fakeTask{name: "c", executed: &executed},
		),
	}}

	metrics, err := Executor{}.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.EqualValues(t, 3, executed.Load())
	assert.Len(t, metrics.Stages[0].Tasks, 3)
}

func TestExecuteStopsOnFirstStageError(t *testing.T) {
	boom := errors.New("boom")
	var secondStageRan atomic.Int32
	plan := ExecutionPlan{Stages: []Stage{
		SequentialStage(&fakeTask{name: "fails", fail: boom}),
		SequentialStage(&fakeTask{name: "never", executed: &secondStageRan}),
	}}

	_, err := Executor{}.Execute(context.Background(), plan)
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, secondStageRan.Load())
}

func TestExecuteParallelFailFastCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	plan := ExecutionPlan{Stages: []Stage{
		ParallelStage(
			&fakeTask{name: "fails", fail: boom},
			&fakeTask{name: "slow", sleep: 200 * time.Millisecond},
		),
	}}

	start := time.Now()
	_, err := Executor{}.Execute(context.Background(), plan)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, boom)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestMetricsTaskDurationLooksUpAcrossStages(t *testing.T) {
	plan := ExecutionPlan{Stages: []Stage{
		SequentialStage(&fakeTask{name: "one"}),
		ParallelStage(&fakeTask{name: "two"}),
	}}

	metrics, err := Executor{}.Execute(context.Background(), plan)
	require.NoError(t, err)

	_, ok := metrics.TaskDuration("two")
	assert.True(t, ok)
	_, ok = metrics.TaskDuration("missing")
	assert.False(t, ok)
}
