package sweep

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Toepfer-Lab/mmon-gcm/internal/invoke"
)

func newTestRunner(t *testing.T, opts Options) (*Runner, *invoke.MockCommandBuilder, *Plan) {
	t.Helper()
	exec := invoke.NewExecutor("localhost", "", "", false)
	mock := invoke.NewMockCommandBuilder()
	exec.SetBuilder(mock)

	plan, err := NewPlan(testPlanConfig())
	require.NoError(t, err)
	return NewRunner(exec, opts), mock, plan
}

func failWhen(match func(args []string) bool, code int) func(string, []string) *invoke.MockCommandExecutor {
	return func(name string, args []string) *invoke.MockCommandExecutor {
		if match(args) {
			return &invoke.MockCommandExecutor{Output: []byte("infeasible"), Err: &invoke.ExitError{Code: code}}
		}
		return &invoke.MockCommandExecutor{Output: []byte("ok")}
	}
}

func TestRunDefaultOnlyDispatchesReference(t *testing.T) {
	var progress bytes.Buffer
	r, mock, plan := newTestRunner(t, Options{Progress: &progress})

	res, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	require.Len(t, lines, 12)
	for i, task := range plan.Sweep {
		assert.Equal(t, task.OutputPath, lines[i])
	}

	built := mock.Built()
	require.Len(t, built, 1)
	assert.Equal(t, "python", built[0].Name)
	assert.Equal(t, append([]string{"runalternativemodes.py"}, plan.Reference.Args()...), built[0].Args)

	assert.Len(t, res.Dispatched(), 1)
	for _, tr := range res.Tasks[:12] {
		assert.Equal(t, TaskPlanned, tr.Status)
	}
	assert.Equal(t, 0, res.ExitCode())
}

func TestRunDispatchSweepCoresFour(t *testing.T) {
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true})

	_, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	built := mock.Built()
	require.Len(t, built, 13)

	var want [][]string
	for _, task := range plan.Sweep {
		want = append(want, append([]string{"runalternativemodes.py"}, task.Args()...))
	}
	var got [][]string
	for _, c := range built[:12] {
		assert.Equal(t, "python", c.Name)
		require.Len(t, c.Args, 9)
		assert.Equal(t, "4", c.Args[8])
		got = append(got, c.Args)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sweep invocations mismatch (-want +got):\n%s", diff)
	}

	ref := built[12].Args
	assert.Equal(t, []string{"blue", "True", "False", "4"}, ref[5:])
}

func TestRunContinuePolicy(t *testing.T) {
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Policy: FailureContinue})
	mock.ExecutorFactory = failWhen(func(args []string) bool { return args[5] == "white" }, 2)

	res, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	assert.Len(t, mock.Built(), 13)
	assert.Equal(t, 4, res.Failed())
	assert.Equal(t, 0, res.ExitCode(), "exit status follows the last invocation")

	for _, tr := range res.Tasks {
		if tr.Task.Combination.Light == LightWhite && !tr.Task.Reference {
			assert.Equal(t, TaskFailed, tr.Status)
			assert.Equal(t, 2, tr.ExitCode)
			assert.Equal(t, "infeasible", tr.Output)
		}
	}

	st := r.State()
	assert.Equal(t, StatusComplete, st.Status)
	assert.Equal(t, 13, st.CompletedTasks)
	assert.Equal(t, 4, st.FailedTasks)
}

func TestRunExitCodeFromFailingReference(t *testing.T) {
	r, mock, plan := newTestRunner(t, Options{})
	mock.ExecutorFactory = failWhen(func([]string) bool { return true }, 7)

	res, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode())
}

func TestRunFailFast(t *testing.T) {
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Policy: FailureFast})
	third := plan.Sweep[2].OutputPath
	mock.ExecutorFactory = failWhen(func(args []string) bool { return args[1] == third }, 1)

	res, err := r.Run(context.Background(), plan, "4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvocationFailed)

	assert.Len(t, mock.Built(), 3)
	assert.Equal(t, TaskSucceeded, res.Tasks[0].Status)
	assert.Equal(t, TaskFailed, res.Tasks[2].Status)
	for _, tr := range res.Tasks[3:] {
		assert.Equal(t, TaskSkipped, tr.Status, tr.Task.Label())
	}
	assert.Equal(t, 1, res.ExitCode())
	assert.Equal(t, StatusError, r.State().Status)
}

// lineCounter counts the progress lines written so far.
type lineCounter struct {
	mu    sync.Mutex
	lines int
}

func (c *lineCounter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines += bytes.Count(p, []byte("\n"))
	return len(p), nil
}

func (c *lineCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// seenAtDispatch records how many progress lines existed as each invocation ran.
func seenAtDispatch(mock *invoke.MockCommandBuilder, progress *lineCounter, fail func(args []string) bool) *[]int {
	var mu sync.Mutex
	seen := []int{}
	mock.ExecutorFactory = func(name string, args []string) *invoke.MockCommandExecutor {
		exec := &invoke.MockCommandExecutor{}
		if fail != nil && fail(args) {
			exec.Err = &invoke.ExitError{Code: 1}
		}
		exec.Hook = func() {
			mu.Lock()
			seen = append(seen, progress.count())
			mu.Unlock()
		}
		return exec
	}
	return &seen
}

func TestRunSequentialPrintsEachPathBeforeItsInvocation(t *testing.T) {
	var progress lineCounter
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Progress: &progress})
	seen := seenAtDispatch(mock, &progress, nil)

	_, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 12}
	if diff := cmp.Diff(want, *seen); diff != "" {
		t.Errorf("progress lines at dispatch mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFailFastPrintsOnlyAttemptedPaths(t *testing.T) {
	var progress lineCounter
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Policy: FailureFast, Progress: &progress})
	third := plan.Sweep[2].OutputPath
	seen := seenAtDispatch(mock, &progress, func(args []string) bool { return args[1] == third })

	_, err := r.Run(context.Background(), plan, "4")
	require.ErrorIs(t, err, ErrInvocationFailed)

	assert.Len(t, mock.Built(), 3)
	assert.Equal(t, 3, progress.count())
	assert.Equal(t, []int{1, 2, 3}, *seen)
}

func TestRunParallelPrintsNoMoreThanDispatched(t *testing.T) {
	var progress lineCounter
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Parallel: 3, Progress: &progress})
	seen := seenAtDispatch(mock, &progress, nil)

	_, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	require.Len(t, *seen, 13)
	for i, n := range (*seen)[:12] {
		// Printed paths never run more than Parallel ahead of finished invocations.
		assert.LessOrEqual(t, n, i+3, "invocation %d", i)
	}
}

func TestRunParallelBounded(t *testing.T) {
	var progress bytes.Buffer
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true, Parallel: 3, Progress: &progress})

	var inFlight, peak atomic.Int32
	mock.ExecutorFactory = func(name string, args []string) *invoke.MockCommandExecutor {
		return &invoke.MockCommandExecutor{Hook: func() {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}}
	}

	res, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	assert.Len(t, mock.Built(), 13)
	assert.LessOrEqual(t, peak.Load(), int32(3))

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	for i, task := range plan.Sweep {
		assert.Equal(t, task.OutputPath, lines[i])
	}
	for i, tr := range res.Tasks {
		assert.Equal(t, i, tr.Task.Index)
		assert.Equal(t, TaskSucceeded, tr.Status)
	}
	last := mock.LastCommand()
	require.NotNil(t, last)
	assert.Equal(t, plan.Reference.OutputPath, last.Args[1], "reference runs after the sweep")
}

func TestRunCancelled(t *testing.T) {
	r, mock, plan := newTestRunner(t, Options{DispatchSweep: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, plan, "4")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.Built())
	for _, tr := range res.Tasks {
		assert.Equal(t, TaskSkipped, tr.Status)
	}
}

func TestRunInProgress(t *testing.T) {
	r, _, plan := newTestRunner(t, Options{})
	r.state.Status = StatusRunning

	_, err := r.Run(context.Background(), plan, "4")
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunNilPlan(t *testing.T) {
	r, _, _ := newTestRunner(t, Options{})
	_, err := r.Run(context.Background(), nil, "4")
	assert.Error(t, err)
}

func TestRunTwiceIdentical(t *testing.T) {
	collect := func() [][]string {
		r, mock, plan := newTestRunner(t, Options{DispatchSweep: true})
		_, err := r.Run(context.Background(), plan, "4")
		require.NoError(t, err)
		var out [][]string
		for _, c := range mock.Built() {
			out = append(out, c.Args)
		}
		return out
	}
	if diff := cmp.Diff(collect(), collect()); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestRunnerCommandLine(t *testing.T) {
	r, _, plan := newTestRunner(t, Options{Program: "python3", Script: "/opt/mmon/runalternativemodes.py"})
	line := r.CommandLine(plan.Sweep[0])
	assert.True(t, strings.HasPrefix(line, "python3 /opt/mmon/runalternativemodes.py ../outputs/alternative_weighting/blue_constrained_ko.csv"))
	assert.True(t, strings.HasSuffix(line, "blue True True 4"))
}

type recordingPersister struct {
	mu       sync.Mutex
	started  []string
	tasks    []TaskResult
	complete []Status
	exit     int
}

func (p *recordingPersister) SaveRunStart(runID, cores string, plan *Plan, startedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, runID)
	return nil
}

func (p *recordingPersister) SaveTaskResult(runID string, result TaskResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, result)
	return nil
}

func (p *recordingPersister) SaveRunComplete(runID string, status Status, completedAt time.Time, exitCode int, errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete = append(p.complete, status)
	p.exit = exitCode
	return nil
}

func TestRunPersists(t *testing.T) {
	r, _, plan := newTestRunner(t, Options{DispatchSweep: true})
	p := &recordingPersister{}
	r.SetPersister(p)

	res, err := r.Run(context.Background(), plan, "4")
	require.NoError(t, err)

	assert.Equal(t, []string{res.RunID}, p.started)
	assert.Len(t, p.tasks, 13)
	assert.Equal(t, []Status{StatusComplete}, p.complete)
	assert.Equal(t, 0, p.exit)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailureContinue, p)

	p, err = ParseFailurePolicy("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, FailureFast, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
