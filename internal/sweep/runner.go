package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Toepfer-Lab/mmon-gcm/internal/invoke"
	"github.com/Toepfer-Lab/mmon-gcm/internal/monitoring"
)

var (
	// ErrInvocationFailed marks a solver run that exited non-zero or could
	// not be started.
	ErrInvocationFailed = errors.New("solver invocation failed")
	// ErrRunInProgress is returned when Run is called on a busy Runner.
	ErrRunInProgress = errors.New("sweep already in progress")
)

// Status represents the current state of a sweep run
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// FailurePolicy decides what happens after a solver invocation fails.
type FailurePolicy string

const (
	// FailureContinue records the failure and carries on with the next task.
	FailureContinue FailurePolicy = "continue"
	// FailureFast stops scheduling new tasks after the first failure. Tasks
	// already running are allowed to finish.
	FailureFast FailurePolicy = "fail-fast"
)

// ParseFailurePolicy validates a policy name; empty selects FailureContinue.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.TrimSpace(s)); p {
	case "":
		return FailureContinue, nil
	case FailureContinue, FailureFast:
		return p, nil
	}
	return "", fmt.Errorf("failure policy %q: must be continue or fail-fast", s)
}

// TaskStatus is the outcome of a single task.
type TaskStatus string

const (
	// TaskPlanned tasks were listed but dispatch was disabled.
	TaskPlanned   TaskStatus = "planned"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	// TaskSkipped tasks were never started because the run stopped early.
	TaskSkipped TaskStatus = "skipped"
)

// TaskResult is the outcome of one planned task.
type TaskResult struct {
	Task        Task          `json:"task"`
	Status      TaskStatus    `json:"status"`
	CommandLine string        `json:"command_line,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Output      string        `json:"output,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Dispatched reports whether the solver was actually invoked.
func (r TaskResult) Dispatched() bool {
	return r.Status == TaskSucceeded || r.Status == TaskFailed
}

// RunResult collects every task outcome of a run in plan order.
type RunResult struct {
	RunID       string       `json:"run_id"`
	Cores       string       `json:"cores"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Tasks       []TaskResult `json:"tasks"`
}

// Dispatched returns the results of tasks that invoked the solver.
func (r *RunResult) Dispatched() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Dispatched() {
			out = append(out, t)
		}
	}
	return out
}

// Failed counts failed invocations.
func (r *RunResult) Failed() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == TaskFailed {
			n++
		}
	}
	return n
}

// ExitCode is the exit status of the last dispatched task in plan order, or
// 0 when nothing was dispatched. Unknown statuses are reported as 1.
func (r *RunResult) ExitCode() int {
	d := r.Dispatched()
	if len(d) == 0 {
		return 0
	}
	code := d[len(d)-1].ExitCode
	if code < 0 {
		return 1
	}
	return code
}

// Invoker runs the solver. *invoke.Executor satisfies it.
type Invoker interface {
	Run(ctx context.Context, name string, args ...string) (invoke.Result, error)
	CommandLine(name string, args ...string) string
}

// Persister stores run history. Errors are logged, never fatal to a run.
type Persister interface {
	SaveRunStart(runID, cores string, plan *Plan, startedAt time.Time) error
	SaveTaskResult(runID string, result TaskResult) error
	SaveRunComplete(runID string, status Status, completedAt time.Time, exitCode int, errMsg string) error
}

// Options control how a plan is dispatched.
type Options struct {
	// Program and Script form the solver command: Program Script args...
	Program string
	Script  string

	// DispatchSweep enables solver calls for the sweep tasks. The reference
	// task is always dispatched.
	DispatchSweep bool

	// Parallel bounds concurrent sweep invocations; values below 1 mean 1.
	Parallel int

	Policy FailurePolicy

	// Progress receives one line per sweep combination: its output path.
	Progress io.Writer
}

// State is a point-in-time view of the runner.
type State struct {
	Status         Status     `json:"status"`
	RunID          string     `json:"run_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	Error          string     `json:"error,omitempty"`
}

// Runner dispatches a Plan to the solver.
type Runner struct {
	invoker   Invoker
	opts      Options
	persister Persister

	mu    sync.RWMutex
	state State
}

// NewRunner creates a new sweep runner
func NewRunner(invoker Invoker, opts Options) *Runner {
	if opts.Program == "" {
		opts.Program = "python"
	}
	if opts.Script == "" {
		opts.Script = "runalternativemodes.py"
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if opts.Policy == "" {
		opts.Policy = FailureContinue
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	return &Runner{
		invoker: invoker,
		opts:    opts,
		state:   State{Status: StatusIdle},
	}
}

// SetPersister attaches run history storage.
func (r *Runner) SetPersister(p Persister) {
	r.persister = p
}

// State returns a copy of the current runner state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// CommandLine returns the solver command line for a task.
func (r *Runner) CommandLine(t Task) string {
	return r.invoker.CommandLine(r.opts.Program, r.solverArgv(t)...)
}

// Run executes the plan: sweep tasks in plan order (bounded by Parallel),
// then the reference task. Progress lines are written in plan order, each
// just before its task is dispatched.
func (r *Runner) Run(ctx context.Context, plan *Plan, cores string) (*RunResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}
	tasks := plan.Tasks()

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	now := time.Now()
	runID := uuid.New().String()
	r.state = State{
		Status:     StatusRunning,
		RunID:      runID,
		StartedAt:  &now,
		TotalTasks: len(tasks),
	}
	r.mu.Unlock()

	res := &RunResult{
		RunID:     runID,
		Cores:     cores,
		StartedAt: now,
		Tasks:     make([]TaskResult, len(tasks)),
	}
	for i, t := range tasks {
		res.Tasks[i] = TaskResult{Task: t, Status: TaskSkipped}
	}

	if r.persister != nil {
		if err := r.persister.SaveRunStart(runID, cores, plan, now); err != nil {
			monitoring.Logf("[sweep] WARNING: failed to persist run start: %v", err)
		}
	}

	monitoring.Logf("[sweep] Run %s: %d combinations (dispatch=%v, parallel=%d, policy=%s)",
		runID, len(plan.Sweep), r.opts.DispatchSweep, r.opts.Parallel, r.opts.Policy)

	var (
		stopped atomic.Bool
		wg      sync.WaitGroup
	)
	slots := semaphore.NewWeighted(int64(r.opts.Parallel))

	for _, t := range plan.Sweep {
		if ctx.Err() != nil {
			break
		}
		if !r.opts.DispatchSweep {
			fmt.Fprintln(r.opts.Progress, t.OutputPath)
			res.Tasks[t.Index].Status = TaskPlanned
			r.markDone(TaskPlanned)
			continue
		}

		// A path is printed only once its invocation holds a slot, so with
		// Parallel == 1 each line follows the previous invocation's exit.
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil || stopped.Load() {
			slots.Release(1)
			break
		}
		fmt.Fprintln(r.opts.Progress, t.OutputPath)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			tr := r.execute(ctx, t, len(tasks))
			res.Tasks[t.Index] = tr
			if tr.Status == TaskFailed && r.opts.Policy == FailureFast {
				stopped.Store(true)
			}
		}()
	}
	wg.Wait()

	if plan.Reference != nil && ctx.Err() == nil && !stopped.Load() {
		ref := *plan.Reference
		monitoring.Logf("[sweep] Reference run %s -> %s", ref.Combination, ref.OutputPath)
		res.Tasks[ref.Index] = r.execute(ctx, ref, len(tasks))
	}

	res.CompletedAt = time.Now()
	runErr := r.runError(ctx, res)

	status := StatusComplete
	errMsg := ""
	if runErr != nil {
		status = StatusError
		errMsg = runErr.Error()
	}

	r.mu.Lock()
	r.state.Status = status
	r.state.CompletedAt = &res.CompletedAt
	r.state.Error = errMsg
	r.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.SaveRunComplete(runID, status, res.CompletedAt, res.ExitCode(), errMsg); err != nil {
			monitoring.Logf("[sweep] WARNING: failed to persist run completion: %v", err)
		}
	}

	monitoring.Logf("[sweep] Run %s finished: %d dispatched, %d failed, exit=%d",
		runID, len(res.Dispatched()), res.Failed(), res.ExitCode())
	return res, runErr
}

// runError reports cancellation, or the failures when the policy is fail-fast.
// Under FailureContinue failures surface only through RunResult.ExitCode.
func (r *Runner) runError(ctx context.Context, res *RunResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sweep stopped: %w", err)
	}
	if r.opts.Policy != FailureFast {
		return nil
	}
	var errs []error
	for _, t := range res.Tasks {
		if t.Status == TaskFailed {
			errs = append(errs, fmt.Errorf("%s: %w", t.Task.Label(), ErrInvocationFailed))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) execute(ctx context.Context, t Task, total int) TaskResult {
	out, err := r.invoker.Run(ctx, r.opts.Program, r.solverArgv(t)...)
	tr := TaskResult{
		Task:        t,
		Status:      TaskSucceeded,
		CommandLine: out.CommandLine,
		ExitCode:    out.ExitCode,
		Output:      string(out.Output),
		StartedAt:   out.StartedAt,
		Duration:    out.Duration,
	}
	if err != nil {
		tr.Status = TaskFailed
		tr.Error = err.Error()
		if tr.ExitCode == 0 {
			tr.ExitCode = invoke.ExitCodeUnknown
		}
		monitoring.Logf("[sweep] ERROR: %s failed (exit %d): %v", t.Label(), tr.ExitCode, err)
	}

	done := r.markDone(tr.Status)
	monitoring.Logf("[sweep] %d/%d %s: %s in %s", done, total, t.Label(), tr.Status, tr.Duration.Round(time.Millisecond))

	if r.persister != nil {
		if perr := r.persister.SaveTaskResult(r.State().RunID, tr); perr != nil {
			monitoring.Logf("[sweep] WARNING: failed to persist task %d: %v", t.Index, perr)
		}
	}
	return tr
}

func (r *Runner) markDone(s TaskStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CompletedTasks++
	if s == TaskFailed {
		r.state.FailedTasks++
	}
	return r.state.CompletedTasks
}

func (r *Runner) solverArgv(t Task) []string {
	return append([]string{r.opts.Script}, t.Args()...)
}
