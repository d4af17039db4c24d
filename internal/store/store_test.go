package store

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Toepfer-Lab/mmon-gcm/internal/invoke"
	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
	"github.com/Toepfer-Lab/mmon-gcm/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.MigrateUp())
	return s
}

func testPlan(t *testing.T) *sweep.Plan {
	t.Helper()
	p, err := sweep.NewPlan(sweep.PlanConfig{
		BaseDir:     "../outputs/alternative_weighting",
		ModelPath:   "../models/4_stage_GC.json",
		WeightsPath: "../outputs/alternative_weighting/alternative_weights.csv",
		ParamsPath:  "../inputs/arabidopsis_parameters.csv",
		Cores:       "4",
	})
	require.NoError(t, err)
	return p
}

func TestMigrations(t *testing.T) {
	s, err := Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	defer s.Close()

	v, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp())
	v, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	v, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	plan := testPlan(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRunStart("run-1", "4", plan, started))

	ref := sweep.TaskResult{
		Task:        *plan.Reference,
		Status:      sweep.TaskFailed,
		CommandLine: "python runalternativemodes.py ...",
		ExitCode:    2,
		Output:      "infeasible",
		StartedAt:   started.Add(time.Minute),
		Duration:    1500 * time.Millisecond,
		Error:       "python: exit status 2",
	}
	first := sweep.TaskResult{Task: plan.Sweep[0], Status: sweep.TaskSucceeded, StartedAt: started, Duration: time.Second}
	require.NoError(t, s.SaveTaskResult("run-1", ref))
	require.NoError(t, s.SaveTaskResult("run-1", first))
	require.NoError(t, s.SaveRunComplete("run-1", sweep.StatusComplete, started.Add(2*time.Minute), 2, ""))

	rec, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "4", rec.Cores)
	assert.Equal(t, "complete", rec.Status)
	assert.Equal(t, 13, rec.TotalTasks)
	assert.True(t, rec.StartedAt.Equal(started))
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 2, *rec.ExitCode)

	var tasks []sweep.Task
	require.NoError(t, json.Unmarshal(rec.Plan, &tasks))
	assert.Len(t, tasks, 13)

	require.Len(t, rec.Invocations, 2)
	assert.Equal(t, 0, rec.Invocations[0].TaskIndex, "invocations are returned in plan order")
	got := rec.Invocations[1]
	assert.True(t, got.Reference)
	assert.Equal(t, "blue", got.LightColour)
	assert.Equal(t, "True", got.ATPaseConstrained)
	assert.Equal(t, "False", got.StarchKnockout)
	assert.Equal(t, "../outputs/alternative_weighting/blue_unconstrained_wt.csv", got.OutputPath)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, 2, got.ExitCode)
	assert.Equal(t, "infeasible", got.Output)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, "python: exit status 2", got.Error)
}

func TestSaveTaskResultReplaces(t *testing.T) {
	s := newTestStore(t)
	plan := testPlan(t)
	require.NoError(t, s.SaveRunStart("run-1", "4", plan, time.Now()))

	tr := sweep.TaskResult{Task: plan.Sweep[3], Status: sweep.TaskFailed, ExitCode: 1}
	require.NoError(t, s.SaveTaskResult("run-1", tr))
	tr.Status = sweep.TaskSucceeded
	tr.ExitCode = 0
	require.NoError(t, s.SaveTaskResult("run-1", tr))

	rec, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Len(t, rec.Invocations, 1)
	assert.Equal(t, "succeeded", rec.Invocations[0].Status)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.LatestRun()
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.SaveRunComplete("missing", sweep.StatusComplete, time.Now(), 0, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRunStart(id, "4", nil, base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
	assert.Nil(t, runs[0].ExitCode)
	assert.Nil(t, runs[0].CompletedAt)

	all, err := s.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "c", latest.RunID)
}

func TestStoreAsPersister(t *testing.T) {
	s := newTestStore(t)
	plan := testPlan(t)

	// With dispatch disabled only the reference task reaches the solver.
	exec := invoke.NewExecutor("localhost", "", "", false)
	exec.SetBuilder(invoke.NewMockCommandBuilder())
	r := sweep.NewRunner(exec, sweep.Options{})
	r.SetPersister(s)

	res, err := r.Run(t.Context(), plan, "4")
	require.NoError(t, err)

	rec, err := s.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "complete", rec.Status)
	require.Len(t, rec.Invocations, 1)
	assert.Equal(t, 12, rec.Invocations[0].TaskIndex)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		testErr := errors.New("some other error")
		err := retryOnBusy(func() error {
			calls++
			return testErr
		})
		assert.Equal(t, testErr, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		assert.Error(t, err)
		assert.Equal(t, maxBusyRetries, calls)
	})
}

// localHostRequest appears to come from loopback so tsweb allows debug access.
func localHostRequest(method, path string) *http.Request {
	req := testutil.NewTestRequest(method, path)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRunStart("run-1", "4", nil, time.Now()))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	w := testutil.NewTestRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/runs"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var runs []RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestHandleRuns(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		body   string
	}{
		{"empty list", http.MethodGet, "/debug/runs", http.StatusOK, "[]\n"},
		{"bad limit", http.MethodGet, "/debug/runs?limit=x", http.StatusBadRequest, ""},
		{"negative limit", http.MethodGet, "/debug/runs?limit=-1", http.StatusBadRequest, ""},
		{"post", http.MethodPost, "/debug/runs", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.handleRuns(w, httptest.NewRequest(tt.method, tt.path, nil))
			testutil.AssertStatusCode(t, w.Code, tt.want)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
