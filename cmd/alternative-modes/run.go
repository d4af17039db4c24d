package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/config"
	"github.com/Toepfer-Lab/mmon-gcm/internal/invoke"
	"github.com/Toepfer-Lab/mmon-gcm/internal/monitoring"
	"github.com/Toepfer-Lab/mmon-gcm/internal/report"
	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
)

// runFlags are shared by the root command and "run". Set flags override
// the config file.
type runFlags struct {
	configPath      string
	dispatchSweep   bool
	referenceLabels string
	failurePolicy   string
	parallel        int
	timeout         time.Duration
	dryRun          bool
	target          string
	sshUser         string
	sshKey          string
	program         string
	script          string
	manifest        string
	db              string
	reportDir       string
	verbose         bool
}

// registerPlan adds the flags that shape the plan and its command lines.
func (f *runFlags) registerPlan(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "Driver config file (.json or .hujson)")
	fs.BoolVar(&f.dispatchSweep, "dispatch-sweep", false, "Invoke the solver for every sweep combination, not only the reference run")
	fs.StringVar(&f.referenceLabels, "reference-labels", "last", "Labels naming the reference output: last, own or none")
	fs.StringVar(&f.target, "target", "localhost", "Host to run the solver on (SSH when not local)")
	fs.StringVar(&f.sshUser, "ssh-user", "", "SSH user for a remote target")
	fs.StringVar(&f.sshKey, "ssh-key", "", "SSH private key for a remote target")
	fs.StringVar(&f.program, "program", config.DefaultProgram, "Interpreter used to start the solver")
	fs.StringVar(&f.script, "script", config.DefaultScript, "Solver script")
}

// register adds the plan flags plus those that only matter when running.
func (f *runFlags) register(cmd *cobra.Command) {
	f.registerPlan(cmd)
	fs := cmd.Flags()
	fs.StringVar(&f.failurePolicy, "failure-policy", "continue", "After a failed invocation: continue or fail-fast")
	fs.IntVar(&f.parallel, "parallel", 1, "Maximum concurrent sweep invocations")
	fs.DurationVar(&f.timeout, "timeout", 0, "Per-invocation timeout (0 = none)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print the solver command lines without executing them")
	fs.StringVar(&f.manifest, "manifest", "", "Write a results manifest CSV to this path")
	fs.StringVar(&f.db, "db", "", "Record the run in this SQLite database")
	fs.StringVar(&f.reportDir, "report-dir", "", "Write an HTML/PNG run report into this directory")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every solver command")
}

// load reads the config file, if any, and applies explicitly set flags.
// Flags the command did not register are never Changed.
func (f *runFlags) load(cmd *cobra.Command) (*config.DriverConfig, error) {
	cfg := config.EmptyDriverConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadDriverConfig(f.configPath); err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("dispatch-sweep", func() { cfg.DispatchSweep = &f.dispatchSweep })
	set("reference-labels", func() { cfg.ReferenceLabels = &f.referenceLabels })
	set("failure-policy", func() { cfg.FailurePolicy = &f.failurePolicy })
	set("parallel", func() { cfg.Parallel = &f.parallel })
	set("timeout", func() {
		s := f.timeout.String()
		cfg.Timeout = &s
	})
	set("target", func() { cfg.Target = &f.target })
	set("ssh-user", func() { cfg.SSHUser = &f.sshUser })
	set("ssh-key", func() { cfg.SSHKey = &f.sshKey })
	set("program", func() { cfg.Program = &f.program })
	set("script", func() { cfg.Script = &f.script })
	set("manifest", func() { cfg.ManifestPath = &f.manifest })
	set("db", func() { cfg.DatabasePath = &f.db })
	set("report-dir", func() { cfg.ReportDir = &f.reportDir })

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *app) newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <cores>",
		Short: "Run the sweep and the reference invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSweep(cmd, &f, args[0])
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) newExecutor(cfg *config.DriverConfig, dryRun, verbose bool) *invoke.Executor {
	exec := invoke.NewExecutor(cfg.GetTarget(), cfg.GetSSHUser(), cfg.GetSSHKey(), dryRun)
	exec.Timeout = cfg.GetTimeout()
	if verbose {
		exec.SetLogger(monitoring.Prefixed("[invoke] "))
	}
	if a.builder != nil {
		exec.SetBuilder(a.builder)
	}
	return exec
}

func (a *app) newRunner(cfg *config.DriverConfig, exec *invoke.Executor) (*sweep.Runner, error) {
	policy, err := sweep.ParseFailurePolicy(cfg.GetFailurePolicy())
	if err != nil {
		return nil, err
	}
	return sweep.NewRunner(exec, sweep.Options{
		Program:       cfg.GetProgram(),
		Script:        cfg.GetScript(),
		DispatchSweep: cfg.GetDispatchSweep(),
		Parallel:      cfg.GetParallel(),
		Policy:        policy,
		Progress:      a.stdout,
	}), nil
}

func (a *app) runSweep(cmd *cobra.Command, f *runFlags, cores string) error {
	cfg, err := f.load(cmd)
	if err != nil {
		return err
	}
	planCfg, err := cfg.PlanConfig(cores)
	if err != nil {
		return err
	}
	plan, err := sweep.NewPlan(planCfg)
	if err != nil {
		return err
	}

	runner, err := a.newRunner(cfg, a.newExecutor(cfg, f.dryRun, f.verbose))
	if err != nil {
		return err
	}

	if path := cfg.GetDatabasePath(); path != "" {
		st, err := store.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.MigrateUp(); err != nil {
			return err
		}
		runner.SetPersister(st)
	}

	res, runErr := runner.Run(cmd.Context(), plan, cores)
	if res == nil {
		return runErr
	}

	if f.dryRun {
		for _, t := range res.Dispatched() {
			fmt.Fprintln(a.stdout, t.Output)
		}
	}

	entries := report.EntriesFromRun(res)
	if len(entries) > 0 {
		monitoring.Logf("[sweep] %s", report.Summarize(entries))
	}

	if path := cfg.GetManifestPath(); path != "" {
		if err := writeManifest(path, res); err != nil {
			monitoring.Logf("[sweep] WARNING: %v", err)
		}
	}
	if dir := cfg.GetReportDir(); dir != "" {
		if err := report.Write(dir, res.RunID, entries); err != nil {
			monitoring.Logf("[report] WARNING: %v", err)
		}
	}

	if runErr != nil {
		return &exitCodeError{code: 1, err: runErr}
	}
	if code := res.ExitCode(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func writeManifest(path string, res *sweep.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if err := sweep.NewManifestWriter(f).WriteRun(res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
