package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
)

// DefaultConfigPath is the path to the canonical driver defaults file.
const DefaultConfigPath = "config/alternative-modes.defaults.json"

// Fixed locations used by the alternative weighting experiments. They are
// relative to the directory the driver is started from and are never
// created or checked.
const (
	DefaultBaseDir     = "../outputs/alternative_weighting"
	DefaultModelPath   = "../models/4_stage_GC.json"
	DefaultWeightsPath = "../outputs/alternative_weighting/alternative_weights.csv"
	DefaultParamsPath  = "../inputs/arabidopsis_parameters.csv"
	DefaultProgram     = "python"
	DefaultScript      = "runalternativemodes.py"
	DefaultDatabase    = "alternative_modes.db"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// DriverConfig is the on-disk driver configuration. Every field is
// optional; the Get* methods supply defaults for omitted fields so a
// partial file is safe.
type DriverConfig struct {
	// Fixed solver inputs
	BaseDir     *string `json:"base_dir,omitempty"`
	ModelPath   *string `json:"model_path,omitempty"`
	WeightsPath *string `json:"weights_path,omitempty"`
	ParamsPath  *string `json:"params_path,omitempty"`

	// Solver command
	Program *string `json:"program,omitempty"`
	Script  *string `json:"script,omitempty"`

	// Sweep space, as raw tokens. Omitted dimensions use the full enumeration.
	LightColours      []string `json:"light_colours,omitempty"`
	ATPaseConstraints []string `json:"atpase_constraints,omitempty"`
	StarchKnockouts   []string `json:"starch_knockouts,omitempty"`

	// Dispatch
	DispatchSweep   *bool   `json:"dispatch_sweep,omitempty"`
	ReferenceLabels *string `json:"reference_labels,omitempty"`
	FailurePolicy   *string `json:"failure_policy,omitempty"`
	Parallel        *int    `json:"parallel,omitempty"`
	Timeout         *string `json:"timeout,omitempty"` // duration string like "2h"

	// Remote execution
	Target  *string `json:"target,omitempty"`
	SSHUser *string `json:"ssh_user,omitempty"`
	SSHKey  *string `json:"ssh_key,omitempty"`

	// Outputs
	ManifestPath *string `json:"manifest_path,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
	ReportDir    *string `json:"report_dir,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyDriverConfig returns a DriverConfig with all fields unset.
func EmptyDriverConfig() *DriverConfig {
	return &DriverConfig{}
}

// LoadDriverConfig loads a DriverConfig from a JSON file. Comments and
// trailing commas are accepted. The file must have a .json or .hujson
// extension and be under 1MB. Unknown keys are rejected.
func LoadDriverConfig(path string) (*DriverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".hujson" {
		return nil, fmt.Errorf("config file must have .json or .hujson extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseDriverConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// ParseDriverConfig decodes and validates HuJSON config data.
func ParseDriverConfig(data []byte) (*DriverConfig, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := EmptyDriverConfig()
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DriverConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDriverConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Token lists are
// parsed here so an unknown token fails before anything is dispatched.
func (c *DriverConfig) Validate() error {
	if _, err := c.Space(); err != nil {
		return err
	}

	if c.BaseDir != nil && *c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}

	if c.ReferenceLabels != nil {
		if _, err := sweep.ParseReferenceLabels(*c.ReferenceLabels); err != nil {
			return err
		}
	}

	if c.FailurePolicy != nil {
		if _, err := sweep.ParseFailurePolicy(*c.FailurePolicy); err != nil {
			return err
		}
	}

	if c.Parallel != nil && *c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", *c.Parallel)
	}

	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be non-negative, got %s", d)
		}
	}

	return nil
}

// Space returns the sweep space described by the token lists.
func (c *DriverConfig) Space() (sweep.Space, error) {
	s := sweep.DefaultSpace()
	for name, toks := range map[string][]string{
		"light_colours":      c.LightColours,
		"atpase_constraints": c.ATPaseConstraints,
		"starch_knockouts":   c.StarchKnockouts,
	} {
		if toks != nil && len(toks) == 0 {
			return sweep.Space{}, fmt.Errorf("%s must not be empty", name)
		}
	}
	if c.LightColours != nil {
		s.Lights = s.Lights[:0]
		for _, tok := range c.LightColours {
			l, err := sweep.ParseLightColour(tok)
			if err != nil {
				return sweep.Space{}, err
			}
			s.Lights = append(s.Lights, l)
		}
	}
	if c.ATPaseConstraints != nil {
		s.ATPase = s.ATPase[:0]
		for _, tok := range c.ATPaseConstraints {
			a, err := sweep.ParseATPaseConstraint(tok)
			if err != nil {
				return sweep.Space{}, err
			}
			s.ATPase = append(s.ATPase, a)
		}
	}
	if c.StarchKnockouts != nil {
		s.Starch = s.Starch[:0]
		for _, tok := range c.StarchKnockouts {
			k, err := sweep.ParseStarchKnockout(tok)
			if err != nil {
				return sweep.Space{}, err
			}
			s.Starch = append(s.Starch, k)
		}
	}
	return s, nil
}

// PlanConfig builds the sweep plan configuration for the given core count.
func (c *DriverConfig) PlanConfig(cores string) (sweep.PlanConfig, error) {
	space, err := c.Space()
	if err != nil {
		return sweep.PlanConfig{}, err
	}
	ref, err := sweep.ParseReferenceLabels(c.GetReferenceLabels())
	if err != nil {
		return sweep.PlanConfig{}, err
	}
	return sweep.PlanConfig{
		BaseDir:     c.GetBaseDir(),
		ModelPath:   c.GetModelPath(),
		WeightsPath: c.GetWeightsPath(),
		ParamsPath:  c.GetParamsPath(),
		Cores:       cores,
		Space:       space,
		Reference:   ref,
	}, nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetBaseDir returns the output directory or the default.
func (c *DriverConfig) GetBaseDir() string { return getString(c.BaseDir, DefaultBaseDir) }

// GetModelPath returns the model path or the default.
func (c *DriverConfig) GetModelPath() string { return getString(c.ModelPath, DefaultModelPath) }

// GetWeightsPath returns the weights path or the default.
func (c *DriverConfig) GetWeightsPath() string { return getString(c.WeightsPath, DefaultWeightsPath) }

// GetParamsPath returns the parameters path or the default.
func (c *DriverConfig) GetParamsPath() string { return getString(c.ParamsPath, DefaultParamsPath) }

// GetProgram returns the interpreter or the default.
func (c *DriverConfig) GetProgram() string { return getString(c.Program, DefaultProgram) }

// GetScript returns the solver script or the default.
func (c *DriverConfig) GetScript() string { return getString(c.Script, DefaultScript) }

// GetDispatchSweep returns the dispatch_sweep value or the default.
func (c *DriverConfig) GetDispatchSweep() bool {
	if c.DispatchSweep == nil {
		return false // default: sweep combinations are listed only
	}
	return *c.DispatchSweep
}

// GetReferenceLabels returns the reference_labels value or the default.
func (c *DriverConfig) GetReferenceLabels() string {
	return getString(c.ReferenceLabels, string(sweep.ReferenceLabelsLast))
}

// GetFailurePolicy returns the failure_policy value or the default.
func (c *DriverConfig) GetFailurePolicy() string {
	return getString(c.FailurePolicy, string(sweep.FailureContinue))
}

// GetParallel returns the parallel value or the default.
func (c *DriverConfig) GetParallel() int {
	if c.Parallel == nil {
		return 1
	}
	return *c.Parallel
}

// GetTimeout parses and returns the per-invocation timeout; zero means none.
func (c *DriverConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetTarget returns the execution host, "localhost" when unset.
func (c *DriverConfig) GetTarget() string { return getString(c.Target, "localhost") }

// GetSSHUser returns the SSH user, empty when unset.
func (c *DriverConfig) GetSSHUser() string { return getString(c.SSHUser, "") }

// GetSSHKey returns the SSH identity file, empty when unset.
func (c *DriverConfig) GetSSHKey() string { return getString(c.SSHKey, "") }

// GetManifestPath returns the manifest CSV path, empty when disabled.
func (c *DriverConfig) GetManifestPath() string { return getString(c.ManifestPath, "") }

// GetDatabasePath returns the run database path, empty when disabled.
func (c *DriverConfig) GetDatabasePath() string { return getString(c.DatabasePath, "") }

// GetReportDir returns the report directory, empty when disabled.
func (c *DriverConfig) GetReportDir() string { return getString(c.ReportDir, "") }
