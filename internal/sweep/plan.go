package sweep

import (
	"fmt"
	"strings"
)

// ReferenceLabels selects which labels name the reference run's output file.
type ReferenceLabels string

const (
	// ReferenceLabelsLast names the file with the labels of the sweep's final
	// combination, the historical behaviour of the driver.
	ReferenceLabelsLast ReferenceLabels = "last"
	// ReferenceLabelsOwn names the file with the reference combination's labels.
	ReferenceLabelsOwn ReferenceLabels = "own"
	// ReferenceLabelsNone skips the reference run.
	ReferenceLabelsNone ReferenceLabels = "none"
)

// ParseReferenceLabels validates a reference label policy name. The empty
// string selects ReferenceLabelsLast.
func ParseReferenceLabels(s string) (ReferenceLabels, error) {
	switch r := ReferenceLabels(strings.TrimSpace(s)); r {
	case "":
		return ReferenceLabelsLast, nil
	case ReferenceLabelsLast, ReferenceLabelsOwn, ReferenceLabelsNone:
		return r, nil
	}
	return "", fmt.Errorf("reference labels %q: must be last, own or none", s)
}

// PlanConfig carries the fixed inputs of a sweep.
type PlanConfig struct {
	BaseDir     string
	ModelPath   string
	WeightsPath string
	ParamsPath  string

	// Cores is handed to the solver verbatim.
	Cores string

	// Space defaults to DefaultSpace when empty.
	Space Space

	Reference ReferenceLabels
}

// Task is one solver invocation.
type Task struct {
	Index       int         `json:"index"`
	Combination Combination `json:"combination"`
	OutputPath  string      `json:"output_path"`
	Reference   bool        `json:"reference,omitempty"`
	args        []string
}

// Args returns a copy of the eight positional solver arguments: output path,
// model, weights, parameters, light colour, ATPase token, starch token, cores.
func (t Task) Args() []string {
	out := make([]string, len(t.args))
	copy(out, t.args)
	return out
}

// Label is a short human-readable name for logs.
func (t Task) Label() string {
	if t.Reference {
		return "reference " + t.Combination.String()
	}
	return t.Combination.String()
}

// Plan is the ordered list of invocations for one driver run.
type Plan struct {
	Sweep     []Task
	Reference *Task
}

// NewPlan expands the space and builds every task up front. The reference
// task's path is computed from explicit combinations, never from state left
// over by the sweep.
func NewPlan(cfg PlanConfig) (*Plan, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base output directory is required")
	}
	if cfg.Space.Size() == 0 {
		cfg.Space = DefaultSpace()
	}
	if cfg.Reference == "" {
		cfg.Reference = ReferenceLabelsLast
	}

	combos := cfg.Space.Combinations()
	p := &Plan{Sweep: make([]Task, 0, len(combos))}
	for i, c := range combos {
		path := OutputPath(cfg.BaseDir, c)
		p.Sweep = append(p.Sweep, Task{
			Index:       i,
			Combination: c,
			OutputPath:  path,
			args:        solverArgs(cfg, path, c),
		})
	}

	var path string
	ref := ReferenceCombination
	switch cfg.Reference {
	case ReferenceLabelsNone:
		return p, nil
	case ReferenceLabelsOwn:
		path = OutputPath(cfg.BaseDir, ref)
	case ReferenceLabelsLast:
		last := combos[len(combos)-1]
		path = outputPath(cfg.BaseDir, ref.Light, last.ATPase, last.Starch)
	default:
		return nil, fmt.Errorf("reference labels %q: must be last, own or none", cfg.Reference)
	}
	p.Reference = &Task{
		Index:       len(p.Sweep),
		Combination: ref,
		OutputPath:  path,
		Reference:   true,
		args:        solverArgs(cfg, path, ref),
	}
	return p, nil
}

// Tasks returns the sweep tasks followed by the reference task, if any.
func (p *Plan) Tasks() []Task {
	out := make([]Task, 0, len(p.Sweep)+1)
	out = append(out, p.Sweep...)
	if p.Reference != nil {
		out = append(out, *p.Reference)
	}
	return out
}

func solverArgs(cfg PlanConfig, path string, c Combination) []string {
	return []string{
		path,
		cfg.ModelPath,
		cfg.WeightsPath,
		cfg.ParamsPath,
		c.Light.Token(),
		c.ATPase.Token(),
		c.Starch.Token(),
		cfg.Cores,
	}
}
