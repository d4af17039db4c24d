// Package sweep enumerates the alternative-modes experiment space (light
// colour, ATPase constraint, starch knockout), builds the output path for
// each combination and dispatches the external solver once per combination.
package sweep

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownToken is returned when a raw parameter token does not name a
// member of its enumeration.
var ErrUnknownToken = errors.New("unknown parameter token")

// LightColour is the illumination regime passed to the solver.
type LightColour string

const (
	LightBlue  LightColour = "blue"
	LightWhite LightColour = "white"
	LightNoPS  LightColour = "nops"
)

// LightColours returns the light colour enumeration in sweep order.
func LightColours() []LightColour {
	return []LightColour{LightBlue, LightWhite, LightNoPS}
}

// ParseLightColour converts a raw token into a LightColour.
func ParseLightColour(s string) (LightColour, error) {
	switch c := LightColour(strings.TrimSpace(s)); c {
	case LightBlue, LightWhite, LightNoPS:
		return c, nil
	}
	return "", fmt.Errorf("light colour %q: %w", s, ErrUnknownToken)
}

// Token returns the literal passed on the solver command line.
func (c LightColour) Token() string { return string(c) }

// ATPaseConstraint selects whether the guard cell ATPase flux is constrained.
type ATPaseConstraint bool

const (
	ATPaseConstrained   ATPaseConstraint = true
	ATPaseUnconstrained ATPaseConstraint = false
)

// ATPaseConstraints returns the ATPase enumeration in sweep order (True first).
func ATPaseConstraints() []ATPaseConstraint {
	return []ATPaseConstraint{ATPaseConstrained, ATPaseUnconstrained}
}

// ParseATPaseConstraint accepts the solver's literal "True" / "False".
func ParseATPaseConstraint(s string) (ATPaseConstraint, error) {
	b, err := parseBoolToken(s)
	if err != nil {
		return false, fmt.Errorf("atpase constraint: %w", err)
	}
	return ATPaseConstraint(b), nil
}

// Token returns "True" or "False".
func (a ATPaseConstraint) Token() string { return boolToken(bool(a)) }

// Label returns the filename label for the constraint.
func (a ATPaseConstraint) Label() string {
	if a {
		return "constrained"
	}
	return "unconstrained"
}

// StarchKnockout selects the starch-less mutant instead of wild type.
type StarchKnockout bool

const (
	StarchKO StarchKnockout = true
	StarchWT StarchKnockout = false
)

// StarchKnockouts returns the starch enumeration in sweep order (True first).
func StarchKnockouts() []StarchKnockout {
	return []StarchKnockout{StarchKO, StarchWT}
}

// ParseStarchKnockout accepts the solver's literal "True" / "False".
func ParseStarchKnockout(s string) (StarchKnockout, error) {
	b, err := parseBoolToken(s)
	if err != nil {
		return false, fmt.Errorf("starch knockout: %w", err)
	}
	return StarchKnockout(b), nil
}

// Token returns "True" or "False".
func (k StarchKnockout) Token() string { return boolToken(bool(k)) }

// Label returns the filename label for the genotype.
func (k StarchKnockout) Label() string {
	if k {
		return "ko"
	}
	return "wt"
}

// parseBoolToken accepts only the exact literals "True" and "False".
func parseBoolToken(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	return false, fmt.Errorf("%q: %w", s, ErrUnknownToken)
}

func boolToken(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
