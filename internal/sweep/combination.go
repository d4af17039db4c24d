package sweep

import "fmt"

// Combination is one point of the light x ATPase x starch space.
type Combination struct {
	Light  LightColour      `json:"light_colour"`
	ATPase ATPaseConstraint `json:"atpase_constrained"`
	Starch StarchKnockout   `json:"starch_knockout"`
}

// ReferenceCombination is the case re-run after every sweep.
var ReferenceCombination = Combination{
	Light:  LightBlue,
	ATPase: ATPaseConstrained,
	Starch: StarchWT,
}

// String renders the raw tokens, e.g. "blue/True/False".
func (c Combination) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Light, c.ATPase.Token(), c.Starch.Token())
}

// FileStem returns "<light>_<atpase label>_<starch label>".
func (c Combination) FileStem() string {
	return fileStem(c.Light, c.ATPase, c.Starch)
}

// ParseCombination builds a Combination from the three raw solver tokens.
func ParseCombination(light, atpase, starch string) (Combination, error) {
	l, err := ParseLightColour(light)
	if err != nil {
		return Combination{}, err
	}
	a, err := ParseATPaseConstraint(atpase)
	if err != nil {
		return Combination{}, err
	}
	s, err := ParseStarchKnockout(starch)
	if err != nil {
		return Combination{}, err
	}
	return Combination{Light: l, ATPase: a, Starch: s}, nil
}

// Space holds the ordered values of each sweep dimension.
type Space struct {
	Lights []LightColour
	ATPase []ATPaseConstraint
	Starch []StarchKnockout
}

// DefaultSpace returns the full experiment space (3 x 2 x 2).
func DefaultSpace() Space {
	return Space{
		Lights: LightColours(),
		ATPase: ATPaseConstraints(),
		Starch: StarchKnockouts(),
	}
}

// Size returns the number of combinations in the space.
func (s Space) Size() int {
	return len(s.Lights) * len(s.ATPase) * len(s.Starch)
}

// Combinations returns the Cartesian product in nested order: light colour
// outermost, ATPase middle, starch innermost.
func (s Space) Combinations() []Combination {
	total := s.Size()
	if total == 0 {
		return nil
	}
	combos := make([]Combination, 0, total)
	for _, light := range s.Lights {
		for _, atpase := range s.ATPase {
			for _, starch := range s.Starch {
				combos = append(combos, Combination{Light: light, ATPase: atpase, Starch: starch})
			}
		}
	}
	return combos
}

// OutputPath joins baseDir and the combination's file stem with a literal
// "/" and appends ".csv". baseDir is used verbatim so relative prefixes such
// as "../outputs" survive unchanged.
func OutputPath(baseDir string, c Combination) string {
	return outputPath(baseDir, c.Light, c.ATPase, c.Starch)
}

func outputPath(baseDir string, light LightColour, atpase ATPaseConstraint, starch StarchKnockout) string {
	return baseDir + "/" + fileStem(light, atpase, starch) + ".csv"
}

func fileStem(light LightColour, atpase ATPaseConstraint, starch StarchKnockout) string {
	return string(light) + "_" + atpase.Label() + "_" + starch.Label()
}
