package retention

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Policy file layout:
//
//	default_days: 365
//	rules:
//	  - name: auth events
//	    days: 90
//	    match: ["auth.*", "session.**"]
//	  - name: billing
//	    days: 3650
//	    match: billing.**
//
// Record types are matched with '.' as the glob separator; the first
// matching rule wins.
type PolicySet struct {
	DefaultDays int    `yaml:"default_days"`
	Rules       []Rule `yaml:"rules"`
}

type Rule struct {
	Name  string       `yaml:"name"`
	Days  int          `yaml:"days"`
	Match stringOrList `yaml:"match"`

	globs []glob.Glob
}

// stringOrList accepts either "match: a.*" or "match: [a.*, b.*]".
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// LoadPolicy reads a policy file. A missing or empty file yields an empty
// set, which defers every record type to the engine default.
func LoadPolicy(path string) (*PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PolicySet{}, nil
		}
		return nil, fmt.Errorf("reading retention policy %s: %w", path, err)
	}
	ps, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("parsing retention policy %s: %w", path, err)
	}
	return ps, nil
}

func ParsePolicy(data []byte) (*PolicySet, error) {
	ps := &PolicySet{}
	if len(data) == 0 {
		return ps, nil
	}
	if err := yaml.Unmarshal(data, ps); err != nil {
		return nil, err
	}
	if err := ps.compile(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PolicySet) compile() error {
	if ps.DefaultDays < 0 {
		return fmt.Errorf("default_days must not be negative")
	}
	for i := range ps.Rules {
		r := &ps.Rules[i]
		if r.Days <= 0 {
			return fmt.Errorf("rule %q: days must be positive", r.Name)
		}
		if len(r.Match) == 0 {
			return fmt.Errorf("rule %q: match is required", r.Name)
		}
		r.globs = r.globs[:0]
		for _, p := range r.Match {
			g, err := glob.Compile(p, '.')
			if err != nil {
				return fmt.Errorf("rule %q: invalid glob %q: %w", r.Name, p, err)
			}
			r.globs = append(r.globs, g)
		}
	}
	return nil
}

// RetentionDays returns the days of the first rule matching recordType,
// else DefaultDays. Zero means no opinion.
func (ps *PolicySet) RetentionDays(recordType string) int {
	if ps == nil {
		return 0
	}
	if r := ps.Match(recordType); r != nil {
		return r.Days
	}
	return ps.DefaultDays
}

// Match returns the first rule whose globs match recordType.
func (ps *PolicySet) Match(recordType string) *Rule {
	for i := range ps.Rules {
		for _, g := range ps.Rules[i].globs {
			if g.Match(recordType) {
				return &ps.Rules[i]
			}
		}
	}
	return nil
}
