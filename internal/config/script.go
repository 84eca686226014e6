package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Script operations.
const (
	OpMake    = "make"
	OpSet     = "set"
	OpCall    = "call"
	OpRelease = "release"
)

// Script is an ordered list of steps the head runs once the group is up.
// A string value of the form "@name" refers to the object bound by an
// earlier make step.
type Script struct {
	Steps []Step `toml:"step"`
}

type Step struct {
	Op     string         `toml:"op"`
	Name   string         `toml:"name"`
	Class  string         `toml:"class"`
	Target string         `toml:"target"`
	Param  string         `toml:"param"`
	Method string         `toml:"method"`
	Value  any            `toml:"value"`
	Params map[string]any `toml:"params"`
	Args   map[string]any `toml:"args"`
}

func LoadScript(path string) (Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("load script: %w", err)
	}
	return ParseScript(raw)
}

func ParseScript(raw []byte) (Script, error) {
	var s Script
	if err := toml.Unmarshal(raw, &s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	for i := range s.Steps {
		s.Steps[i].Op = strings.ToLower(strings.TrimSpace(s.Steps[i].Op))
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Validate checks step shape and that every target names an object bound
// by an earlier, still unreleased, make step.
func (s Script) Validate() error {
	bound := make(map[string]bool)
	for i, step := range s.Steps {
		where := fmt.Sprintf("step %d (%s)", i+1, step.Op)
		for _, ref := range step.references() {
			if !bound[ref] {
				return fmt.Errorf("%s: reference @%s is not bound", where, ref)
			}
		}
		switch step.Op {
		case OpMake:
			if strings.TrimSpace(step.Class) == "" {
				return fmt.Errorf("%s: missing class", where)
			}
			if step.Name != "" {
				if bound[step.Name] {
					return fmt.Errorf("%s: name %q already bound", where, step.Name)
				}
				bound[step.Name] = true
			}
			continue
		case OpSet:
			if step.Param == "" {
				return fmt.Errorf("%s: missing param", where)
			}
			if step.Value == nil {
				return fmt.Errorf("%s: missing value", where)
			}
		case OpCall:
			if step.Method == "" {
				return fmt.Errorf("%s: missing method", where)
			}
		case OpRelease:
		default:
			return fmt.Errorf("%s: unknown op", where)
		}
		if !bound[step.Target] {
			return fmt.Errorf("%s: target %q is not bound", where, step.Target)
		}
		if step.Op == OpRelease {
			delete(bound, step.Target)
		}
	}
	return nil
}

// Reference reports whether v is an "@name" object reference.
func Reference(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[0] != '@' {
		return "", false
	}
	return s[1:], true
}

func (s Step) references() []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			if name, ok := Reference(x); ok {
				out = append(out, name)
			}
		case []any:
			for _, e := range x {
				walk(e)
			}
		case map[string]any:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(s.Value)
	walk(s.Params)
	walk(s.Args)
	return out
}
