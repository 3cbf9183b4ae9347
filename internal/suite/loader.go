package suite

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"governor/internal/deadline"
	"governor/pkg/logging"

	"gopkg.in/yaml.v3"
)

// ErrNoSuites is returned when a directory contains no suite files.
var ErrNoSuites = errors.New("no suite files found")

var knownActions = map[string]bool{
	"": true, "ok": true, "sleep": true, "hang": true,
	"fail": true, "panic": true, "fatal": true, "skip": true,
}

// Load reads a single suite file, or every *.yaml and *.yml file below a
// directory in lexical order.
func Load(path string) ([]*Suite, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat suite path %s: %w", path, err)
	}
	if !info.IsDir() {
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return []*Suite{s}, nil
	}

	var suites []*Suite
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (!strings.HasSuffix(p, ".yaml") && !strings.HasSuffix(p, ".yml")) {
			return nil
		}
		s, err := LoadFile(p)
		if err != nil {
			return err
		}
		suites = append(suites, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(suites) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSuites, path)
	}
	logging.Debug("Suite", "Loaded %d suite(s) from %s", len(suites), path)
	return suites, nil
}

// LoadFile reads and validates one suite file. Unknown fields are rejected.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	s.Path = path

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid suite file %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks names, node types and actions of the whole tree.
func (s *Suite) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("suite name is required")
	}
	if s.Type != "" && s.Type != TypeContainer {
		return fmt.Errorf("suite %q: the root must be a container, got %s", s.Name, s.Type)
	}
	return s.NodeSpec.validate(s.Name)
}

func (n *NodeSpec) validate(path string) error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%s: member name is required", path)
	}

	typ := n.EffectiveType()
	switch typ {
	case TypeContainer, TypeTest, TypeFactory, TypeTemplate:
	default:
		return fmt.Errorf("%s: unknown node type %q", path, typ)
	}
	if typ != TypeContainer && (len(n.Members) > 0 || n.Setup != nil ||
		len(n.BeforeAll)+len(n.BeforeEach)+len(n.AfterEach)+len(n.AfterAll) > 0) {
		return fmt.Errorf("%s: only containers declare members, setup or hooks", path)
	}
	if typ != TypeFactory && len(n.Dynamic) > 0 {
		return fmt.Errorf("%s: only factories declare dynamic tests", path)
	}
	if typ != TypeTemplate && len(n.Invocations) > 0 {
		return fmt.Errorf("%s: only templates declare invocations", path)
	}

	if err := n.ActionSpec.validate(path); err != nil {
		return err
	}
	if n.Setup != nil {
		if err := n.Setup.ActionSpec.validate(path + " > setup"); err != nil {
			return err
		}
	}
	for _, hooks := range [][]HookSpec{n.BeforeAll, n.BeforeEach, n.AfterEach, n.AfterAll} {
		for _, h := range hooks {
			if strings.TrimSpace(h.Name) == "" {
				return fmt.Errorf("%s: hook name is required", path)
			}
			if err := h.ActionSpec.validate(path + " > " + h.Name); err != nil {
				return err
			}
			if h.Timeout != "" {
				if _, err := deadline.ParseBudget(h.Timeout); err != nil {
					return fmt.Errorf("%s > %s: invalid timeout: %w", path, h.Name, err)
				}
			}
		}
	}
	for _, d := range n.Dynamic {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("%s: dynamic test name is required", path)
		}
		if err := d.ActionSpec.validate(path + " > " + d.Name); err != nil {
			return err
		}
	}
	for _, inv := range n.Invocations {
		if strings.TrimSpace(inv.Name) == "" {
			return fmt.Errorf("%s: invocation name is required", path)
		}
	}

	seen := make(map[string]bool, len(n.Members))
	for i := range n.Members {
		m := &n.Members[i]
		if seen[m.Name] {
			return fmt.Errorf("%s: duplicate member %q", path, m.Name)
		}
		seen[m.Name] = true
		if err := m.validate(path + " > " + m.Name); err != nil {
			return err
		}
	}
	return nil
}

func (a *ActionSpec) validate(path string) error {
	if !knownActions[a.Action] {
		return fmt.Errorf("%s: unknown action %q", path, a.Action)
	}
	if a.Duration != "" {
		d, err := time.ParseDuration(a.Duration)
		if err != nil {
			return fmt.Errorf("%s: invalid duration: %w", path, err)
		}
		if d < 0 {
			return fmt.Errorf("%s: duration must not be negative", path)
		}
	}
	return nil
}

// Filter returns the suites matching name (exact, when not empty) and carrying
// every tag in tags.
func Filter(suites []*Suite, name string, tags []string) []*Suite {
	var out []*Suite
	for _, s := range suites {
		if name != "" && s.Name != name {
			continue
		}
		matched := true
		for _, tag := range tags {
			if !slices.Contains(s.Tags, tag) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, s)
		}
	}
	return out
}
