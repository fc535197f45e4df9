// internal/scenario/scenario.go
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/orchestrator"
)

// Scenario is one test case read from a YAML file.
type Scenario struct {
	CaseID    string   `yaml:"id"`
	CaseTitle string   `yaml:"title"`
	Tags      []string `yaml:"markers"`
	Steps     []Step   `yaml:"steps"`

	// Skip, when set, is the reason the scenario is reported as skipped without running.
	Skip string `yaml:"skip"`

	// Source is the file the scenario was read from.
	Source string `yaml:"-"`
}

// Step is one named action of a scenario.
type Step struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`
	Args   Args   `yaml:"args"`
	// Soft steps record their failure and let the scenario continue.
	Soft bool `yaml:"soft"`
}

// Args holds the parameters of every action; each action reads the ones it needs.
type Args struct {
	Question  string        `yaml:"question"`
	Query     string        `yaml:"query"`
	Document  string        `yaml:"document"`
	Documents []string      `yaml:"documents"`
	Enabled   *bool         `yaml:"enabled"`
	Validate  *bool         `yaml:"validate"`
	Duration  time.Duration `yaml:"duration"`

	// Document list and filter checks.
	Min     *int     `yaml:"min"`
	Compare string   `yaml:"compare"`
	Against string   `yaml:"against"`
	Group   string   `yaml:"group"`
	Filters []string `yaml:"filters"`
	Option  string   `yaml:"option"`

	// Details popup tabs.
	Tab  string   `yaml:"tab"`
	Tabs []string `yaml:"tabs"`
}

// validateResponse reports whether the chat API call should be checked, true unless disabled.
func (a Args) validateResponse() bool {
	return a.Validate == nil || *a.Validate
}

var _ orchestrator.Case = (*Scenario)(nil)

func (s *Scenario) ID() string        { return s.CaseID }
func (s *Scenario) Title() string     { return s.CaseTitle }
func (s *Scenario) Markers() []string { return s.Tags }

// Run executes the steps in order. A failing hard step ends the scenario;
// check actions and soft steps record their failure and continue.
func (s *Scenario) Run(t *orchestrator.T) error {
	if s.Skip != "" {
		t.Skipf("%s", s.Skip)
	}
	for _, step := range s.Steps {
		err := t.Step(step.Name, func() error { return perform(t, step) })
		if err == nil {
			continue
		}
		if step.Soft {
			t.CheckNoError(err, "soft step failed")
			continue
		}
		t.Fatalf("%v", err)
	}
	return nil
}

// Validate checks the scenario for missing fields and unknown actions.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.CaseID) == "" {
		return errors.New("id is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i+1)
		}
		a, ok := actions[step.Action]
		if !ok {
			return fmt.Errorf("step %d: unknown action %q", i+1, step.Action)
		}
		if a.check != nil {
			if err := a.check(step.Args); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
			}
		}
	}
	return nil
}

// Parse decodes and validates a single scenario document. Unknown keys are rejected.
func Parse(data []byte, source string) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", source, err)
	}
	s.Source = source
	if s.CaseTitle == "" {
		s.CaseTitle = s.CaseID
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", source, err)
	}
	return &s, nil
}

// Load reads every *.yaml and *.yml file in dir, ordered by file name.
// Ids must be unique across the directory.
func Load(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
		}
		s, err := Parse(data, path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.CaseID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q in %s and %s", s.CaseID, prev, path)
		}
		seen[s.CaseID] = path
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Cases converts scenarios for the runner.
func Cases(scenarios []*Scenario) []orchestrator.Case {
	out := make([]orchestrator.Case, len(scenarios))
	for i, s := range scenarios {
		out[i] = s
	}
	return out
}
