package suite

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benchharness/harness/internal/harnesserr"
)

// definitionFile mirrors the on-disk suite definition shape (spec §3
// TestCase fields, plus a top-level suite name).
type definitionFile struct {
	Name  string               `yaml:"name"`
	Tests []testCaseDefinition `yaml:"tests"`
}

type testCaseDefinition struct {
	ID                string   `yaml:"id"`
	Category          string   `yaml:"category"`
	Level             int      `yaml:"level"`
	Points            int      `yaml:"points"`
	Task              string   `yaml:"task"`
	RequiredPatterns  []string `yaml:"required_patterns,omitempty"`
	ForbiddenPatterns []string `yaml:"forbidden_patterns,omitempty"`
	Hints             []string `yaml:"hints,omitempty"`
}

// LoadDefinition parses a suite definition from r into a TestSuite,
// rejecting unknown fields and validating every invariant spec §3
// states for TestCase (non-empty unique id, level ≥ 1, points ≥ 1).
func LoadDefinition(r io.Reader) (*TestSuite, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var def definitionFile
	if err := decoder.Decode(&def); err != nil {
		return nil, harnesserr.Wrap(harnesserr.Config, "invalid suite definition", err)
	}

	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	tests := make([]TestCase, len(def.Tests))
	for i, td := range def.Tests {
		tests[i] = TestCase{
			ID:                td.ID,
			Category:          td.Category,
			Level:             td.Level,
			Points:            td.Points,
			Task:              td.Task,
			RequiredPatterns:  td.RequiredPatterns,
			ForbiddenPatterns: td.ForbiddenPatterns,
			Hints:             td.Hints,
		}
	}

	return &TestSuite{Name: def.Name, Tests: tests}, nil
}

// LoadDefinitionFile reads and parses the suite definition at path.
func LoadDefinitionFile(path string) (*TestSuite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, harnesserr.Wrap(harnesserr.Config, fmt.Sprintf("opening suite definition %s", path), err)
	}
	defer f.Close()
	return LoadDefinition(f)
}

func validateDefinition(def definitionFile) error {
	var errs []string

	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, "name is required")
	}
	if len(def.Tests) == 0 {
		errs = append(errs, "at least one test is required")
	}

	seen := make(map[string]bool, len(def.Tests))
	for i, td := range def.Tests {
		prefix := fmt.Sprintf("tests[%d]", i)
		if strings.TrimSpace(td.ID) == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[td.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, td.ID))
		} else {
			seen[td.ID] = true
		}
		if td.Level < 1 {
			errs = append(errs, prefix+".level must be >= 1")
		}
		if td.Points < 1 {
			errs = append(errs, prefix+".points must be >= 1")
		}
	}

	if len(errs) > 0 {
		return harnesserr.New(harnesserr.Config, "suite definition invalid: "+strings.Join(errs, "; "))
	}
	return nil
}
