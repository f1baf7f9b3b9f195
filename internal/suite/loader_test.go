package suite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
name: demo-suite
tests:
  - id: t1
    category: basics
    level: 1
    points: 10
    task: "write a function that adds two numbers"
    required_patterns: ["func add"]
  - id: t2
    category: basics
    level: 2
    points: 20
    task: "write a function that reverses a string"
    forbidden_patterns: ["reverse("]
`

func TestLoadDefinition_Valid(t *testing.T) {
	ts, err := LoadDefinition(strings.NewReader(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "demo-suite", ts.Name)
	require.Len(t, ts.Tests, 2)
	assert.Equal(t, "t1", ts.Tests[0].ID)
	assert.Equal(t, 30, ts.TotalPoints())
}

func TestLoadDefinition_RejectsDuplicateIDs(t *testing.T) {
	dup := `
name: demo
tests:
  - id: t1
    category: basics
    level: 1
    points: 10
  - id: t1
    category: basics
    level: 1
    points: 10
`
	_, err := LoadDefinition(strings.NewReader(dup))
	assert.Error(t, err)
}

func TestLoadDefinition_RejectsMissingName(t *testing.T) {
	missing := `
tests:
  - id: t1
    category: basics
    level: 1
    points: 10
`
	_, err := LoadDefinition(strings.NewReader(missing))
	assert.Error(t, err)
}

func TestLoadDefinition_RejectsUnknownFields(t *testing.T) {
	unknown := `
name: demo
bogus_field: true
tests:
  - id: t1
    category: basics
    level: 1
    points: 10
`
	_, err := LoadDefinition(strings.NewReader(unknown))
	assert.Error(t, err)
}

func TestLoadDefinition_RejectsInvalidLevelOrPoints(t *testing.T) {
	bad := `
name: demo
tests:
  - id: t1
    category: basics
    level: 0
    points: 0
`
	_, err := LoadDefinition(strings.NewReader(bad))
	assert.Error(t, err)
}
