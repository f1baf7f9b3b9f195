// Package suite holds the harness's read-only data model: TestCase,
// TestSuite, and Variant (spec §3).
package suite

// TestCase is a single graded coding task. TestCases are read-only once
// loaded from a suite definition and are never mutated (spec §3).
type TestCase struct {
	ID                string
	Category          string
	Level             int
	Points            int
	Task              string
	RequiredPatterns  []string
	ForbiddenPatterns []string
	Hints             []string
}

// TestSuite is an immutable, ordered collection of TestCases.
type TestSuite struct {
	Name  string
	Tests []TestCase
}

// TotalPoints returns the sum of points across all TestCases.
func (s *TestSuite) TotalPoints() int {
	total := 0
	for _, t := range s.Tests {
		total += t.Points
	}
	return total
}

// ByID returns the TestCase with the given id, and whether it was found.
func (s *TestSuite) ByID(id string) (TestCase, bool) {
	for _, t := range s.Tests {
		if t.ID == id {
			return t, true
		}
	}
	return TestCase{}, false
}

// Filter returns a new TestSuite containing only the TestCases whose id
// is in ids, preserving suite order. A nil/empty ids selects the whole
// suite unchanged.
func (s *TestSuite) Filter(ids []string) *TestSuite {
	if len(ids) == 0 {
		return s
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	filtered := make([]TestCase, 0, len(ids))
	for _, t := range s.Tests {
		if _, ok := want[t.ID]; ok {
			filtered = append(filtered, t)
		}
	}
	return &TestSuite{Name: s.Name, Tests: filtered}
}

// FilterByTags returns a new TestSuite containing only TestCases whose
// category matches one of tags, preserving suite order. An empty tags
// selects the whole suite unchanged. Tags map onto TestCase.Category,
// since the distilled data model carries no separate tag set.
func (s *TestSuite) FilterByTags(tags []string) *TestSuite {
	if len(tags) == 0 {
		return s
	}
	want := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		want[tag] = struct{}{}
	}
	filtered := make([]TestCase, 0, len(s.Tests))
	for _, t := range s.Tests {
		if _, ok := want[t.Category]; ok {
			filtered = append(filtered, t)
		}
	}
	return &TestSuite{Name: s.Name, Tests: filtered}
}

// Variant is one version of the reference documentation given to the
// model (spec §3). Variants are immutable within a Run.
type Variant struct {
	Name      string
	SizeBytes int64
	// DocRef is an opaque reference to the documentation blob; its
	// resolution is delegated to a VariantCatalog implementation.
	DocRef string
}
