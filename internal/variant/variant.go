// Package variant implements the VariantCatalog collaborator (spec
// §6): resolving a documentation variant's name into the Variant value
// the Run Coordinator stamps into Artifact metadata.
package variant

import (
	"context"

	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/suite"
)

// Catalog resolves variant names to Variant values. The core only ever
// consumes this interface (spec §6 "variant/documentation fetching
// beyond size metadata" is out of the core's scope); concrete
// resolution is left to implementations such as StaticCatalog and
// GitCatalog.
type Catalog interface {
	Get(ctx context.Context, name string) (suite.Variant, error)
	List(ctx context.Context) ([]suite.Variant, error)
}

// StaticCatalog serves a fixed, in-memory set of Variants. It is the
// catalog a single-process deployment or a test harness reaches for
// when documentation variants are baked into configuration rather than
// fetched from a repository.
type StaticCatalog struct {
	variants map[string]suite.Variant
	order    []string
}

// NewStaticCatalog builds a StaticCatalog from vs, preserving the given
// order for List.
func NewStaticCatalog(vs []suite.Variant) *StaticCatalog {
	c := &StaticCatalog{variants: make(map[string]suite.Variant, len(vs))}
	for _, v := range vs {
		if _, exists := c.variants[v.Name]; !exists {
			c.order = append(c.order, v.Name)
		}
		c.variants[v.Name] = v
	}
	return c
}

// Get implements Catalog.
func (c *StaticCatalog) Get(_ context.Context, name string) (suite.Variant, error) {
	v, ok := c.variants[name]
	if !ok {
		return suite.Variant{}, harnesserr.New(harnesserr.BadRequest, "unknown variant: "+name)
	}
	return v, nil
}

// List implements Catalog.
func (c *StaticCatalog) List(_ context.Context) ([]suite.Variant, error) {
	out := make([]suite.Variant, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.variants[name])
	}
	return out, nil
}
