package variant

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/suite"
)

// Provider is the subset of a git hosting client GitCatalog needs:
// fetching a file's bytes at a ref, and resolving a repository's
// default branch when no ref is pinned. Concrete providers (GitHub,
// GitLab, Bitbucket) live outside the core; GitCatalog only depends on
// this narrow shape.
type Provider interface {
	GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	GetDefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// GitEntry pins one Variant's documentation blob to a location in a
// git-hosted docs repository.
type GitEntry struct {
	Name  string
	Owner string
	Repo  string
	Path  string
	Ref   string // empty resolves to the repository's default branch
}

// GitCatalog resolves Variants by fetching their documentation blob
// from a git provider and reporting its size (spec §6
// "variant/documentation fetching beyond size metadata" is out of the
// core's scope; GitCatalog is the collaborator that does that
// fetching). Fetched content is cached per (owner, repo, path, ref)
// since spec §3 treats a Variant as immutable within a run.
type GitCatalog struct {
	provider Provider
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]GitEntry
	order   []string
	cache   map[string]suite.Variant
}

// NewGitCatalog builds a GitCatalog serving entries through provider.
func NewGitCatalog(provider Provider, entries []GitEntry, logger zerolog.Logger) *GitCatalog {
	c := &GitCatalog{
		provider: provider,
		logger:   logger.With().Str("component", "variant_gitcatalog").Logger(),
		entries:  make(map[string]GitEntry, len(entries)),
		cache:    make(map[string]suite.Variant, len(entries)),
	}
	for _, e := range entries {
		if _, exists := c.entries[e.Name]; !exists {
			c.order = append(c.order, e.Name)
		}
		c.entries[e.Name] = e
	}
	return c
}

// Get implements Catalog, resolving name's git entry to a Variant by
// fetching its blob and recording its size. DocRef carries the
// resolved owner/repo/path/ref so the ModelClient prompt builder (or a
// downstream cache) can refer back to the exact blob fetched.
func (c *GitCatalog) Get(ctx context.Context, name string) (suite.Variant, error) {
	c.mu.Lock()
	entry, ok := c.entries[name]
	cached, hit := c.cache[name]
	c.mu.Unlock()
	if !ok {
		return suite.Variant{}, harnesserr.New(harnesserr.BadRequest, "unknown variant: "+name)
	}
	if hit {
		return cached, nil
	}

	ref := entry.Ref
	if ref == "" {
		resolved, err := c.provider.GetDefaultBranch(ctx, entry.Owner, entry.Repo)
		if err != nil {
			return suite.Variant{}, harnesserr.Wrap(harnesserr.Transport, "resolving default branch for variant "+name, err)
		}
		ref = resolved
	}

	content, err := c.provider.GetFile(ctx, entry.Owner, entry.Repo, entry.Path, ref)
	if err != nil {
		return suite.Variant{}, harnesserr.Wrap(harnesserr.Transport, "fetching variant doc for "+name, err)
	}

	v := suite.Variant{
		Name:      name,
		SizeBytes: int64(len(content)),
		DocRef:    fmt.Sprintf("%s/%s@%s:%s", entry.Owner, entry.Repo, ref, entry.Path),
	}

	c.mu.Lock()
	c.cache[name] = v
	c.mu.Unlock()

	c.logger.Debug().Str("variant", name).Int64("size_bytes", v.SizeBytes).Msg("resolved variant doc")
	return v, nil
}

// List implements Catalog, resolving every configured entry. A single
// unreachable entry fails the whole call: spec §3 treats a Variant as
// immutable data the Run Coordinator depends on to exist, so callers
// should surface (and retry) a List failure rather than silently
// dropping a Variant from the set offered to users.
func (c *GitCatalog) List(ctx context.Context) ([]suite.Variant, error) {
	c.mu.Lock()
	names := append([]string(nil), c.order...)
	c.mu.Unlock()

	out := make([]suite.Variant, 0, len(names))
	for _, name := range names {
		v, err := c.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
