package branchstore

import (
	"context"
	"fmt"
	"sync"

	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
)

// Catalog is the branch/tag registry (spec §4.6): it resolves branch
// and tag names to live Branch handles and serializes the two
// operations whose names must not collide across both categories
// (CreateBranch, CreateTag). The underlying storage backend (snapshot
// or postgres) provides the three primitives below; Catalog adds the
// name-uniqueness and existence checks shared by both backends.
type Catalog struct {
	mu      sync.Mutex
	backend Backend
}

// Backend is the narrow surface a storage implementation exposes to
// Catalog; every method takes a context, and each backend implements
// it through a thin CatalogBackend adapter in its own package.
type Backend interface {
	Open(ctx context.Context, name string) (Branch, error)
	OpenTag(ctx context.Context, name string) (Branch, error)
	CreateBranch(ctx context.Context, name string, from Branch) (Branch, error)
	CreateTag(ctx context.Context, name, branch string) error
	BranchExists(ctx context.Context, name string) (bool, error)
	TagExists(ctx context.Context, name string) (bool, error)
	BranchNames(ctx context.Context) ([]string, error)
	TagNames(ctx context.Context) ([]string, error)
}

// NewCatalog wraps a Backend.
func NewCatalog(backend Backend) *Catalog {
	return &Catalog{backend: backend}
}

// OpenBranch resolves a branch by name, distinct from a tag lookup.
func (c *Catalog) OpenBranch(ctx context.Context, name string) (Branch, error) {
	return c.backend.Open(ctx, name)
}

// OpenTag resolves a tag by name.
func (c *Catalog) OpenTag(ctx context.Context, name string) (Branch, error) {
	return c.backend.OpenTag(ctx, name)
}

// Resolve looks up name as a branch first, then as a tag, matching the
// external interface's single "branchOrTag" parameter (spec §6).
func (c *Catalog) Resolve(ctx context.Context, name string) (Branch, error) {
	if ok, _ := c.backend.BranchExists(ctx, name); ok {
		return c.backend.Open(ctx, name)
	}
	if ok, _ := c.backend.TagExists(ctx, name); ok {
		return c.backend.OpenTag(ctx, name)
	}
	return nil, depierrors.NotFound("branch or tag", name).Err()
}

// CreateBranch forks `from` into a new branch called name. Branch and
// tag names share one namespace (spec invariant 7): creating a branch
// with a name already used by a tag, or vice versa, is a Conflict.
func (c *Catalog) CreateBranch(ctx context.Context, name string, from Branch) (Branch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNameFree(ctx, name); err != nil {
		return nil, err
	}
	return c.backend.CreateBranch(ctx, name, from)
}

// CreateTag pins branch's current state under a new, immutable name.
func (c *Catalog) CreateTag(ctx context.Context, name, branch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkNameFree(ctx, name); err != nil {
		return err
	}
	return c.backend.CreateTag(ctx, name, branch)
}

// List returns every branch name and every tag name currently
// registered, for GetBranchList (spec §6).
func (c *Catalog) List(ctx context.Context) ([]string, []string, error) {
	branches, err := c.backend.BranchNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	tags, err := c.backend.TagNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	return branches, tags, nil
}

func (c *Catalog) checkNameFree(ctx context.Context, name string) error {
	if ok, _ := c.backend.BranchExists(ctx, name); ok {
		return depierrors.Conflict(fmt.Sprintf("name %q is already in use by a branch", name)).Err()
	}
	if ok, _ := c.backend.TagExists(ctx, name); ok {
		return depierrors.Conflict(fmt.Sprintf("name %q is already in use by a tag", name)).Err()
	}
	return nil
}
