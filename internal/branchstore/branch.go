// Package branchstore defines the abstract Branch contract (spec §4.1)
// and the branch/tag catalog (spec §4.6) that sits above it. Two
// interchangeable implementations live in the snapshot and postgres
// subpackages.
package branchstore

import (
	"context"

	"github.com/caid-tools/depi/internal/changeproc"
	"github.com/caid-tools/depi/internal/model"
)

// DependencyGraphRequest parameterizes a traversal (spec §4.5).
type DependencyGraphRequest struct {
	Seed     model.ResourceRef
	Upstream bool
	MaxDepth int
}

// Branch is the storage contract one branch (or tag) satisfies,
// regardless of whether it's backed by an in-memory/JSON snapshot or a
// relational database. All mutating methods on a tag must return a
// Conflict error (spec invariant 6).
type Branch interface {
	Name() string
	IsTag() bool

	// AddResourceGroup creates a resource group if one doesn't already
	// exist at (toolID, url); EditResourceGroup renames/re-versions an
	// existing one. RemoveResourceGroup cascades to the group's
	// resources and every link referencing them (spec §4.4).
	AddResourceGroup(ctx context.Context, group model.ResourceGroup) error
	EditResourceGroup(ctx context.Context, toolID, url string, mutate func(model.ResourceGroup) model.ResourceGroup) error
	RemoveResourceGroup(ctx context.Context, toolID, url string) error
	GetResourceGroup(ctx context.Context, toolID, url string) (model.ResourceGroup, bool, error)
	GetLastKnownVersion(ctx context.Context, toolID, url string) (string, bool, error)

	AddResource(ctx context.Context, toolID, groupURL string, resource model.Resource) error
	RemoveResource(ctx context.Context, ref model.ResourceRef) error
	GetResource(ctx context.Context, ref model.ResourceRef) (model.Resource, bool, error)
	GetResourceByID(ctx context.Context, toolID, id string) (model.Resource, model.ResourceRef, bool, error)
	GetResources(ctx context.Context, patterns []model.Pattern, includeDeleted bool) ([]model.Resource, error)

	LinkResources(ctx context.Context, from, to model.ResourceRef) (model.Link, error)
	UnlinkResources(ctx context.Context, from, to model.ResourceRef) error
	GetLinks(ctx context.Context, patterns []model.ResourceLinkPattern) ([]model.Link, error)
	GetAllLinks(ctx context.Context, includeDeleted bool) ([]model.Link, error)
	GetDirtyLinks(ctx context.Context, toolID, groupURL string, withInferred bool) ([]model.Link, error)
	ExpandLinks(ctx context.Context, refs []model.ResourceRef) ([]model.Link, error)
	GetDependencyGraph(ctx context.Context, req DependencyGraphRequest) ([]model.Link, error)

	// UpdateResourceGroup runs the change processor (spec §4.2) against
	// this branch and returns the set of links it dirtied.
	UpdateResourceGroup(ctx context.Context, change model.ResourceGroupChange) ([]model.Link, error)

	// MarkLinksClean and MarkInferredDirtinessClean implement the
	// cleanliness propagation rules of spec §4.3.
	MarkLinksClean(ctx context.Context, links []model.LinkKey, propagate bool) ([]model.Link, error)
	MarkInferredDirtinessClean(ctx context.Context, link model.LinkKey, source model.ResourceRef, propagate bool) ([]changeproc.InferredClean, error)

	// SaveBranchState commits the current in-memory working copy as a
	// new persisted snapshot/transaction.
	SaveBranchState(ctx context.Context) error

	// Snapshot returns a deep copy of the branch's full state, used by
	// branch creation and by the blackboard reconciler.
	Snapshot(ctx context.Context) (*model.BranchState, error)
}

// ErrTagIsImmutable is returned by any mutating Branch method when the
// branch is a tag (spec invariant 6).
var ErrTagIsImmutable = &TagImmutableError{}

// TagImmutableError signals an attempted mutation on an immutable tag.
type TagImmutableError struct{}

func (e *TagImmutableError) Error() string { return "tag is immutable and cannot be mutated" }
