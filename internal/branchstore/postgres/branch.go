package postgres

import (
	"context"
	"sync"

	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/changeproc"
	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/caid-tools/depi/internal/model"
)

// Branch is the relational backend's live handle on one branch. It
// mutates an in-memory *model.BranchState exactly like the snapshot
// backend, via internal/changeproc, and only touches the database on
// SaveBranchState, Open and branch/tag creation.
type Branch struct {
	store *Store
	id    int64
	mu    sync.RWMutex
	state *model.BranchState
}

var _ branchstore.Branch = (*Branch)(nil)

func (b *Branch) Name() string { return b.state.Name }
func (b *Branch) IsTag() bool  { return b.state.IsTag }

func (b *Branch) checkMutable() error {
	if b.state.IsTag {
		return branchstore.ErrTagIsImmutable
	}
	return nil
}

func (b *Branch) seps() changeproc.PathSeparators { return b.store.pathSeparators }

func (b *Branch) AddResourceGroup(ctx context.Context, group model.ResourceGroup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	if _, exists := b.state.Group(group.ToolID, group.URL); exists {
		return depierrors.Conflict("resource group already exists: " + group.URL).Err()
	}
	b.state.PutGroup(group)
	return nil
}

func (b *Branch) EditResourceGroup(ctx context.Context, toolID, url string, mutate func(model.ResourceGroup) model.ResourceGroup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	group, ok := b.state.Group(toolID, url)
	if !ok {
		return depierrors.NotFound("resource group", url).Err()
	}
	b.state.PutGroup(mutate(group))
	return nil
}

func (b *Branch) RemoveResourceGroup(ctx context.Context, toolID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	group, ok := b.state.Group(toolID, url)
	if !ok {
		return depierrors.NotFound("resource group", url).Err()
	}
	for resURL := range group.Resources {
		ref := model.ResourceRef{ToolID: toolID, ResourceGroupURL: url, URL: resURL}
		for key := range b.state.Links {
			if key.From == ref || key.To == ref {
				delete(b.state.Links, key)
			}
		}
	}
	b.state.RemoveGroup(toolID, url)
	return nil
}

func (b *Branch) GetResourceGroup(ctx context.Context, toolID, url string) (model.ResourceGroup, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	group, ok := b.state.Group(toolID, url)
	return group, ok, nil
}

func (b *Branch) GetLastKnownVersion(ctx context.Context, toolID, url string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	group, ok := b.state.Group(toolID, url)
	if !ok {
		return "", false, nil
	}
	return group.Version, true, nil
}

func (b *Branch) AddResource(ctx context.Context, toolID, groupURL string, resource model.Resource) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	group, ok := b.state.Group(toolID, groupURL)
	if !ok {
		return depierrors.NotFound("resource group", groupURL).Err()
	}
	group.Resources[resource.URL] = resource
	b.state.PutGroup(group)
	return nil
}

func (b *Branch) RemoveResource(ctx context.Context, ref model.ResourceRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	group, ok := b.state.Group(ref.ToolID, ref.ResourceGroupURL)
	if !ok {
		return depierrors.NotFound("resource group", ref.ResourceGroupURL).Err()
	}
	delete(group.Resources, ref.URL)
	b.state.PutGroup(group)
	for key := range b.state.Links {
		if key.From == ref || key.To == ref {
			delete(b.state.Links, key)
		}
	}
	return nil
}

func (b *Branch) GetResource(ctx context.Context, ref model.ResourceRef) (model.Resource, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res, ok := b.state.Resource(ref)
	return res, ok, nil
}

func (b *Branch) GetResourceByID(ctx context.Context, toolID, id string) (model.Resource, model.ResourceRef, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	groups, ok := b.state.Tools[toolID]
	if !ok {
		return model.Resource{}, model.ResourceRef{}, false, nil
	}
	for _, group := range groups {
		for _, res := range group.Resources {
			if res.ID == id {
				return res, res.Ref(toolID, group.URL), true, nil
			}
		}
	}
	return model.Resource{}, model.ResourceRef{}, false, nil
}

func (b *Branch) GetResources(ctx context.Context, patterns []model.Pattern, includeDeleted bool) ([]model.Resource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return changeproc.MatchResources(b.state, patterns, includeDeleted)
}

func (b *Branch) LinkResources(ctx context.Context, from, to model.ResourceRef) (model.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return model.Link{}, err
	}
	if _, ok := b.state.Resource(from); !ok {
		return model.Link{}, depierrors.NotFound("resource", from.URL).Err()
	}
	if _, ok := b.state.Resource(to); !ok {
		return model.Link{}, depierrors.NotFound("resource", to.URL).Err()
	}
	link := model.NewLink(from, to)
	b.state.Links[link.Key()] = link
	return link, nil
}

func (b *Branch) UnlinkResources(ctx context.Context, from, to model.ResourceRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	key := model.LinkKey{From: from, To: to}
	if _, ok := b.state.Links[key]; !ok {
		return depierrors.NotFound("link", from.URL+" -> "+to.URL).Err()
	}
	delete(b.state.Links, key)
	return nil
}

func (b *Branch) GetLinks(ctx context.Context, patterns []model.ResourceLinkPattern) ([]model.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return changeproc.MatchLinks(b.state, patterns)
}

func (b *Branch) GetAllLinks(ctx context.Context, includeDeleted bool) ([]model.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var links []model.Link
	for _, l := range b.state.Links {
		if l.Deleted && !includeDeleted {
			continue
		}
		links = append(links, l)
	}
	return links, nil
}

func (b *Branch) GetDirtyLinks(ctx context.Context, toolID, groupURL string, withInferred bool) ([]model.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return changeproc.DirtyLinks(b.state, toolID, groupURL, withInferred), nil
}

func (b *Branch) ExpandLinks(ctx context.Context, refs []model.ResourceRef) ([]model.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return changeproc.ExpandLinks(b.state, refs), nil
}

func (b *Branch) GetDependencyGraph(ctx context.Context, req branchstore.DependencyGraphRequest) ([]model.Link, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return changeproc.DependencyGraph(b.state, req.Seed, req.Upstream, req.MaxDepth), nil
}

func (b *Branch) UpdateResourceGroup(ctx context.Context, change model.ResourceGroupChange) ([]model.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	dirtied, err := changeproc.ApplyResourceGroupChange(b.state, change, b.seps())
	if err != nil {
		return nil, depierrors.ValidationError(err.Error()).Err()
	}
	return dirtied, nil
}

func (b *Branch) MarkLinksClean(ctx context.Context, links []model.LinkKey, propagate bool) ([]model.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	return changeproc.MarkLinksClean(b.state, links, propagate), nil
}

func (b *Branch) MarkInferredDirtinessClean(ctx context.Context, link model.LinkKey, source model.ResourceRef, propagate bool) ([]changeproc.InferredClean, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	return changeproc.MarkInferredDirtinessClean(b.state, link, source, propagate), nil
}

// SaveBranchState flushes the in-memory working copy back to its rows,
// inside one transaction, and bumps last_version. A failed transaction
// leaves the in-memory state untouched so the caller can retry.
func (b *Branch) SaveBranchState(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkMutable(); err != nil {
		return err
	}
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return depierrors.StorageError(err).Err()
	}
	defer tx.Rollback()

	nextVersion := b.state.LastVersion + 1
	if _, err := tx.ExecContext(ctx, `UPDATE branch SET last_version = $1 WHERE id = $2`, nextVersion, b.id); err != nil {
		return depierrors.StorageError(err).Err()
	}
	if err := writeState(ctx, tx, b.id, b.state); err != nil {
		return depierrors.StorageError(err).Err()
	}
	if err := tx.Commit(); err != nil {
		return depierrors.StorageError(err).Err()
	}
	b.state.LastVersion = nextVersion
	return nil
}

func (b *Branch) Snapshot(ctx context.Context) (*model.BranchState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone(b.state.Name), nil
}
