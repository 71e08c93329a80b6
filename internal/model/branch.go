package model

// BranchState is the full, serializable contents of one branch: every
// resource group it knows about (grouped by tool), and every link
// between resources it contains. Both storage backends (snapshot,
// relational) converge on this shape as their in-memory working copy,
// even though they persist it differently.
type BranchState struct {
	Name   string
	IsTag  bool

	// ParentBranch/ParentVersion record where this branch was forked
	// from, or where a tag is pinned. Empty for a branch created from
	// nothing (e.g. the initial "main").
	ParentBranch  string
	ParentVersion int

	LastVersion int

	// Tools indexes resource groups by tool ID, then by resource-group
	// URL, mirroring spec.md's `tools: map<toolId -> map<URL ->
	// ResourceGroup>>`.
	Tools map[string]map[string]ResourceGroup

	// Links is keyed by LinkKey so lookups by endpoint pair are O(1);
	// spec.md describes this as a set.
	Links map[LinkKey]Link
}

// NewBranchState returns an empty, non-tag branch ready to receive its
// first resource group.
func NewBranchState(name string) *BranchState {
	return &BranchState{
		Name:        name,
		LastVersion: 0,
		Tools:       map[string]map[string]ResourceGroup{},
		Links:       map[LinkKey]Link{},
	}
}

// Clone deep-copies the branch state. Used by branch creation
// (copy-on-write) so the new branch's mutations never alias the
// source's.
func (b *BranchState) Clone(newName string) *BranchState {
	clone := &BranchState{
		Name:          newName,
		IsTag:         false,
		ParentBranch:  b.Name,
		ParentVersion: b.LastVersion,
		LastVersion:   1,
		Tools:         make(map[string]map[string]ResourceGroup, len(b.Tools)),
		Links:         make(map[LinkKey]Link, len(b.Links)),
	}
	for toolID, groups := range b.Tools {
		cloned := make(map[string]ResourceGroup, len(groups))
		for url, group := range groups {
			cloned[url] = group.Clone()
		}
		clone.Tools[toolID] = cloned
	}
	for key, link := range b.Links {
		clone.Links[key] = link.Clone()
	}
	return clone
}

// Group returns the resource group at (toolID, url), if any.
func (b *BranchState) Group(toolID, url string) (ResourceGroup, bool) {
	groups, ok := b.Tools[toolID]
	if !ok {
		return ResourceGroup{}, false
	}
	group, ok := groups[url]
	return group, ok
}

// PutGroup inserts or replaces a resource group.
func (b *BranchState) PutGroup(group ResourceGroup) {
	groups, ok := b.Tools[group.ToolID]
	if !ok {
		groups = map[string]ResourceGroup{}
		b.Tools[group.ToolID] = groups
	}
	groups[group.URL] = group
}

// RemoveGroup deletes a resource group entirely.
func (b *BranchState) RemoveGroup(toolID, url string) {
	if groups, ok := b.Tools[toolID]; ok {
		delete(groups, url)
	}
}

// Resource looks up a single resource by its full reference.
func (b *BranchState) Resource(ref ResourceRef) (Resource, bool) {
	group, ok := b.Group(ref.ToolID, ref.ResourceGroupURL)
	if !ok {
		return Resource{}, false
	}
	resource, ok := group.Resources[ref.URL]
	return resource, ok
}
