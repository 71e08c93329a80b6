package model

// Blackboard is one user's staging area: resources and link proposals
// accumulated before being atomically promoted ("saved") into main.
type Blackboard struct {
	User string

	// Resources mirrors BranchState.Tools' shape so a staged resource can
	// be diffed against the branch's resource groups at save time.
	Resources map[string]map[string]ResourceGroup

	// ChangedLinks holds pending link proposals keyed by endpoint pair.
	ChangedLinks map[LinkKey]Link

	// DeletedLinks holds links staged for removal; a link can be in at
	// most one of ChangedLinks or DeletedLinks at a time.
	DeletedLinks map[LinkKey]Link
}

// NewBlackboard returns an empty blackboard for the given user.
func NewBlackboard(user string) *Blackboard {
	return &Blackboard{
		User:         user,
		Resources:    map[string]map[string]ResourceGroup{},
		ChangedLinks: map[LinkKey]Link{},
		DeletedLinks: map[LinkKey]Link{},
	}
}

// Clear empties the blackboard after a successful save.
func (b *Blackboard) Clear() {
	b.Resources = map[string]map[string]ResourceGroup{}
	b.ChangedLinks = map[LinkKey]Link{}
	b.DeletedLinks = map[LinkKey]Link{}
}

// Group returns the staged resource group at (toolID, url), if any.
func (b *Blackboard) Group(toolID, url string) (ResourceGroup, bool) {
	groups, ok := b.Resources[toolID]
	if !ok {
		return ResourceGroup{}, false
	}
	group, ok := groups[url]
	return group, ok
}

// PutGroup inserts or replaces a staged resource group.
func (b *Blackboard) PutGroup(group ResourceGroup) {
	groups, ok := b.Resources[group.ToolID]
	if !ok {
		groups = map[string]ResourceGroup{}
		b.Resources[group.ToolID] = groups
	}
	groups[group.URL] = group
}

// IsEmpty reports whether the blackboard has no staged resources or
// links at all.
func (b *Blackboard) IsEmpty() bool {
	return len(b.Resources) == 0 && len(b.ChangedLinks) == 0 && len(b.DeletedLinks) == 0
}
