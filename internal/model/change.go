package model

// ChangeKind enumerates the four ways a resource can change between two
// reports of a resource group's version.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Renamed
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Renamed:
		return "Renamed"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// Change describes one resource's transition as reported by a tool
// adapter. OldURL/OldName/OldID are populated for Renamed and for a
// Modified change that also renames the resource; they are empty for a
// pure Added.
type Change struct {
	Kind ChangeKind

	OldURL  string
	OldName string
	OldID   string

	NewURL  string
	NewName string
	NewID   string
}

// RenamesURL reports whether this change alters the resource's URL,
// which is the trigger for link-endpoint rewriting in the change
// processor regardless of whether the change also dirties links.
func (c Change) RenamesURL() bool {
	return c.OldURL != "" && c.OldURL != c.NewURL
}

// ResourceGroupChange bundles the new version a tool adapter is
// reporting together with the set of per-resource changes observed
// since the group's previously known version.
type ResourceGroupChange struct {
	ToolID           string
	ResourceGroupURL string
	Version          string
	Changes          map[string]Change // keyed by the change's primary URL (NewURL, or OldURL for Removed)
}
