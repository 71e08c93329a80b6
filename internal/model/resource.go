// Package model defines the value types that make up the Depi dependency
// graph: resources, resource groups, links and the change sets that
// adapters submit when a resource group reports a new version.
package model

import "strings"

// ResourceRef is a foreign key pointing at a Resource owned by a
// ResourceGroup. It does not own the resource it refers to.
type ResourceRef struct {
	ToolID            string
	ResourceGroupURL  string
	URL               string
}

// Resource is a single file, model node or document tracked inside a
// resource group. Identity for equality purposes is (ID, URL); a
// resource may be soft-deleted while a dirty link still references it.
type Resource struct {
	Name    string
	ID      string
	URL     string
	Deleted bool
}

// Ref builds the ResourceRef a Link would use to point at this resource
// within the given group.
func (r Resource) Ref(toolID, resourceGroupURL string) ResourceRef {
	return ResourceRef{ToolID: toolID, ResourceGroupURL: resourceGroupURL, URL: r.URL}
}

// Equal reports identity equality, not full value equality: two
// resources are the same resource when their (ID, URL) pair matches.
func (r Resource) Equal(other Resource) bool {
	return r.ID == other.ID && r.URL == other.URL
}

// ResourceGroup is a versioned container of resources inside one
// external tool, e.g. a Git repository pinned at a commit hash.
type ResourceGroup struct {
	ToolID    string
	URL       string
	Name      string
	Version   string
	Resources map[string]Resource // keyed by Resource.URL
}

// Key returns the (ToolID, URL) pair that identifies a resource group
// within a branch.
func (g ResourceGroup) Key() ResourceGroupKey {
	return ResourceGroupKey{ToolID: g.ToolID, URL: g.URL}
}

// ResourceGroupKey is the map key used to index resource groups within a
// branch's tool namespace.
type ResourceGroupKey struct {
	ToolID string
	URL    string
}

// Clone returns a deep copy of the resource group, including its
// resource map. Used by branch creation (copy-on-write) and blackboard
// staging.
func (g ResourceGroup) Clone() ResourceGroup {
	clone := g
	clone.Resources = make(map[string]Resource, len(g.Resources))
	for k, v := range g.Resources {
		clone.Resources[k] = v
	}
	return clone
}

// PathSeparator returns the path separator configured for a tool,
// falling back to "/" when the tool has none configured.
func PathSeparator(separators map[string]string, toolID string) string {
	if sep, ok := separators[toolID]; ok && sep != "" {
		return sep
	}
	return "/"
}

// IsPathPrefixOf reports whether `prefix` is a path-prefix of `url`
// under the given separator, matching §4.2's folder-propagation rule: a
// link from "/folder/" matches any descendant "/folder/x", while a link
// from "/folder" (no trailing separator) only matches when the
// descendant continues with sep+more, i.e. "/folder" + sep + "x".
func IsPathPrefixOf(prefix, url, sep string) bool {
	if prefix == url {
		return true
	}
	if strings.HasSuffix(prefix, sep) {
		return strings.HasPrefix(url, prefix)
	}
	return strings.HasPrefix(url, prefix+sep)
}
