// Package changeproc implements the change processor (spec §4.2), the
// cleanliness propagation rules (spec §4.3), deletion semantics
// (spec §4.4) and dependency-graph traversal (spec §4.5) as pure
// functions over a *model.BranchState. Both storage backends
// (snapshot, postgres) materialize the branch's working copy into a
// BranchState and delegate to this package so the dirty-state machine
// is implemented exactly once.
package changeproc

import (
	"fmt"
	"regexp"

	"github.com/caid-tools/depi/internal/model"
)

// PathSeparators maps toolID to the tool's configured path separator
// (spec §4.2); unconfigured tools default to "/".
type PathSeparators map[string]string

func (p PathSeparators) of(toolID string) string {
	return model.PathSeparator(p, toolID)
}

// ApplyResourceGroupChange is the central algorithm of spec §4.2. It
// mutates state in place and returns the set of links it dirtied. An
// unknown resource group is ignored (returns nil, nil) per step 1.
func ApplyResourceGroupChange(state *model.BranchState, change model.ResourceGroupChange, seps PathSeparators) ([]model.Link, error) {
	group, ok := state.Group(change.ToolID, change.ResourceGroupURL)
	if !ok {
		return nil, nil
	}

	origVersion := group.Version
	group = group.Clone()
	group.Version = change.Version
	sep := seps.of(change.ToolID)

	// dirtied maps each link dirtied by this change to the URL of the
	// changed resource that dirtied it (the inferred-dirtiness source).
	dirtied := map[model.LinkKey]string{}

	markDirtyFromPrefix := func(changedURL string) {
		for key, link := range state.Links {
			if link.FromRes.ToolID != change.ToolID || link.FromRes.ResourceGroupURL != change.ResourceGroupURL {
				continue
			}
			if link.FromRes.URL == changedURL || model.IsPathPrefixOf(link.FromRes.URL, changedURL, sep) {
				l := link
				if !l.Dirty {
					l.Dirty = true
					l.LastCleanVersion = origVersion
				}
				state.Links[key] = l
				dirtied[key] = changedURL
			}
		}
	}

	rewriteEndpoints := func(oldURL, newURL, newName, newID string) {
		for key, link := range state.Links {
			changedFrom := link.FromRes.ToolID == change.ToolID && link.FromRes.ResourceGroupURL == change.ResourceGroupURL &&
				(link.FromRes.URL == oldURL || model.IsPathPrefixOf(oldURL, link.FromRes.URL, sep))
			changedTo := link.ToRes.ToolID == change.ToolID && link.ToRes.ResourceGroupURL == change.ResourceGroupURL &&
				(link.ToRes.URL == oldURL || model.IsPathPrefixOf(oldURL, link.ToRes.URL, sep))
			if !changedFrom && !changedTo {
				continue
			}
			l := link
			newKey := key
			if changedFrom && link.FromRes.URL == oldURL {
				newFrom := link.FromRes
				newFrom.URL = newURL
				l.FromRes = newFrom
				newKey.From = newFrom
			}
			if changedTo && link.ToRes.URL == oldURL {
				newTo := link.ToRes
				newTo.URL = newURL
				l.ToRes = newTo
				newKey.To = newTo
			}
			delete(state.Links, key)
			state.Links[newKey] = l
		}
		_ = newName
		_ = newID
	}

	for _, c := range change.Changes {
		switch c.Kind {
		case model.Added:
			resource, exists := group.Resources[c.NewURL]
			if !exists {
				resource = model.Resource{Name: c.NewName, ID: c.NewID, URL: c.NewURL}
			}
			group.Resources[c.NewURL] = resource
			markDirtyFromPrefix(c.NewURL)

		case model.Modified:
			if resource, exists := group.Resources[c.OldURL]; exists {
				delete(group.Resources, c.OldURL)
				resource.Name, resource.ID, resource.URL = c.NewName, c.NewID, c.NewURL
				group.Resources[c.NewURL] = resource
			} else {
				group.Resources[c.NewURL] = model.Resource{Name: c.NewName, ID: c.NewID, URL: c.NewURL}
			}
			if c.RenamesURL() {
				rewriteEndpoints(c.OldURL, c.NewURL, c.NewName, c.NewID)
			}
			markDirtyFromPrefix(c.NewURL)

		case model.Renamed:
			if resource, exists := group.Resources[c.OldURL]; exists {
				delete(group.Resources, c.OldURL)
				resource.Name, resource.ID, resource.URL = c.NewName, c.NewID, c.NewURL
				group.Resources[c.NewURL] = resource
			}
			// A pure rename does not dirty links; it only rewrites
			// endpoints (spec §4.2, and the Open Question in spec §9
			// resolved in favor of "renames never generate inferred
			// entries").
			rewriteEndpoints(c.OldURL, c.NewURL, c.NewName, c.NewID)

		case model.Removed:
			removedURL := c.OldURL
			if removedURL == "" {
				removedURL = c.NewURL
			}
			if resource, exists := group.Resources[removedURL]; exists {
				resource.Deleted = true
				group.Resources[removedURL] = resource
			}
			removedRef := model.ResourceRef{ToolID: change.ToolID, ResourceGroupURL: change.ResourceGroupURL, URL: removedURL}

			// Every link's inferred-dirtiness set is scrubbed of entries
			// previously sourced from the removed resource, not just links
			// directly touching it; the propagation at the end of this
			// function then records the removal afresh downstream of each
			// link it dirtied.
			for key, link := range state.Links {
				l := link
				if l.RemoveInferred(removedRef) {
					state.Links[key] = l
				}
			}

			// Links whose `to` equals the removed resource become
			// deleted immediately and are physically removed; their
			// downstream inferred dirtiness is dropped.
			for key, link := range state.Links {
				if link.ToRes == removedRef {
					removeLinkAndInferred(state, key)
				}
			}

			markDirtyFromPrefix(removedURL)

			// Links dirtied above whose `from` is the removed resource
			// (or a prefix ancestor that matched) are additionally
			// flagged deleted, surviving as dirty tombstones.
			for key := range dirtied {
				link := state.Links[key]
				if link.FromRes == removedRef || model.IsPathPrefixOf(link.FromRes.URL, removedURL, sep) {
					link.Deleted = true
					state.Links[key] = link
				}
			}
		}
	}

	state.PutGroup(group)

	var result []model.Link
	for key, changedURL := range dirtied {
		link := state.Links[key]
		propagateInferred(state, link.ToRes, model.ResourceRef{ToolID: change.ToolID, ResourceGroupURL: change.ResourceGroupURL, URL: changedURL}, origVersion)
		result = append(result, state.Links[key])
	}
	return result, nil
}

// propagateInferred walks downstream from `from` (following links whose
// FromRes equals the current node) and records `source`/`lastClean` on
// every link it visits that does not already carry that source, exactly
// matching spec §4.2 step 3. Note: the function is seeded once per
// dirtied link by the caller with `from` set to that link's ToRes, and
// `source` fixed to the resource that actually changed.
func propagateInferred(state *model.BranchState, from model.ResourceRef, source model.ResourceRef, lastCleanVersion string) {
	visited := map[model.ResourceRef]bool{}
	var walk func(node model.ResourceRef)
	walk = func(node model.ResourceRef) {
		if visited[node] {
			return
		}
		visited[node] = true
		for key, link := range state.Links {
			if link.FromRes != node {
				continue
			}
			l := link
			if l.AddInferred(source, lastCleanVersion) {
				state.Links[key] = l
			}
			walk(link.ToRes)
		}
	}
	walk(from)
}

func removeLinkAndInferred(state *model.BranchState, key model.LinkKey) {
	delete(state.Links, key)
}

// MarkLinksClean implements spec §4.3: clears dirty/lastCleanVersion on
// each named link, optionally propagates cleanliness by removing the
// link's own FromRes from every downstream link's inferred set, then
// physically removes any link that was a dirty-deleted tombstone and
// prunes resources that are no longer referenced by any surviving link.
func MarkLinksClean(state *model.BranchState, keys []model.LinkKey, propagate bool) []model.Link {
	var cleaned []model.Link
	for _, key := range keys {
		link, ok := state.Links[key]
		if !ok {
			continue
		}
		link.Dirty = false
		link.LastCleanVersion = ""
		link.InferredDirtiness = map[model.ResourceRef]model.InferredEntry{}
		state.Links[key] = link
		cleaned = append(cleaned, link)

		if propagate {
			removeInferredSourceDownstream(state, link.FromRes, link.FromRes)
		}

		if link.Deleted {
			delete(state.Links, key)
		}
	}
	pruneOrphanedTombstones(state)
	return cleaned
}

func removeInferredSourceDownstream(state *model.BranchState, seed model.ResourceRef, source model.ResourceRef) {
	visited := map[model.ResourceRef]bool{}
	var walk func(node model.ResourceRef)
	walk = func(node model.ResourceRef) {
		if visited[node] {
			return
		}
		visited[node] = true
		for key, link := range state.Links {
			if link.FromRes != node {
				continue
			}
			l := link
			l.RemoveInferred(source)
			state.Links[key] = l
			walk(link.ToRes)
		}
	}
	walk(seed)
}

// MarkInferredDirtinessClean implements spec §4.3's targeted variant:
// removes `source` from one link's inferred set and, if propagate, BFS
// walks downstream removing the same entry. Returns the (link, source)
// pairs cleaned for notification purposes.
func MarkInferredDirtinessClean(state *model.BranchState, linkKey model.LinkKey, source model.ResourceRef, propagate bool) []InferredClean {
	var cleaned []InferredClean
	link, ok := state.Links[linkKey]
	if !ok {
		return nil
	}
	if link.RemoveInferred(source) {
		state.Links[linkKey] = link
		cleaned = append(cleaned, InferredClean{Link: linkKey, Source: source})
	}

	if propagate {
		visited := map[model.ResourceRef]bool{link.FromRes: true}
		queue := []model.ResourceRef{link.ToRes}
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			if visited[node] {
				continue
			}
			visited[node] = true
			for key, l := range state.Links {
				if l.FromRes != node {
					continue
				}
				if l.RemoveInferred(source) {
					state.Links[key] = l
					cleaned = append(cleaned, InferredClean{Link: key, Source: source})
				}
				queue = append(queue, l.ToRes)
			}
		}
	}
	return cleaned
}

// InferredClean names one (link, source) pair whose inferred-dirtiness
// entry was removed; branchstore and its backends use this type
// directly rather than redeclaring it.
type InferredClean struct {
	Link   model.LinkKey
	Source model.ResourceRef
}

// pruneOrphanedTombstones removes deleted resources that no longer
// participate in any surviving link, along with inferred entries that
// referenced them (spec §4.3's final step, and invariant 2 in spec §8).
func pruneOrphanedTombstones(state *model.BranchState) {
	referenced := map[model.ResourceRef]bool{}
	for _, link := range state.Links {
		referenced[link.FromRes] = true
		referenced[link.ToRes] = true
	}
	var pruned []model.ResourceRef
	for toolID, groups := range state.Tools {
		for url, group := range groups {
			changed := false
			for resURL, resource := range group.Resources {
				if !resource.Deleted {
					continue
				}
				ref := model.ResourceRef{ToolID: toolID, ResourceGroupURL: url, URL: resURL}
				if !referenced[ref] {
					delete(group.Resources, resURL)
					pruned = append(pruned, ref)
					changed = true
				}
			}
			if changed {
				groups[url] = group
			}
		}
	}
	for key, link := range state.Links {
		l := link
		removed := false
		for _, ref := range pruned {
			if l.RemoveInferred(ref) {
				removed = true
			}
		}
		if removed {
			state.Links[key] = l
		}
	}
}

// MatchResources returns every resource in state that matches at least
// one of the given patterns (an empty pattern list matches everything),
// honoring includeDeleted.
func MatchResources(state *model.BranchState, patterns []model.Pattern, includeDeleted bool) ([]model.Resource, error) {
	var out []model.Resource
	for toolID, groups := range state.Tools {
		for groupURL, group := range groups {
			for _, resource := range group.Resources {
				if resource.Deleted && !includeDeleted {
					continue
				}
				if len(patterns) == 0 {
					out = append(out, resource)
					continue
				}
				for i := range patterns {
					ok, err := patterns[i].Matches(toolID, groupURL, resource.URL)
					if err != nil {
						return nil, err
					}
					if ok {
						out = append(out, resource)
						break
					}
				}
			}
		}
	}
	return out, nil
}

// MatchLinks returns every link matching at least one of the given
// patterns (empty matches everything).
func MatchLinks(state *model.BranchState, patterns []model.ResourceLinkPattern) ([]model.Link, error) {
	var out []model.Link
	for _, link := range state.Links {
		if len(patterns) == 0 {
			out = append(out, link)
			continue
		}
		for i := range patterns {
			ok, err := patterns[i].MatchesLink(link.FromRes, link.ToRes)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, link)
				break
			}
		}
	}
	return out, nil
}

// DirtyLinks returns every dirty link whose FromRes belongs to the given
// resource group; withInferred additionally includes clean links whose
// InferredDirtiness set is non-empty and traces back to that group.
func DirtyLinks(state *model.BranchState, toolID, groupURL string, withInferred bool) []model.Link {
	var out []model.Link
	for _, link := range state.Links {
		if link.Dirty && link.FromRes.ToolID == toolID && link.FromRes.ResourceGroupURL == groupURL {
			out = append(out, link)
			continue
		}
		if withInferred {
			for source := range link.InferredDirtiness {
				if source.ToolID == toolID && source.ResourceGroupURL == groupURL {
					out = append(out, link)
					break
				}
			}
		}
	}
	return out
}

// ExpandLinks resolves every link touching any of the given resource
// refs, on either endpoint.
func ExpandLinks(state *model.BranchState, refs []model.ResourceRef) []model.Link {
	want := map[model.ResourceRef]bool{}
	for _, r := range refs {
		want[r] = true
	}
	var out []model.Link
	for _, link := range state.Links {
		if want[link.FromRes] || want[link.ToRes] {
			out = append(out, link)
		}
	}
	return out
}

// DependencyGraph performs the breadth-first traversal of spec §4.5.
func DependencyGraph(state *model.BranchState, seed model.ResourceRef, upstream bool, maxDepth int) []model.Link {
	visited := map[model.LinkKey]bool{}
	visitedNodes := map[model.ResourceRef]bool{seed: true}
	var result []model.Link

	frontier := []model.ResourceRef{seed}
	depth := 0
	for len(frontier) > 0 {
		if maxDepth > 0 && depth >= maxDepth {
			break
		}
		var next []model.ResourceRef
		for _, node := range frontier {
			for key, link := range state.Links {
				var neighbor model.ResourceRef
				if upstream {
					if link.ToRes != node {
						continue
					}
					neighbor = link.FromRes
				} else {
					if link.FromRes != node {
						continue
					}
					neighbor = link.ToRes
				}
				if !visited[key] {
					visited[key] = true
					result = append(result, link)
				}
				if !visitedNodes[neighbor] {
					visitedNodes[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
		depth++
	}
	return result
}

// CompilePattern is a small helper used by the RPC layer to validate a
// URL pattern before it reaches storage, returning a ValidationError-shaped
// error message on failure.
func CompilePattern(pattern string) error {
	_, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return nil
}
