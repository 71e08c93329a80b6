// Package blackboard implements per-user staging (spec §4.7): changes
// an adapter reports are held in a private working copy until
// SaveBlackboard atomically reconciles them into the branch, subject to
// an optimistic version check against the resource group's last known
// version at staging time.
package blackboard

import (
	"context"
	"sync"

	"github.com/caid-tools/depi/internal/branchstore"
	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/caid-tools/depi/internal/model"
)

// Store holds one Blackboard per user, scoped to a single branch.
type Store struct {
	mu     sync.Mutex
	boards map[string]*model.Blackboard
}

// NewStore returns an empty blackboard store.
func NewStore() *Store {
	return &Store{boards: map[string]*model.Blackboard{}}
}

func (s *Store) board(user string) *model.Blackboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[user]
	if !ok {
		b = model.NewBlackboard(user)
		s.boards[user] = b
	}
	return b
}

// StageResourceGroup records a new, possibly-not-yet-committed
// ResourceGroup revision in user's private working copy, without
// touching the branch.
func (s *Store) StageResourceGroup(user string, group model.ResourceGroup) {
	s.board(user).PutGroup(group)
}

// StageLinkChange records a link add/remove pending promotion.
func (s *Store) StageLinkChange(user string, link model.Link, deleted bool) {
	board := s.board(user)
	if deleted {
		board.DeletedLinks[link.Key()] = link
		delete(board.ChangedLinks, link.Key())
		return
	}
	board.ChangedLinks[link.Key()] = link
	delete(board.DeletedLinks, link.Key())
}

// RemoveResources drops the named resource URLs from a staged group,
// leaving the rest of that group's staged state untouched. Removing
// from a group that was never staged is a no-op.
func (s *Store) RemoveResources(user, toolID, groupURL string, urls []string) {
	board := s.board(user)
	group, ok := board.Group(toolID, groupURL)
	if !ok {
		return
	}
	for _, u := range urls {
		delete(group.Resources, u)
	}
	board.PutGroup(group)
}

// Groups returns every resource group currently staged for user.
func (s *Store) Groups(user string) []model.ResourceGroup {
	board := s.board(user)
	var out []model.ResourceGroup
	for _, groups := range board.Resources {
		for _, g := range groups {
			out = append(out, g)
		}
	}
	return out
}

// Clear discards a user's staged changes without promoting them.
func (s *Store) Clear(user string) {
	s.board(user).Clear()
}

// ReconciledEvent names one side-effect of reconciling a staged board
// against a concurrent main-branch resource group change, reported back
// to the caller for pubsub fan-out.
type ReconciledEvent struct {
	User      string
	Operation string
	ToolID    string
	GroupURL  string
}

// ReconcileResourceGroupChange walks every user's staged board and
// reconciles it against a ResourceGroupChange that just landed on
// (toolID, groupURL) on main (spec §4.7's "reconciliation during
// mutations on the main branch"): a staged group's version is bumped
// to match, staged resources the change renamed follow the rename
// (including their endpoint on any staged link), and staged resources
// -- and any staged link touching them -- the change removed are
// dropped. Users with no staged group at that key are untouched.
func (s *Store) ReconcileResourceGroupChange(toolID, groupURL string, change model.ResourceGroupChange) []ReconciledEvent {
	s.mu.Lock()
	users := make([]string, 0, len(s.boards))
	for user := range s.boards {
		users = append(users, user)
	}
	s.mu.Unlock()

	var events []ReconciledEvent
	for _, user := range users {
		board := s.board(user)
		group, ok := board.Group(toolID, groupURL)
		if !ok {
			continue
		}

		if group.Version != change.Version {
			group.Version = change.Version
			events = append(events, ReconciledEvent{User: user, Operation: "ResourceGroupVersionChanged", ToolID: toolID, GroupURL: groupURL})
		}

		for _, c := range change.Changes {
			switch c.Kind {
			case model.Renamed, model.Modified:
				if !c.RenamesURL() {
					continue
				}
				if resource, exists := group.Resources[c.OldURL]; exists {
					delete(group.Resources, c.OldURL)
					resource.URL, resource.Name, resource.ID = c.NewURL, c.NewName, c.NewID
					group.Resources[c.NewURL] = resource
					events = append(events, ReconciledEvent{User: user, Operation: "RenameResource", ToolID: toolID, GroupURL: groupURL})
				}
				oldRef := model.ResourceRef{ToolID: toolID, ResourceGroupURL: groupURL, URL: c.OldURL}
				newRef := model.ResourceRef{ToolID: toolID, ResourceGroupURL: groupURL, URL: c.NewURL}
				if renameStagedLinkEndpoints(board, oldRef, newRef) {
					events = append(events, ReconciledEvent{User: user, Operation: "RenameLink", ToolID: toolID, GroupURL: groupURL})
				}

			case model.Removed:
				removedURL := c.OldURL
				if removedURL == "" {
					removedURL = c.NewURL
				}
				if _, exists := group.Resources[removedURL]; exists {
					delete(group.Resources, removedURL)
					events = append(events, ReconciledEvent{User: user, Operation: "RemoveResource", ToolID: toolID, GroupURL: groupURL})
				}
				removedRef := model.ResourceRef{ToolID: toolID, ResourceGroupURL: groupURL, URL: removedURL}
				if removeStagedLinksTouching(board, removedRef) {
					events = append(events, ReconciledEvent{User: user, Operation: "RemoveLink", ToolID: toolID, GroupURL: groupURL})
				}
			}
		}

		board.PutGroup(group)
	}
	return events
}

func renameStagedLinkEndpoints(board *model.Blackboard, oldRef, newRef model.ResourceRef) bool {
	renamed := false
	for _, links := range []map[model.LinkKey]model.Link{board.ChangedLinks, board.DeletedLinks} {
		for key, link := range links {
			if link.FromRes != oldRef && link.ToRes != oldRef {
				continue
			}
			delete(links, key)
			if link.FromRes == oldRef {
				link.FromRes = newRef
			}
			if link.ToRes == oldRef {
				link.ToRes = newRef
			}
			links[link.Key()] = link
			renamed = true
		}
	}
	return renamed
}

func removeStagedLinksTouching(board *model.Blackboard, ref model.ResourceRef) bool {
	removed := false
	for _, links := range []map[model.LinkKey]model.Link{board.ChangedLinks, board.DeletedLinks} {
		for key, link := range links {
			if link.FromRes == ref || link.ToRes == ref {
				delete(links, key)
				removed = true
			}
		}
	}
	return removed
}

// IsEmpty reports whether user has no staged changes.
func (s *Store) IsEmpty(user string) bool {
	return s.board(user).IsEmpty()
}

// SaveBlackboard promotes every staged resource group and link change
// for user into branch, applying the change processor to each staged
// resource group via its optimistic expectedVersion, then clears the
// board on success. A version mismatch aborts before anything is
// written and returns a Conflict.
func (s *Store) SaveBlackboard(ctx context.Context, branch branchstore.Branch, user string, expectedVersions map[model.ResourceGroupKey]string) ([]model.Link, error) {
	board := s.board(user)
	if board.IsEmpty() {
		return nil, nil
	}

	for toolID, groups := range board.Resources {
		for url := range groups {
			key := model.ResourceGroupKey{ToolID: toolID, URL: url}
			expected, checked := expectedVersions[key]
			if !checked {
				continue
			}
			current, ok, err := branch.GetLastKnownVersion(ctx, toolID, url)
			if err != nil {
				return nil, err
			}
			if ok && current != expected {
				return nil, depierrors.Conflict("resource group " + url + " was modified concurrently").Err()
			}
		}
	}

	var allDirtied []model.Link
	for toolID, groups := range board.Resources {
		for url, group := range groups {
			if _, exists, err := branch.GetResourceGroup(ctx, toolID, url); err != nil {
				return nil, err
			} else if !exists {
				if err := branch.AddResourceGroup(ctx, group); err != nil {
					return nil, err
				}
				continue
			}
			change := model.ResourceGroupChange{ToolID: toolID, ResourceGroupURL: url, Version: group.Version}
			dirtied, err := branch.UpdateResourceGroup(ctx, change)
			if err != nil {
				return nil, err
			}
			allDirtied = append(allDirtied, dirtied...)
			if err := branch.EditResourceGroup(ctx, toolID, url, func(model.ResourceGroup) model.ResourceGroup { return group }); err != nil {
				return nil, err
			}
		}
	}

	for _, link := range board.ChangedLinks {
		if _, err := branch.LinkResources(ctx, link.FromRes, link.ToRes); err != nil {
			return nil, err
		}
	}
	for _, link := range board.DeletedLinks {
		if err := branch.UnlinkResources(ctx, link.FromRes, link.ToRes); err != nil {
			return nil, err
		}
	}

	if err := branch.SaveBranchState(ctx); err != nil {
		return nil, err
	}
	board.Clear()
	return allDirtied, nil
}
