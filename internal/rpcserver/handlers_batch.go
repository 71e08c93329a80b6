package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
)

// UpdateDepi applies a batch of resource/link updates against the
// session's current branch. Per spec §7: a sub-update the caller isn't
// authorized for is skipped (counted, not an error); a storage failure
// aborts the whole batch, leaving it unsaved. Repeated AddResource
// entries for the same (toolId, groupUrl, url) within one call
// collapse to the last one, matching the original's batching.
func (s *Server) UpdateDepi(ctx context.Context, req *rpcapi.UpdateDepiRequest) (*rpcapi.UpdateDepiResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UpdateDepiResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.UpdateDepiResponse{Result: rpcapi.Fail(err.Error())}, nil
	}

	dedupedAdds := map[string]rpcapi.DepiUpdate{}
	var ordered []rpcapi.DepiUpdate
	for _, u := range req.Updates {
		if u.Kind != rpcapi.UpdateAddResource {
			ordered = append(ordered, u)
			continue
		}
		key := u.Resource.ToolID + "|" + u.Resource.ResourceGroupURL + "|" + u.Resource.URL
		if _, exists := dedupedAdds[key]; !exists {
			ordered = append(ordered, u)
		}
		dedupedAdds[key] = u
	}
	for i, u := range ordered {
		if u.Kind == rpcapi.UpdateAddResource {
			key := u.Resource.ToolID + "|" + u.Resource.ResourceGroupURL + "|" + u.Resource.URL
			ordered[i] = dedupedAdds[key]
		}
	}

	applied, skipped := 0, 0
	for _, u := range ordered {
		class, args := updateCapability(u)
		if !s.authorize(sess.User, class, args...) {
			skipped++
			continue
		}
		if err := applyDepiUpdate(ctx, branch, u); err != nil {
			return &rpcapi.UpdateDepiResponse{Result: rpcapi.Fail(err.Error())}, nil
		}
		applied++
	}
	if applied == 0 {
		return &rpcapi.UpdateDepiResponse{Result: rpcapi.Ok(), Applied: 0, Skipped: skipped}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.UpdateDepiResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "UpdateDepi", map[string]string{"applied": itoa(applied), "skipped": itoa(skipped)})
	s.publish(pubsub.DepiEvent, branch.Name(), "UpdateDepi", "", "", nil)
	return &rpcapi.UpdateDepiResponse{Result: rpcapi.Ok(), Applied: applied, Skipped: skipped}, nil
}

func updateCapability(u rpcapi.DepiUpdate) (authz.CapabilityClass, []string) {
	switch u.Kind {
	case rpcapi.UpdateAddResource:
		return authz.CapabilityClass("AddResource"), []string{u.Resource.ToolID, u.Resource.ResourceGroupURL, u.Resource.URL}
	case rpcapi.UpdateRemoveResource:
		return authz.CapabilityClass("RemoveResource"), []string{u.Ref.ToolID, u.Ref.ResourceGroupURL, u.Ref.URL}
	case rpcapi.UpdateAddLink:
		return authz.CapabilityClass("LinkResources"), []string{u.From.URL, u.To.URL}
	default:
		return authz.CapabilityClass("UnlinkResources"), []string{u.From.URL, u.To.URL}
	}
}

func applyDepiUpdate(ctx context.Context, branch branchstore.Branch, u rpcapi.DepiUpdate) error {
	switch u.Kind {
	case rpcapi.UpdateAddResource:
		return branch.AddResource(ctx, u.Resource.ToolID, u.Resource.ResourceGroupURL, toModelResource(u.Resource))
	case rpcapi.UpdateRemoveResource:
		return branch.RemoveResource(ctx, toModelRef(u.Ref))
	case rpcapi.UpdateAddLink:
		_, err := branch.LinkResources(ctx, toModelRef(u.From), toModelRef(u.To))
		return err
	default:
		return branch.UnlinkResources(ctx, toModelRef(u.From), toModelRef(u.To))
	}
}
