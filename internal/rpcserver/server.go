// Package rpcserver wires the branch catalog, blackboard, session
// manager, authorization evaluator and pub/sub dispatcher together
// behind the rpcapi.Server interface (spec §4, §6): one handler method
// per RPC, each following the same shape — validate session, check
// authorization, resolve the session's current branch, delegate to the
// storage/blackboard layer, fan out resulting events, and optionally
// write an audit-log line.
package rpcserver

import (
	"context"
	"strconv"
	"sync"

	"github.com/caid-tools/depi/internal/audit"
	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/blackboard"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/model"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
	"github.com/caid-tools/depi/internal/session"
)

// Server implements rpcapi.Server.
type Server struct {
	catalog    *branchstore.Catalog
	blackboard *blackboard.Store
	sessions   *session.Manager
	authz      *authz.Evaluator
	dispatcher *pubsub.Dispatcher
	audit      *audit.Logger
	seps       map[string]string

	// mu is the process-wide write lock spec §5 requires: every
	// mutating RPC holds it from its storage/blackboard delegate
	// through the resulting pubsub fan-out, so two concurrent
	// mutations can't interleave their writes with their publishes.
	mu sync.Mutex
}

var _ rpcapi.Server = (*Server)(nil)

// New builds a Server. auditLogger may be nil, in which case mutating
// RPCs skip audit-log writes entirely.
func New(catalog *branchstore.Catalog, boards *blackboard.Store, sessions *session.Manager, az *authz.Evaluator, pathSeparators map[string]string, auditLogger *audit.Logger) *Server {
	s := &Server{
		catalog:    catalog,
		blackboard: boards,
		sessions:   sessions,
		authz:      az,
		seps:       pathSeparators,
		audit:      auditLogger,
	}
	s.dispatcher = pubsub.NewDispatcher(sessions)
	return s
}

func (s *Server) session(id string) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, errInvalidSession
	}
	return sess, nil
}

func (s *Server) authorize(user string, class authz.CapabilityClass, args ...string) bool {
	return s.authz.IsAuthorized(user, class, args...)
}

// lockMutation acquires the server's write lock and returns the unlock
// func; every mutating handler calls this immediately after session
// validation and defers the result (spec §5).
func (s *Server) lockMutation() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Server) currentBranch(ctx context.Context, sess *session.Session) (branchstore.Branch, error) {
	return s.catalog.Resolve(ctx, sess.CurrentBranch)
}

func (s *Server) mainBranch(ctx context.Context) (branchstore.Branch, error) {
	return s.catalog.OpenBranch(ctx, "main")
}

func (s *Server) recordAudit(user, operation string, fields map[string]string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(user, operation, fields)
}

func (s *Server) publish(kind pubsub.EventKind, branch, operation, toolID, groupURL string, payload map[string]string) {
	s.dispatcher.Publish(pubsub.Event{
		Kind:      kind,
		Operation: operation,
		Branch:    branch,
		ToolID:    toolID,
		GroupURL:  groupURL,
		Payload:   payload,
	})
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errInvalidSession = sentinelError("session is unknown or has expired, please log in again")

func itoa(n int) string { return strconv.Itoa(n) }

// --- conversions between rpcapi wire types and internal/model -------------

func toModelRef(r rpcapi.ResourceRef) model.ResourceRef {
	return model.ResourceRef{ToolID: r.ToolID, ResourceGroupURL: r.ResourceGroupURL, URL: r.URL}
}

func fromModelRef(r model.ResourceRef) rpcapi.ResourceRef {
	return rpcapi.ResourceRef{ToolID: r.ToolID, ResourceGroupURL: r.ResourceGroupURL, URL: r.URL}
}

func toModelResource(r rpcapi.Resource) model.Resource {
	return model.Resource{Name: r.Name, ID: r.ID, URL: r.URL, Deleted: r.Deleted}
}

func fromModelResource(toolID, groupURL string, r model.Resource) rpcapi.Resource {
	return rpcapi.Resource{ToolID: toolID, ResourceGroupURL: groupURL, URL: r.URL, Name: r.Name, ID: r.ID, Deleted: r.Deleted}
}

func toModelGroup(g rpcapi.ResourceGroup) model.ResourceGroup {
	return model.ResourceGroup{ToolID: g.ToolID, URL: g.URL, Name: g.Name, Version: g.Version, Resources: map[string]model.Resource{}}
}

func fromModelGroup(g model.ResourceGroup) rpcapi.ResourceGroup {
	return rpcapi.ResourceGroup{ToolID: g.ToolID, URL: g.URL, Name: g.Name, Version: g.Version}
}

func fromModelLink(l model.Link) rpcapi.Link {
	return rpcapi.Link{
		From:             fromModelRef(l.FromRes),
		To:               fromModelRef(l.ToRes),
		Dirty:            l.Dirty,
		Deleted:          l.Deleted,
		LastCleanVersion: l.LastCleanVersion,
	}
}

func fromModelLinks(links []model.Link) []rpcapi.Link {
	out := make([]rpcapi.Link, len(links))
	for i, l := range links {
		out[i] = fromModelLink(l)
	}
	return out
}

func toModelPattern(p rpcapi.Pattern) model.Pattern {
	return model.Pattern{ToolID: p.ToolID, ResourceGroupURL: p.ResourceGroupURL, URLPattern: p.URLPattern}
}

func toModelPatterns(ps []rpcapi.Pattern) []model.Pattern {
	out := make([]model.Pattern, len(ps))
	for i, p := range ps {
		out[i] = toModelPattern(p)
	}
	return out
}

func toModelLinkPattern(p rpcapi.LinkPattern) model.ResourceLinkPattern {
	return model.ResourceLinkPattern{From: toModelPattern(p.From), To: toModelPattern(p.To)}
}

func toModelLinkPatterns(ps []rpcapi.LinkPattern) []model.ResourceLinkPattern {
	out := make([]model.ResourceLinkPattern, len(ps))
	for i, p := range ps {
		out[i] = toModelLinkPattern(p)
	}
	return out
}

func toModelChangeKind(k rpcapi.ChangeKind) model.ChangeKind {
	switch k {
	case rpcapi.ChangeModified:
		return model.Modified
	case rpcapi.ChangeRenamed:
		return model.Renamed
	case rpcapi.ChangeRemoved:
		return model.Removed
	default:
		return model.Added
	}
}

func toModelChanges(changes []rpcapi.Change) map[string]model.Change {
	out := make(map[string]model.Change, len(changes))
	for _, c := range changes {
		key := c.NewURL
		if key == "" {
			key = c.OldURL
		}
		out[key] = model.Change{
			Kind:    toModelChangeKind(c.Kind),
			OldURL:  c.OldURL,
			OldName: c.OldName,
			OldID:   c.OldID,
			NewURL:  c.NewURL,
			NewName: c.NewName,
			NewID:   c.NewID,
		}
	}
	return out
}

func toModelLinkKey(k rpcapi.LinkKey) model.LinkKey {
	return model.LinkKey{From: toModelRef(k.From), To: toModelRef(k.To)}
}

func rpcToModelResourceGroupChange(req *rpcapi.UpdateResourceGroupRequest) model.ResourceGroupChange {
	return model.ResourceGroupChange{
		ToolID:           req.ToolID,
		ResourceGroupURL: req.ResourceGroupURL,
		Version:          req.Version,
		Changes:          toModelChanges(req.Changes),
	}
}
