// Package rpcapi defines Depi's RPC surface (spec §6) as plain Go
// structs rather than protobuf-generated types: per spec §1, individual
// request/response message shapes are treated as opaque by external
// adapters, so there is no wire-compatibility requirement forcing a
// protobuf schema. Marshalling uses the gob codec registered in
// codec.go and transported over a real google.golang.org/grpc server
// via a hand-written grpc.ServiceDesc (service.go).
package rpcapi

// Result is embedded in every response: ok/msg per spec §6 ("every
// response carries (ok, msg) plus its payload").
type Result struct {
	OK  bool
	Msg string
}

func Ok() Result              { return Result{OK: true} }
func Fail(msg string) Result  { return Result{OK: false, Msg: msg} }

// --- Session lifecycle -----------------------------------------------

type LoginRequest struct {
	User     string
	Password string
	Project  string
	ToolID   string
}

type LoginResponse struct {
	Result
	SessionID string
}

type LoginWithTokenRequest struct {
	Token   string
	Project string
	ToolID  string
}

type LogoutRequest struct {
	SessionID string
}

type LogoutResponse struct {
	Result
}

type PingRequest struct {
	SessionID string
}

type PingResponse struct {
	Result
}

// --- Branch/tag catalog -----------------------------------------------

type GetBranchListRequest struct {
	SessionID string
}

type GetBranchListResponse struct {
	Result
	Branches []string
	Tags     []string
}

type CurrentBranchRequest struct {
	SessionID string
}

type CurrentBranchResponse struct {
	Result
	Branch string
}

type SetBranchRequest struct {
	SessionID string
	Name      string
}

type SetBranchResponse struct {
	Result
}

type CreateBranchRequest struct {
	SessionID string
	Name      string
	From      string
}

type CreateBranchResponse struct {
	Result
}

type CreateTagRequest struct {
	SessionID  string
	Name       string
	FromBranch string
}

type CreateTagResponse struct {
	Result
}

type GetResourceGroupsForTagRequest struct {
	SessionID string
	Tag       string
	ToolID    string
}

type GetResourceGroupsForTagResponse struct {
	Result
	Groups []ResourceGroup
}

// --- Resource-group management -----------------------------------------

type ResourceGroup struct {
	ToolID  string
	URL     string
	Name    string
	Version string
}

type Resource struct {
	ToolID           string
	ResourceGroupURL string
	URL              string
	Name             string
	ID               string
	Deleted          bool
}

type AddResourceGroupRequest struct {
	SessionID string
	Group     ResourceGroup
}

type AddResourceGroupResponse struct {
	Result
}

type EditResourceGroupRequest struct {
	SessionID  string
	ToolID     string
	URL        string
	NewName    string
	NewVersion string
}

type EditResourceGroupResponse struct {
	Result
}

type RemoveResourceGroupRequest struct {
	SessionID string
	ToolID    string
	URL       string
}

type RemoveResourceGroupResponse struct {
	Result
}

type GetResourceGroupsRequest struct {
	SessionID string
	ToolID    string
}

type GetResourceGroupsResponse struct {
	Result
	Groups []ResourceGroup
}

type GetLastKnownVersionRequest struct {
	SessionID string
	ToolID    string
	URL       string
}

type GetLastKnownVersionResponse struct {
	Result
	Version string
	Found   bool
}

// --- Resource management -----------------------------------------------

type AddResourceRequest struct {
	SessionID string
	ToolID    string
	GroupURL  string
	Resource  Resource
}

type AddResourceResponse struct {
	Result
}

type Pattern struct {
	ToolID           string
	ResourceGroupURL string
	URLPattern       string
}

type GetResourcesRequest struct {
	SessionID      string
	Patterns       []Pattern
	IncludeDeleted bool
}

type GetResourcesResponse struct {
	Result
	Resources []Resource
}

type GetResourcesAsStreamRequest struct {
	SessionID      string
	Patterns       []Pattern
	IncludeDeleted bool
}

type GetResourcesAsStreamResponse struct {
	Result
	Resource Resource
}

// --- Link management and traversal --------------------------------------

type ResourceRef struct {
	ToolID           string
	ResourceGroupURL string
	URL              string
}

type Link struct {
	From             ResourceRef
	To               ResourceRef
	Dirty            bool
	Deleted          bool
	LastCleanVersion string
}

type LinkResourcesRequest struct {
	SessionID string
	From      ResourceRef
	To        ResourceRef
}

type LinkResourcesResponse struct {
	Result
	Link Link
}

type UnlinkResourcesRequest struct {
	SessionID string
	From      ResourceRef
	To        ResourceRef
}

type UnlinkResourcesResponse struct {
	Result
}

type LinkPattern struct {
	From Pattern
	To   Pattern
}

type GetLinksRequest struct {
	SessionID string
	Patterns  []LinkPattern
}

type GetLinksResponse struct {
	Result
	Links []Link
}

type GetLinksAsStreamRequest struct {
	SessionID string
	Patterns  []LinkPattern
}

type GetLinksAsStreamResponse struct {
	Result
	Link Link
}

type GetAllLinksAsStreamRequest struct {
	SessionID      string
	IncludeDeleted bool
}

type GetAllLinksAsStreamResponse struct {
	Result
	Link Link
}

type GetDependencyGraphRequest struct {
	SessionID string
	Seed      ResourceRef
	Upstream  bool
	MaxDepth  int
}

type GetDependencyGraphResponse struct {
	Result
	Links []Link
}

// --- Change processing ---------------------------------------------------

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRenamed
	ChangeRemoved
)

type Change struct {
	Kind    ChangeKind
	OldURL  string
	OldName string
	OldID   string
	NewURL  string
	NewName string
	NewID   string
}

type UpdateResourceGroupRequest struct {
	SessionID        string
	ToolID           string
	ResourceGroupURL string
	Version          string
	Changes          []Change
}

type UpdateResourceGroupResponse struct {
	Result
	DirtiedLinks []Link
}

// --- Dirty/clean management -----------------------------------------------

type LinkKey struct {
	From ResourceRef
	To   ResourceRef
}

type MarkLinksCleanRequest struct {
	SessionID string
	Links     []LinkKey
	Propagate bool
}

type MarkLinksCleanResponse struct {
	Result
	Cleaned []Link
}

type MarkInferredDirtinessCleanRequest struct {
	SessionID string
	Link      LinkKey
	Source    ResourceRef
	Propagate bool
}

type InferredClean struct {
	Link   LinkKey
	Source ResourceRef
}

type MarkInferredDirtinessCleanResponse struct {
	Result
	Cleaned []InferredClean
}

type GetDirtyLinksRequest struct {
	SessionID    string
	ToolID       string
	GroupURL     string
	WithInferred bool
}

type GetDirtyLinksResponse struct {
	Result
	Links []Link
}

type GetDirtyLinksAsStreamRequest struct {
	SessionID    string
	ToolID       string
	GroupURL     string
	WithInferred bool
}

type GetDirtyLinksAsStreamResponse struct {
	Result
	Link Link
}

// --- Blackboard transactional staging --------------------------------------

type AddResourcesToBlackboardRequest struct {
	SessionID string
	ToolID    string
	Group     ResourceGroup
	Resources []Resource
}

type AddResourcesToBlackboardResponse struct {
	Result
}

type RemoveResourcesFromBlackboardRequest struct {
	SessionID string
	Refs      []ResourceRef
}

type RemoveResourcesFromBlackboardResponse struct {
	Result
}

type LinkBlackboardResourcesRequest struct {
	SessionID string
	From      ResourceRef
	To        ResourceRef
}

type LinkBlackboardResourcesResponse struct {
	Result
}

type UnlinkBlackboardResourcesRequest struct {
	SessionID string
	From      ResourceRef
	To        ResourceRef
}

type UnlinkBlackboardResourcesResponse struct {
	Result
}

type SaveBlackboardRequest struct {
	SessionID        string
	ExpectedVersions map[ResourceGroupKey]string
}

type ResourceGroupKey struct {
	ToolID string
	URL    string
}

type SaveBlackboardResponse struct {
	Result
	DirtiedLinks []Link
}

type ClearBlackboardRequest struct {
	SessionID string
}

type ClearBlackboardResponse struct {
	Result
}

type GetBlackboardResourcesRequest struct {
	SessionID string
}

type GetBlackboardResourcesResponse struct {
	Result
	Groups []ResourceGroup
}

// --- Subscriptions -----------------------------------------------------

type WatchBlackboardRequest struct {
	SessionID string
}

type WatchBlackboardResponse struct {
	Result
	Operation string
	Payload   map[string]string
}

type UnwatchBlackboardRequest struct {
	SessionID string
}

type UnwatchBlackboardResponse struct {
	Result
}

type WatchResourceGroupRequest struct {
	SessionID string
	ToolID    string
	URL       string
}

type WatchResourceGroupResponse struct {
	Result
}

type UnwatchResourceGroupRequest struct {
	SessionID string
	ToolID    string
	URL       string
}

type UnwatchResourceGroupResponse struct {
	Result
}

type RegisterCallbackRequest struct {
	SessionID string
}

type RegisterCallbackResponse struct {
	Result
	Operation string
	ToolID    string
	GroupURL  string
	Payload   map[string]string
}

type WatchDepiRequest struct {
	SessionID string
}

type WatchDepiResponse struct {
	Result
	Operation string
	Payload   map[string]string
}

type UnwatchDepiRequest struct {
	SessionID string
}

type UnwatchDepiResponse struct {
	Result
}

// --- Batched updates -----------------------------------------------------

type UpdateKind int

const (
	UpdateAddResource UpdateKind = iota
	UpdateRemoveResource
	UpdateAddLink
	UpdateRemoveLink
)

type DepiUpdate struct {
	Kind     UpdateKind
	Resource Resource
	Ref      ResourceRef
	From     ResourceRef
	To       ResourceRef
}

type UpdateDepiRequest struct {
	SessionID string
	Updates   []DepiUpdate
}

type UpdateDepiResponse struct {
	Result
	Applied int
	Skipped int
}
