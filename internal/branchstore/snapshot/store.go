// Package snapshot implements the embedded storage backend (spec §4.1):
// branch state is serialized as one JSON document per commit, numbered
// 1..N under a per-branch directory; tags are a pointer file naming a
// (branch, version) pair.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/changeproc"
	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/caid-tools/depi/internal/model"
)

// tagPointer is the contents of <stateDir>/tags/<name>.
type tagPointer struct {
	Branch  string `json:"branch"`
	Version int    `json:"version"`
}

// document is the on-disk shape of one numbered snapshot file, matching
// spec §6's persistence layout.
type document struct {
	Name          string                              `json:"name"`
	LastVersion   int                                 `json:"lastVersion"`
	ParentName    string                              `json:"parentName,omitempty"`
	ParentVersion int                                 `json:"parentVersion,omitempty"`
	Links         []linkDoc                           `json:"links"`
	Tools         map[string]map[string]groupDoc       `json:"tools"`
}

type groupDoc struct {
	Name      string                  `json:"name"`
	Version   string                  `json:"version"`
	Resources map[string]resourceDoc `json:"resources"`
}

type resourceDoc struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Deleted bool   `json:"deleted"`
}

type refDoc struct {
	ToolID           string `json:"toolId"`
	ResourceGroupURL string `json:"resourceGroupUrl"`
	URL              string `json:"url"`
}

type inferredDoc struct {
	Source           refDoc `json:"source"`
	LastCleanVersion string `json:"lastCleanVersion"`
}

type linkDoc struct {
	From             refDoc        `json:"from"`
	To               refDoc        `json:"to"`
	Dirty            bool          `json:"dirty"`
	Deleted          bool          `json:"deleted"`
	LastCleanVersion string        `json:"lastCleanVersion,omitempty"`
	Inferred         []inferredDoc `json:"inferred,omitempty"`
}

func toRef(r refDoc) model.ResourceRef {
	return model.ResourceRef{ToolID: r.ToolID, ResourceGroupURL: r.ResourceGroupURL, URL: r.URL}
}

func fromRef(r model.ResourceRef) refDoc {
	return refDoc{ToolID: r.ToolID, ResourceGroupURL: r.ResourceGroupURL, URL: r.URL}
}

func toState(d document) *model.BranchState {
	state := &model.BranchState{
		Name:          d.Name,
		ParentBranch:  d.ParentName,
		ParentVersion: d.ParentVersion,
		LastVersion:   d.LastVersion,
		Tools:         map[string]map[string]model.ResourceGroup{},
		Links:         map[model.LinkKey]model.Link{},
	}
	for toolID, groups := range d.Tools {
		converted := map[string]model.ResourceGroup{}
		for url, g := range groups {
			resources := map[string]model.Resource{}
			for rurl, r := range g.Resources {
				resources[rurl] = model.Resource{Name: r.Name, ID: r.ID, URL: r.URL, Deleted: r.Deleted}
			}
			converted[url] = model.ResourceGroup{ToolID: toolID, URL: url, Name: g.Name, Version: g.Version, Resources: resources}
		}
		state.Tools[toolID] = converted
	}
	for _, l := range d.Links {
		link := model.Link{
			FromRes:           toRef(l.From),
			ToRes:             toRef(l.To),
			Dirty:             l.Dirty,
			Deleted:           l.Deleted,
			LastCleanVersion:  l.LastCleanVersion,
			InferredDirtiness: map[model.ResourceRef]model.InferredEntry{},
		}
		for _, inf := range l.Inferred {
			source := toRef(inf.Source)
			link.InferredDirtiness[source] = model.InferredEntry{Source: source, LastCleanVersion: inf.LastCleanVersion}
		}
		state.Links[link.Key()] = link
	}
	return state
}

func toDocument(state *model.BranchState) document {
	d := document{
		Name:          state.Name,
		LastVersion:   state.LastVersion,
		ParentName:    state.ParentBranch,
		ParentVersion: state.ParentVersion,
		Tools:         map[string]map[string]groupDoc{},
	}
	for toolID, groups := range state.Tools {
		converted := map[string]groupDoc{}
		for url, g := range groups {
			resources := map[string]resourceDoc{}
			for rurl, r := range g.Resources {
				resources[rurl] = resourceDoc{Name: r.Name, ID: r.ID, URL: r.URL, Deleted: r.Deleted}
			}
			converted[url] = groupDoc{Name: g.Name, Version: g.Version, Resources: resources}
		}
		d.Tools[toolID] = converted
	}
	keys := make([]model.LinkKey, 0, len(state.Links))
	for k := range state.Links {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	for _, k := range keys {
		l := state.Links[k]
		ld := linkDoc{
			From:             fromRef(l.FromRes),
			To:               fromRef(l.ToRes),
			Dirty:            l.Dirty,
			Deleted:          l.Deleted,
			LastCleanVersion: l.LastCleanVersion,
		}
		for _, inf := range l.InferredDirtiness {
			ld.Inferred = append(ld.Inferred, inferredDoc{Source: fromRef(inf.Source), LastCleanVersion: inf.LastCleanVersion})
		}
		d.Links = append(d.Links, ld)
	}
	return d
}

// Store is the embedded snapshot backend for a single Depi deployment
// directory. The branch/tag catalog reaches it through CatalogBackend,
// which adapts it to branchstore.Backend.
type Store struct {
	dir            string
	pathSeparators changeproc.PathSeparators
	mu             sync.Mutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string, pathSeparators map[string]string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tags"), 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, pathSeparators: pathSeparators}, nil
}

func (s *Store) branchDir(name string) string {
	return filepath.Join(s.dir, name)
}

// latestVersion scans <dir>/<branch>/ for the maximum-numbered snapshot
// file, per spec §6's load-time scan rule.
func (s *Store) latestVersion(name string) (int, error) {
	entries, err := os.ReadDir(s.branchDir(name))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	max := 0
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func (s *Store) load(name string) (*model.BranchState, error) {
	version, err := s.latestVersion(name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, os.ErrNotExist
	}
	return s.loadVersion(name, version)
}

func (s *Store) loadVersion(name string, version int) (*model.BranchState, error) {
	data, err := os.ReadFile(filepath.Join(s.branchDir(name), strconv.Itoa(version)))
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return toState(doc), nil
}

func (s *Store) write(state *model.BranchState) error {
	if err := os.MkdirAll(s.branchDir(state.Name), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(toDocument(state), "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.branchDir(state.Name), strconv.Itoa(state.LastVersion))
	return os.WriteFile(path, data, 0o644)
}

// Exists reports whether a branch with the given name has at least one
// committed snapshot.
func (s *Store) Exists(name string) bool {
	v, err := s.latestVersion(name)
	return err == nil && v > 0
}

// Branches lists every branch name that has at least one snapshot.
func (s *Store) Branches() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "tags" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CreateTag pins name at branch's current lastVersion.
func (s *Store) CreateTag(name, branch string) error {
	version, err := s.latestVersion(branch)
	if err != nil {
		return err
	}
	if version == 0 {
		return depierrors.NotFound("branch", branch).Err()
	}
	data, err := json.Marshal(tagPointer{Branch: branch, Version: version})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, "tags", name), data, 0o644)
}

// ReadTag returns the (branch, version) a tag is pinned at.
func (s *Store) ReadTag(name string) (string, int, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "tags", name))
	if err != nil {
		return "", 0, err
	}
	var ptr tagPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return "", 0, err
	}
	return ptr.Branch, ptr.Version, nil
}

// TagExists reports whether a tag pointer file exists.
func (s *Store) TagExists(name string) bool {
	_, err := os.Stat(filepath.Join(s.dir, "tags", name))
	return err == nil
}

// Open loads an existing branch as a live, mutable Branch handle.
func (s *Store) Open(name string) (branchstore.Branch, error) {
	state, err := s.load(name)
	if err != nil {
		return nil, err
	}
	return &Branch{store: s, state: state}, nil
}

// OpenTag loads a tag as a read-only (IsTag()==true) Branch handle,
// materialized from the (branch, version) it's pinned at.
func (s *Store) OpenTag(name string) (branchstore.Branch, error) {
	branchName, version, err := s.ReadTag(name)
	if err != nil {
		return nil, err
	}
	state, err := s.loadVersion(branchName, version)
	if err != nil {
		return nil, err
	}
	state.Name = name
	state.IsTag = true
	return &Branch{store: s, state: state}, nil
}

// CreateBranch deep-copies `from`'s current state into a brand-new
// branch named `name`, starting at version 1, and persists it
// immediately (spec §4.6).
func (s *Store) CreateBranch(name string, from branchstore.Branch) (branchstore.Branch, error) {
	fb, ok := from.(*Branch)
	if !ok {
		return nil, fmt.Errorf("snapshot backend cannot fork a non-snapshot branch")
	}
	clone := fb.state.Clone(name)
	b := &Branch{store: s, state: clone}
	if err := s.write(clone); err != nil {
		return nil, err
	}
	return b, nil
}

// InitMain creates the initial empty "main" branch if it doesn't exist.
func (s *Store) InitMain() error {
	if s.Exists("main") {
		return nil
	}
	state := model.NewBranchState("main")
	state.LastVersion = 1
	return s.write(state)
}

// CatalogBackend adapts Store to branchstore.Backend; the snapshot
// backend's own API predates context (it is pure local file I/O), so
// this thin wrapper is where ctx enters and exits.
type CatalogBackend struct{ *Store }

func (b CatalogBackend) Open(ctx context.Context, name string) (branchstore.Branch, error) {
	branch, err := b.Store.Open(name)
	if err != nil {
		return nil, depierrors.NotFound("branch", name).Err()
	}
	return branch, nil
}

func (b CatalogBackend) OpenTag(ctx context.Context, name string) (branchstore.Branch, error) {
	branch, err := b.Store.OpenTag(name)
	if err != nil {
		return nil, depierrors.NotFound("tag", name).Err()
	}
	return branch, nil
}

func (b CatalogBackend) CreateBranch(ctx context.Context, name string, from branchstore.Branch) (branchstore.Branch, error) {
	return b.Store.CreateBranch(name, from)
}

func (b CatalogBackend) CreateTag(ctx context.Context, name, branch string) error {
	return b.Store.CreateTag(name, branch)
}

func (b CatalogBackend) BranchExists(ctx context.Context, name string) (bool, error) {
	return b.Store.Exists(name), nil
}

func (b CatalogBackend) TagExists(ctx context.Context, name string) (bool, error) {
	return b.Store.TagExists(name), nil
}

func (b CatalogBackend) BranchNames(ctx context.Context) ([]string, error) {
	return b.Store.Branches()
}

func (b CatalogBackend) TagNames(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.Store.dir, "tags"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

var _ branchstore.Backend = CatalogBackend{}
