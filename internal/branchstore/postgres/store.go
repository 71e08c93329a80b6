// Package postgres implements the relational storage backend (spec
// §4.1) on top of database/sql and lib/pq. Each branch is one row in
// `branch`, its resource groups/resources/links are rows scoped by
// branch_id. Open materializes a branch's rows into a
// *model.BranchState, Branch methods mutate that state in memory via
// internal/changeproc, and SaveBranchState writes it back in one
// transaction — so the dirty-state machine is never reimplemented in
// SQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/changeproc"
	depierrors "github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/caid-tools/depi/internal/model"
	_ "github.com/lib/pq"
)

// Schema is the DDL the operator applies before pointing a deployment at
// this backend. Kept here, rather than in a migrations directory, since
// the teacher repo this was grounded on also inlines its bootstrap DDL
// next to the backend that consumes it.
const Schema = `
CREATE TABLE IF NOT EXISTS branch (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	is_tag         BOOLEAN NOT NULL DEFAULT FALSE,
	parent_name    TEXT NOT NULL DEFAULT '',
	parent_version INTEGER NOT NULL DEFAULT 0,
	last_version   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS resource_group (
	branch_id BIGINT NOT NULL REFERENCES branch(id) ON DELETE CASCADE,
	tool_id   TEXT NOT NULL,
	url       TEXT NOT NULL,
	name      TEXT NOT NULL,
	version   TEXT NOT NULL,
	PRIMARY KEY (branch_id, tool_id, url)
);

CREATE TABLE IF NOT EXISTS resource (
	branch_id  BIGINT NOT NULL,
	tool_id    TEXT NOT NULL,
	group_url  TEXT NOT NULL,
	url        TEXT NOT NULL,
	name       TEXT NOT NULL,
	ext_id     TEXT NOT NULL,
	deleted    BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (branch_id, tool_id, group_url, url),
	FOREIGN KEY (branch_id, tool_id, group_url) REFERENCES resource_group(branch_id, tool_id, url) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS link (
	branch_id           BIGINT NOT NULL REFERENCES branch(id) ON DELETE CASCADE,
	from_tool_id        TEXT NOT NULL,
	from_group_url      TEXT NOT NULL,
	from_url            TEXT NOT NULL,
	to_tool_id          TEXT NOT NULL,
	to_group_url        TEXT NOT NULL,
	to_url              TEXT NOT NULL,
	dirty               BOOLEAN NOT NULL DEFAULT FALSE,
	deleted             BOOLEAN NOT NULL DEFAULT FALSE,
	last_clean_version  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (branch_id, from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url)
);

CREATE TABLE IF NOT EXISTS inferred_dirtiness (
	branch_id           BIGINT NOT NULL,
	from_tool_id        TEXT NOT NULL,
	from_group_url      TEXT NOT NULL,
	from_url            TEXT NOT NULL,
	to_tool_id          TEXT NOT NULL,
	to_group_url        TEXT NOT NULL,
	to_url              TEXT NOT NULL,
	source_tool_id      TEXT NOT NULL,
	source_group_url    TEXT NOT NULL,
	source_url          TEXT NOT NULL,
	last_clean_version  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (branch_id, from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url,
	             source_tool_id, source_group_url, source_url)
);
`

// Store is the relational backend for a single Depi deployment,
// wrapping one *sql.DB (typically already instrumented with
// sqldb-logger by the caller, per spec §2.1).
type Store struct {
	db             *sql.DB
	pathSeparators changeproc.PathSeparators
}

// New wraps an already-open *sql.DB. The caller owns its lifecycle.
func New(db *sql.DB, pathSeparators map[string]string) *Store {
	return &Store{db: db, pathSeparators: pathSeparators}
}

// EnsureSchema applies the backend's DDL; safe to call on every
// startup since every statement is idempotent (CREATE TABLE IF NOT
// EXISTS).
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *Store) branchID(ctx context.Context, name string) (int64, bool, bool, error) {
	var id int64
	var isTag bool
	err := s.db.QueryRowContext(ctx, `SELECT id, is_tag FROM branch WHERE name = $1`, name).Scan(&id, &isTag)
	if err == sql.ErrNoRows {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return id, isTag, true, nil
}

// Exists reports whether a branch row with the given name exists.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, _, ok, err := s.branchID(ctx, name)
	return ok, err
}

// InitMain inserts the initial empty "main" branch row if absent.
func (s *Store) InitMain(ctx context.Context) error {
	_, _, ok, err := s.branchID(ctx, "main")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO branch (name, is_tag, last_version) VALUES ('main', FALSE, 1)`)
	return err
}

// Open loads a branch's full state into memory as a live Branch handle
// bound to this Store; mutating calls change only that in-memory
// state, and SaveBranchState rewrites the branch's rows and bumps
// last_version.
func (s *Store) Open(ctx context.Context, name string) (branchstore.Branch, error) {
	id, isTag, ok, err := s.branchID(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, depierrors.NotFound("branch", name).Err()
	}
	state, err := s.load(ctx, id, name, isTag)
	if err != nil {
		return nil, err
	}
	return &Branch{store: s, id: id, state: state}, nil
}

// CreateBranch copies `from`'s rows into a new branch row/rowset,
// starting at last_version 1 (spec §4.6).
func (s *Store) CreateBranch(ctx context.Context, name string, from branchstore.Branch) (branchstore.Branch, error) {
	fb, ok := from.(*Branch)
	if !ok {
		return nil, fmt.Errorf("postgres backend cannot fork a non-postgres branch")
	}
	clone := fb.state.Clone(name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO branch (name, is_tag, parent_name, parent_version, last_version) VALUES ($1, FALSE, $2, $3, $4) RETURNING id`,
		name, clone.ParentBranch, clone.ParentVersion, clone.LastVersion).Scan(&id)
	if err != nil {
		return nil, err
	}
	if err := writeState(ctx, tx, id, clone); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Branch{store: s, id: id, state: clone}, nil
}

// CreateTag materializes branch's current state into a new, immutable
// tag row (a full row copy, not a pointer, since this backend has no
// cheap snapshot-by-reference the way the file backend does).
func (s *Store) CreateTag(ctx context.Context, name, branch string) error {
	id, _, ok, err := s.branchID(ctx, branch)
	if err != nil {
		return err
	}
	if !ok {
		return depierrors.NotFound("branch", branch).Err()
	}
	state, err := s.load(ctx, id, branch, false)
	if err != nil {
		return err
	}
	tagState := state.Clone(name)
	tagState.IsTag = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var tagID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO branch (name, is_tag, parent_name, parent_version, last_version) VALUES ($1, TRUE, $2, $3, $4) RETURNING id`,
		name, branch, state.LastVersion, state.LastVersion).Scan(&tagID)
	if err != nil {
		return err
	}
	if err := writeState(ctx, tx, tagID, tagState); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) load(ctx context.Context, id int64, name string, isTag bool) (*model.BranchState, error) {
	var parentName string
	var parentVersion, lastVersion int
	err := s.db.QueryRowContext(ctx, `SELECT parent_name, parent_version, last_version FROM branch WHERE id = $1`, id).
		Scan(&parentName, &parentVersion, &lastVersion)
	if err != nil {
		return nil, err
	}

	state := model.NewBranchState(name)
	state.IsTag = isTag
	state.ParentBranch = parentName
	state.ParentVersion = parentVersion
	state.LastVersion = lastVersion

	groupRows, err := s.db.QueryContext(ctx, `SELECT tool_id, url, name, version FROM resource_group WHERE branch_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var toolID, url, name, version string
		if err := groupRows.Scan(&toolID, &url, &name, &version); err != nil {
			return nil, err
		}
		state.PutGroup(model.ResourceGroup{ToolID: toolID, URL: url, Name: name, Version: version, Resources: map[string]model.Resource{}})
	}
	if err := groupRows.Err(); err != nil {
		return nil, err
	}

	resRows, err := s.db.QueryContext(ctx, `SELECT tool_id, group_url, url, name, ext_id, deleted FROM resource WHERE branch_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer resRows.Close()
	for resRows.Next() {
		var toolID, groupURL, url, name, extID string
		var deleted bool
		if err := resRows.Scan(&toolID, &groupURL, &url, &name, &extID, &deleted); err != nil {
			return nil, err
		}
		group, ok := state.Group(toolID, groupURL)
		if !ok {
			continue
		}
		group.Resources[url] = model.Resource{Name: name, ID: extID, URL: url, Deleted: deleted}
		state.PutGroup(group)
	}
	if err := resRows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := s.db.QueryContext(ctx,
		`SELECT from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url, dirty, deleted, last_clean_version
		 FROM link WHERE branch_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var l model.Link
		l.InferredDirtiness = map[model.ResourceRef]model.InferredEntry{}
		if err := linkRows.Scan(
			&l.FromRes.ToolID, &l.FromRes.ResourceGroupURL, &l.FromRes.URL,
			&l.ToRes.ToolID, &l.ToRes.ResourceGroupURL, &l.ToRes.URL,
			&l.Dirty, &l.Deleted, &l.LastCleanVersion); err != nil {
			return nil, err
		}
		state.Links[l.Key()] = l
	}
	if err := linkRows.Err(); err != nil {
		return nil, err
	}

	infRows, err := s.db.QueryContext(ctx,
		`SELECT from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url,
		        source_tool_id, source_group_url, source_url, last_clean_version
		 FROM inferred_dirtiness WHERE branch_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer infRows.Close()
	for infRows.Next() {
		var key model.LinkKey
		var source model.ResourceRef
		var lastClean string
		if err := infRows.Scan(
			&key.From.ToolID, &key.From.ResourceGroupURL, &key.From.URL,
			&key.To.ToolID, &key.To.ResourceGroupURL, &key.To.URL,
			&source.ToolID, &source.ResourceGroupURL, &source.URL, &lastClean); err != nil {
			return nil, err
		}
		if link, ok := state.Links[key]; ok {
			link.InferredDirtiness[source] = model.InferredEntry{Source: source, LastCleanVersion: lastClean}
			state.Links[key] = link
		}
	}
	if err := infRows.Err(); err != nil {
		return nil, err
	}

	return state, nil
}

// writeState replaces every row belonging to id with the contents of
// state, inside the caller's transaction. It is the only row writer
// for branch contents (branch creation, tag creation, SaveBranchState);
// Branch methods do not write rows individually.
func writeState(ctx context.Context, tx *sql.Tx, id int64, state *model.BranchState) error {
	for _, table := range []string{"inferred_dirtiness", "link", "resource", "resource_group"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE branch_id = $1", id); err != nil {
			return err
		}
	}
	for toolID, groups := range state.Tools {
		for url, group := range groups {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO resource_group (branch_id, tool_id, url, name, version) VALUES ($1,$2,$3,$4,$5)`,
				id, toolID, url, group.Name, group.Version); err != nil {
				return err
			}
			for resURL, res := range group.Resources {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO resource (branch_id, tool_id, group_url, url, name, ext_id, deleted) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
					id, toolID, url, resURL, res.Name, res.ID, res.Deleted); err != nil {
					return err
				}
			}
		}
	}
	for _, link := range state.Links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO link (branch_id, from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url, dirty, deleted, last_clean_version)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			id, link.FromRes.ToolID, link.FromRes.ResourceGroupURL, link.FromRes.URL,
			link.ToRes.ToolID, link.ToRes.ResourceGroupURL, link.ToRes.URL,
			link.Dirty, link.Deleted, link.LastCleanVersion); err != nil {
			return err
		}
		for _, inf := range link.InferredDirtiness {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO inferred_dirtiness
				 (branch_id, from_tool_id, from_group_url, from_url, to_tool_id, to_group_url, to_url,
				  source_tool_id, source_group_url, source_url, last_clean_version)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				id, link.FromRes.ToolID, link.FromRes.ResourceGroupURL, link.FromRes.URL,
				link.ToRes.ToolID, link.ToRes.ResourceGroupURL, link.ToRes.URL,
				inf.Source.ToolID, inf.Source.ResourceGroupURL, inf.Source.URL, inf.LastCleanVersion); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) namesWhere(ctx context.Context, isTag bool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM branch WHERE is_tag = $1 ORDER BY name`, isTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// BranchExists reports whether a non-tag branch row with this name
// exists.
func (s *Store) BranchExists(ctx context.Context, name string) (bool, error) {
	_, isTag, ok, err := s.branchID(ctx, name)
	if err != nil {
		return false, err
	}
	return ok && !isTag, nil
}

// TagExists reports whether a tag row with this name exists.
func (s *Store) TagExists(ctx context.Context, name string) (bool, error) {
	_, isTag, ok, err := s.branchID(ctx, name)
	if err != nil {
		return false, err
	}
	return ok && isTag, nil
}

// CatalogBackend adapts Store to branchstore.Backend.
type CatalogBackend struct{ *Store }

func (b CatalogBackend) Open(ctx context.Context, name string) (branchstore.Branch, error) {
	return b.Store.Open(ctx, name)
}

func (b CatalogBackend) OpenTag(ctx context.Context, name string) (branchstore.Branch, error) {
	id, isTag, ok, err := b.Store.branchID(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok || !isTag {
		return nil, depierrors.NotFound("tag", name).Err()
	}
	state, err := b.Store.load(ctx, id, name, true)
	if err != nil {
		return nil, err
	}
	return &Branch{store: b.Store, id: id, state: state}, nil
}

func (b CatalogBackend) CreateBranch(ctx context.Context, name string, from branchstore.Branch) (branchstore.Branch, error) {
	return b.Store.CreateBranch(ctx, name, from)
}

func (b CatalogBackend) CreateTag(ctx context.Context, name, branch string) error {
	return b.Store.CreateTag(ctx, name, branch)
}

func (b CatalogBackend) BranchExists(ctx context.Context, name string) (bool, error) {
	return b.Store.BranchExists(ctx, name)
}

func (b CatalogBackend) TagExists(ctx context.Context, name string) (bool, error) {
	return b.Store.TagExists(ctx, name)
}

func (b CatalogBackend) BranchNames(ctx context.Context) ([]string, error) {
	return b.Store.namesWhere(ctx, false)
}

func (b CatalogBackend) TagNames(ctx context.Context) ([]string, error) {
	return b.Store.namesWhere(ctx, true)
}

var _ branchstore.Backend = CatalogBackend{}
