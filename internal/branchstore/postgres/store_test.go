package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caid-tools/depi/internal/branchstore/postgres"
)

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.New(db, nil), mock
}

func TestStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(postgres.Schema)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InitMain_InsertsWhenAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("main").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO branch (name, is_tag, last_version) VALUES ('main', FALSE, 1)`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.InitMain(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InitMain_NoopWhenAlreadyPresent(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "is_tag"}).AddRow(int64(1), false)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("main").
		WillReturnRows(rows)

	err := store.InitMain(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "InitMain must not issue an INSERT once main already exists")
}

func TestStore_BranchExistsAndTagExists(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "is_tag"}).AddRow(int64(3), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("v1.0").
		WillReturnRows(rows)

	isBranch, err := store.BranchExists(context.Background(), "v1.0")
	require.NoError(t, err)
	assert.False(t, isBranch, "a tag row must not count as a branch")

	rows2 := sqlmock.NewRows([]string{"id", "is_tag"}).AddRow(int64(3), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("v1.0").
		WillReturnRows(rows2)

	isTag, err := store.TagExists(context.Background(), "v1.0")
	require.NoError(t, err)
	assert.True(t, isTag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Open_LoadsEmptyBranch(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_tag"}).AddRow(int64(1), false))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT parent_name, parent_version, last_version FROM branch WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_name", "parent_version", "last_version"}).AddRow("", 0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tool_id, url, name, version FROM resource_group WHERE branch_id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"tool_id", "url", "name", "version"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tool_id, group_url, url, name, ext_id, deleted FROM resource WHERE branch_id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"tool_id", "group_url", "url", "name", "ext_id", "deleted"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM link WHERE branch_id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"from_tool_id", "from_group_url", "from_url", "to_tool_id", "to_group_url", "to_url", "dirty", "deleted", "last_clean_version",
		}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM inferred_dirtiness WHERE branch_id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"from_tool_id", "from_group_url", "from_url", "to_tool_id", "to_group_url", "to_url",
			"source_tool_id", "source_group_url", "source_url", "last_clean_version",
		}))

	branch, err := store.Open(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "main", branch.Name())
	assert.False(t, branch.IsTag())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Open_UnknownBranchIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, is_tag FROM branch WHERE name = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Open(context.Background(), "missing")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
