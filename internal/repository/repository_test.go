package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/loader-licensing/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var duplicate = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

func TestLoaderRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(q(qLoaderSelect)).WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"id", "active", "version", "last_update", "public_key", "private_key"}).
			AddRow("app", true, "1.0.0", now, "aa", "bb"))
	mock.ExpectQuery(q(qLoaderSelect)).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	repo := NewLoaderRepo(db)
	l, err := repo.Get(ctx, "app")
	require.NoError(t, err)
	assert.True(t, l.Active)
	assert.Equal(t, "1.0.0", l.Version)
	require.NotNil(t, l.LastUpdate)
	assert.Equal(t, now, *l.LastUpdate)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoaderRepo_InsertConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q(qLoaderInsert)).WillReturnError(duplicate)

	err := NewLoaderRepo(db).Insert(context.Background(), &model.Loader{ID: "app"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAccountRepo_Create(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q(qAccountInsert)).
		WithArgs(sqlmock.AnyArg(), "alice", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qAccountInsert)).WillReturnError(duplicate)

	repo := NewAccountRepo(db)
	a := &model.Account{Username: "  alice "}
	require.NoError(t, repo.Create(context.Background(), a))
	assert.Len(t, a.ID, 36)
	assert.Len(t, a.AccessKey, 32)
	assert.Equal(t, "alice", a.Username)

	err := repo.Create(context.Background(), &model.Account{Username: "alice"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAccountRepo_UpdatesReportMissingRows(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	repo := NewAccountRepo(db)

	mock.ExpectExec(q(qAccountSetActive)).WithArgs(true, "x").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetActive(ctx, "x", true), ErrNotFound)

	mock.ExpectExec(q(qAccountSetPassword)).WithArgs(sql.NullString{}, "a").WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.SetPassword(ctx, "a", nil))

	mock.ExpectExec(q(qAccountRename)).WithArgs("bob", "a").WillReturnError(duplicate)
	assert.ErrorIs(t, repo.Rename(ctx, "a", "bob"), ErrConflict)

	mock.ExpectExec(q(qAccountUnbind)).WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UnbindHardware(ctx, "a"), ErrNotFound)
}

func TestAccountRepo_GrantRevoke(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	repo := NewAccountRepo(db)

	mock.ExpectExec(q(qGrantInsert)).WithArgs("a", "p").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qGrantInsert)).WithArgs("a", "p").WillReturnError(duplicate)
	mock.ExpectExec(q(qGrantDelete)).WithArgs("a", "p").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qGrantDelete)).WithArgs("a", "p").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Grant(ctx, "a", "p"))
	assert.ErrorIs(t, repo.Grant(ctx, "a", "p"), ErrConflict)
	assert.NoError(t, repo.Revoke(ctx, "a", "p"))
	assert.ErrorIs(t, repo.Revoke(ctx, "a", "p"), ErrNotFound)
}

var productVersionCols = []string{
	"id", "name", "status", "created_at", "process", "version_id", "last_update",
	"vid", "product_id", "version", "vcreated", "vupdated", "secret_key",
}

func TestAccountRepo_FindForLogin(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	pw := "$argon2id$..."

	mock.ExpectBegin()
	mock.ExpectQuery(q(qAccountForLogin)).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "active", "created_at", "password", "access_key", "active_hardware_id",
			"hid", "hcreated", "state", "hash", "components", "history",
		}).AddRow("a", "alice", true, now, pw, "k", "h1", "h1", now, int64(model.HardwareApproved), "abc", []byte(`{}`), 1))
	mock.ExpectQuery(q(qEntitledProducts)).WithArgs("a").
		WillReturnRows(sqlmock.NewRows(productVersionCols).
			AddRow("p1", "Alpha", int64(model.ProductOnline), now, "alpha.exe", "v1", now, "v1", "p1", "1.2.0", now, now, "key").
			AddRow("p2", "Beta", int64(model.ProductOffline), now, "beta.exe", nil, nil, nil, nil, nil, nil, nil, nil))
	mock.ExpectCommit()

	got, err := NewAccountRepo(db).FindForLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	require.NotNil(t, got.Password)
	assert.Equal(t, pw, *got.Password)
	require.NotNil(t, got.ActiveHardware)
	assert.Equal(t, model.HardwareApproved, got.ActiveHardware.State)
	assert.Equal(t, "abc", got.ActiveHardware.Hash)
	assert.Equal(t, 1, got.History)

	require.Len(t, got.Products, 2)
	require.NotNil(t, got.Products[0].ActiveVersion)
	assert.Equal(t, "1.2.0", got.Products[0].ActiveVersion.Version)
	assert.Equal(t, "key", got.Products[0].ActiveVersion.Key)
	assert.Nil(t, got.Products[1].ActiveVersion)
	assert.Nil(t, got.Products[1].VersionID)
}

func TestAccountRepo_FindForLoginUnknown(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(qAccountForLogin)).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewAccountRepo(db).FindForLogin(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountRepo_FindByAccessKeyWithProducts(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q(qAccountByAccessKey)).WithArgs("key").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "active", "created_at", "password", "access_key", "active_hardware_id"}).
			AddRow("a", "alice", true, now, nil, "key", nil))
	mock.ExpectQuery(q(qEntitledProducts)).WithArgs("a").WillReturnRows(sqlmock.NewRows(productVersionCols))
	mock.ExpectCommit()

	got, err := NewAccountRepo(db).FindByAccessKeyWithProducts(context.Background(), "key")
	require.NoError(t, err)
	assert.Nil(t, got.Password)
	assert.Nil(t, got.ActiveHardwareID)
	assert.Empty(t, got.Products)
}

func TestHardwareRepo_Bind(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qBindLockAccount)).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"active_hardware_id"}).AddRow(nil))
	mock.ExpectQuery(q(qBindHistory)).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(q(qBindInsert)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), model.HardwareApproved, "hash", []byte(`{"guid":"g"}`), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qBindAccount)).WithArgs(sqlmock.AnyArg(), "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	seen := -1
	h, err := NewHardwareRepo(db).Bind(context.Background(), "a", "hash", []byte(`{"guid":"g"}`),
		func(history int) model.HardwareState {
			seen = history
			return model.HardwareApproved
		})
	require.NoError(t, err)
	assert.Equal(t, 0, seen)
	assert.Equal(t, model.HardwareApproved, h.State)
	assert.Equal(t, "a", h.AccountID)
}

func TestHardwareRepo_BindAlreadyBound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(qBindLockAccount)).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"active_hardware_id"}).AddRow("h0"))
	mock.ExpectRollback()

	_, err := NewHardwareRepo(db).Bind(context.Background(), "a", "hash", []byte(`{}`),
		func(int) model.HardwareState {
			t.Fatal("policy must not run for a bound account")
			return model.HardwarePending
		})
	assert.ErrorIs(t, err, ErrAlreadyBound)
}

func TestHardwareRepo_SetBoundState(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q(qHardwareSetBoundState)).WithArgs(model.HardwareRejected, "a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewHardwareRepo(db).SetBoundState(context.Background(), "a", model.HardwareRejected)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepo_VersionLifecycle(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()
	repo := NewProductRepo(db)
	at := time.Now().UTC()

	mock.ExpectQuery(q(qVersionFind)).WithArgs("p", "1.0").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q(qVersionInsert)).
		WithArgs(sqlmock.AnyArg(), "p", "1.0", "k1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qProductSetVersion)).WithArgs(sqlmock.AnyArg(), at, "p").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qProductSetVersion)).WithArgs("foreign", at, "p").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.FindVersion(ctx, "p", "1.0")
	require.ErrorIs(t, err, ErrNotFound)

	v := &model.ProductVersion{ProductID: "p", Version: "1.0", Key: "k1"}
	require.NoError(t, repo.CreateVersion(ctx, v))
	assert.NotEmpty(t, v.ID)
	assert.False(t, v.CreatedAt.IsZero())

	require.NoError(t, repo.SetActiveVersion(ctx, "p", v.ID, at))
	assert.ErrorIs(t, repo.SetActiveVersion(ctx, "p", "foreign", at), ErrNotFound)
}

func TestProductRepo_List(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(q(qProductList)).WillReturnRows(sqlmock.NewRows(productVersionCols).
		AddRow("p1", "Alpha", int64(model.ProductTesting), now, "alpha.exe", nil, nil, nil, nil, nil, nil, nil, nil))

	list, err := NewProductRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ProductTesting, list[0].Status)
	assert.Nil(t, list[0].ActiveVersion)
}

func TestProductRepo_CreateConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(q(qProductInsert)).WillReturnError(duplicate)

	err := NewProductRepo(db).Create(context.Background(), &model.Product{Name: "Alpha"})
	assert.ErrorIs(t, err, ErrConflict)
}
