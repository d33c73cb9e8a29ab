package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
)

func newMockStore(t *testing.T) (*SnapshotStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	data := []byte{0xff, 0x06, 0x00}
	mock.ExpectExec("INSERT INTO dedup_snapshots").
		WithArgs("alice.dedup.le.sz", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), "alice.dedup.le.sz", data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("disk full")
	mock.ExpectExec("INSERT INTO dedup_snapshots").
		WithArgs("alice.dedup.le.sz", []byte("x")).
		WillReturnError(boom)

	err := store.Put(context.Background(), "alice.dedup.le.sz", []byte("x"))
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM dedup_snapshots").
		WithArgs("alice.dedup.le.sz").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("blob")))

	got, err := store.Get(context.Background(), "alice.dedup.le.sz")
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM dedup_snapshots").
		WithArgs("nobody.dedup.le.sz").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "nobody.dedup.le.sz")
	require.ErrorIs(t, err, dedupstore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dedup_snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "snapshots; DROP TABLE users")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
