package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestPostgresBackendTranslatesUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend := NewPostgresBackend(db, "events")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	ev := StoredEvent{
		ID: "evt-1", ScopedAggregateID: "t_a:order-1", AggregateType: "order",
		EventType: "OrderCreated", EventVersion: 1, AggregateVersion: 4,
		EventData: `{}`, EventDataType: "json", Metadata: "{}",
	}

	err = backend.SaveEvents(context.Background(), []StoredEvent{ev})
	require.Error(t, err)

	var occ *OptimisticConcurrencyError
	require.ErrorAs(t, err, &occ)
	require.Equal(t, int64(4), occ.Expected)
	require.Equal(t, int64(3), occ.Actual, "Actual is Expected-1, computed without a second query that could block while the failed tx's connection is still checked out")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendGetAggregateVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend := NewPostgresBackend(db, "events")

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(7)))

	version, err := backend.GetAggregateVersion(context.Background(), "t_a:order-1")
	require.NoError(t, err)
	require.Equal(t, int64(7), version)
	require.NoError(t, mock.ExpectationsWereMet())
}
