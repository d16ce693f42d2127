package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fb-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewRunStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.True(t, errors.Is(err, crawler.ErrConfiguration))

	_, err = NewRunStoreWithPool(nil, "runs")
	require.Error(t, err)
}

func TestNewRunStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(context.Background(), RunStoreConfig{})
	require.True(t, errors.Is(err, crawler.ErrConfiguration))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1714521600, 0).UTC()
	run := crawler.Run{
		ID:        "0190c4e2-run",
		Kind:      crawler.KindPost,
		Status:    crawler.RunStatusRunning,
		URLCount:  5,
		BatchSize: 2,
		Started:   started,
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(run.ID, "post", "running", 5, 2, 0, started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	finished := time.Unix(1714521700, 0).UTC()
	store.now = func() time.Time { return finished }

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("succeeded", "gs://influencer-post/p.json", "", 3, 12, 1, finished, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.CompleteRun(context.Background(), "run-1", crawler.RunStatusSucceeded,
		"gs://influencer-post/p.json", "", crawler.RunCounters{BatchCount: 3, ItemCount: 12, FailedBatches: 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.CompleteRun(context.Background(), "nope", crawler.RunStatusFailed, "", "boom", crawler.RunCounters{})
	require.True(t, errors.Is(err, crawler.ErrRunNotFound), "got %v", err)
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1714521600, 0).UTC()
	finished := started.Add(time.Minute)

	columns := []string{
		"id", "kind", "status", "url_count", "batch_size", "batch_count", "item_count",
		"failed_batches", "uri", "error_text", "started_at", "finished_at",
	}
	mock.ExpectQuery("FROM crawl_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("run-1", "profile", "succeeded", 4, 2, 2, 4, 0, "gs://b/o.json", "", started, &finished))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.KindProfile, run.Kind)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, 4, run.ItemCount)
	require.Equal(t, "gs://b/o.json", run.URI)
	require.Equal(t, started, run.Started)
	require.NotNil(t, run.Finished)
	require.Equal(t, finished, *run.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM crawl_runs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	require.True(t, errors.Is(err, crawler.ErrRunNotFound), "got %v", err)
}
