package postgres

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/codec"
	"github.com/JakeFAU/listcrawler/internal/crawler"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*ItemStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewItemStoreWithPool(mock, "items", zap.NewNop())
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func bike() *crawler.Item {
	item := crawler.NewItem("https://newyork.craigslist.org/bik/d/kid-bike/1.html", "s1", "newyork")
	item.Set("title", "kid bike")
	item.Set("price_cents", 1000)
	item.Set("photos", []string{"https://images.example/1.jpg"})
	item.Set("description", "barely used")
	item.Set("ts_created", fixedNow)
	return item
}

func TestNewItemStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewItemStoreWithPool(mock, "items; DROP TABLE x", nil)
	require.Error(t, err)

	_, err = NewItemStoreWithPool(nil, "items", nil)
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowValidation(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	row, err := store.Row(bike(), fixedNow)
	require.NoError(t, err)
	require.Len(t, row, len(Columns))
	require.Equal(t, "newyork", row[3])
	price := row[6].(*int64)
	require.EqualValues(t, 1000, *price)

	cases := map[string]func(*crawler.Item) *crawler.Item{
		"missing url": func(*crawler.Item) *crawler.Item {
			return crawler.NewItem("", "s1", "newyork")
		},
		"long url": func(*crawler.Item) *crawler.Item {
			return crawler.NewItem("https://x.test/"+strings.Repeat("a", 500), "s1", "newyork")
		},
		"long title": func(it *crawler.Item) *crawler.Item {
			it.Set("title", strings.Repeat("t", 501))
			return it
		},
		"negative price": func(it *crawler.Item) *crawler.Item {
			it.Set("price_cents", -1)
			return it
		},
		"wrong price type": func(it *crawler.Item) *crawler.Item {
			it.Set("price_cents", "ten")
			return it
		},
		"long partition": func(*crawler.Item) *crawler.Item {
			return crawler.NewItem("https://x.test/", "s1", strings.Repeat("p", 51))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := store.Row(mutate(bike()), fixedNow)
			require.ErrorIs(t, err, ErrInvalidItem)
		})
	}
}

func TestInsertBatchSkipsInvalidRows(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	bad := bike()
	bad.Set("price_cents", -5)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := store.InsertBatch(context.Background(), []*crawler.Item{bike(), bad})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchAllInvalidSkipsTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	n, err := store.InsertBatch(context.Background(), []*crawler.Item{crawler.NewItem("", "", "")})
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.InsertBatch(context.Background(), []*crawler.Item{bike()})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreStageFlushesOnBatchAndStop(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	stage := NewStoreStage(store, 2)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnResult(1)
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, stage.Start(ctx, &crawler.Runtime{Logger: zap.NewNop()}))
	for range 3 {
		out, err := stage.Process(ctx, bike())
		require.NoError(t, err)
		require.NotNil(t, out)
	}
	require.NoError(t, stage.Stop(ctx))
	require.NoError(t, stage.Stop(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func encoded(t *testing.T, items ...*crawler.Item) iter.Seq2[[]byte, error] {
	t.Helper()
	values := make([][]byte, 0, len(items))
	for _, item := range items {
		data, err := codec.Marshal(item)
		require.NoError(t, err)
		values = append(values, data)
	}
	return func(yield func([]byte, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func TestImporterBatchesAndSkipsGarbage(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, Columns).WillReturnResult(1)
	mock.ExpectCommit()

	good := encoded(t, bike(), bike(), bike())
	values := func(yield func([]byte, error) bool) {
		if !yield([]byte("not msgpack"), nil) {
			return
		}
		for v, err := range good {
			if !yield(v, err) {
				return
			}
		}
	}

	im := NewImporter(store, ImportConfig{BatchSize: 2}, nil, nil)
	n, err := im.Run(context.Background(), values)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImporterStopsOnStreamError(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	values := func(yield func([]byte, error) bool) {
		yield(nil, errors.New("broker gone"))
	}
	im := NewImporter(store, ImportConfig{}, nil, nil)
	_, err := im.Run(context.Background(), values)
	require.ErrorContains(t, err, "broker gone")
	require.NoError(t, mock.ExpectationsWereMet())
}
