package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

type funcStage struct {
	Base
	name    string
	process func(*crawler.Item) (*crawler.Item, error)
	seen    int
	stops   int
	closes  int
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Process(_ context.Context, item *crawler.Item) (*crawler.Item, error) {
	s.seen++
	if s.process == nil {
		return item, nil
	}
	return s.process(item)
}

func (s *funcStage) Stop(context.Context) error  { s.stops++; return nil }
func (s *funcStage) Close(context.Context) error { s.closes++; return errors.New("close failed") }

func newItem() *crawler.Item {
	it := crawler.NewItem("https://example.org/item/1", "s", "city-A")
	it.Set("title", "kid bike")
	return it
}

func TestChainPassesItemsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) *funcStage {
		return &funcStage{name: name, process: func(it *crawler.Item) (*crawler.Item, error) {
			order = append(order, name)
			it.Set("last", name)
			return it, nil
		}}
	}
	c := NewChain().Add(tag("a")).Add(tag("b"))
	require.Equal(t, []string{"a", "b"}, c.Names())
	require.NoError(t, c.Start(context.Background(), nil))

	out, err := c.Process(context.Background(), newItem())
	require.NoError(t, err)
	require.NotNil(t, out)
	v, _ := out.Get("last")
	assert.Equal(t, "b", v)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestChainDropAndFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)
	rt := &crawler.Runtime{Logger: zap.New(core), Metrics: rec}

	cases := []struct {
		name    string
		process func(*crawler.Item) (*crawler.Item, error)
	}{
		{"drop sentinel", func(*crawler.Item) (*crawler.Item, error) { return nil, ErrDrop }},
		{"nil item", func(*crawler.Item) (*crawler.Item, error) { return nil, nil }},
		{"failure", func(*crawler.Item) (*crawler.Item, error) { return nil, errors.New("disk full") }},
		{"origin changed", func(*crawler.Item) (*crawler.Item, error) {
			return crawler.NewItem("https://other.example/", "s", "city-A"), nil
		}},
	}
	for _, tc := range cases {
		first := &funcStage{name: "first", process: tc.process}
		after := &funcStage{name: "after"}
		c := NewChain().Add(first).Add(after)
		require.NoError(t, c.Start(context.Background(), rt))

		out, err := c.Process(context.Background(), newItem())
		require.NoError(t, err, tc.name)
		assert.Nil(t, out, tc.name)
		assert.Zero(t, after.seen, "%s: later stages must not see the item", tc.name)
	}

	assert.Len(t, logs.FilterMessage("pipeline stage failed").All(), 2)
	drops, err := testutil.GatherAndCount(reg, "listcrawler_items_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, drops, "one series per reason")
}

func TestChainCriticalFailureIsReturned(t *testing.T) {
	t.Parallel()

	cause := errors.New("broker down")
	c := NewChain().Add(&funcStage{name: "export", process: func(*crawler.Item) (*crawler.Item, error) {
		return nil, cause
	}}, Critical())

	_, err := c.Process(context.Background(), newItem())
	var stageErr *crawler.PipelineStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "export", stageErr.Stage)
	assert.True(t, stageErr.Critical)
	assert.Equal(t, "https://example.org/item/1", stageErr.URL)
	require.ErrorIs(t, err, cause)
	assert.True(t, crawler.IsFatal(err))
}

func TestChainLifecycleRunsOnce(t *testing.T) {
	t.Parallel()

	a := &funcStage{name: "a"}
	b := &funcStage{name: "b"}
	c := NewChain().Add(a).Add(b)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	err := c.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close stage a")
	assert.Contains(t, err.Error(), "close stage b")
	require.Equal(t, err, c.Close(ctx))

	for _, s := range []*funcStage{a, b} {
		assert.Equal(t, 1, s.stops)
		assert.Equal(t, 1, s.closes)
	}
}

func TestBuiltinStages(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)
	rt := &crawler.Runtime{Logger: zap.New(core), Metrics: rec}

	c := NewChain().Add(NewLogStage(nil)).Add(NewMetricsStage(nil))
	require.NoError(t, c.Start(context.Background(), rt))
	_, err = c.Process(context.Background(), newItem())
	require.NoError(t, err)

	entries := logs.Filter(func(e observer.LoggedEntry) bool { return e.LoggerName == "items" }).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kid bike", entries[0].ContextMap()["title"])

	count, err := testutil.GatherAndCount(reg, "listcrawler_items_parsed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
