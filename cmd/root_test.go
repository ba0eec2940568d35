package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/app"
	"github.com/JakeFAU/listcrawler/internal/config"
	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// useMemoryApp swaps the factory for one returning a shared in-memory App.
func useMemoryApp(t *testing.T) *app.App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Queue.Backend = "memory"
	a, err := app.NewWithLogger(cfg, zap.NewNop())
	require.NoError(t, err)

	prev := newApp
	newApp = func(string) (*app.App, error) { return a, nil }
	t.Cleanup(func() { newApp = prev })
	return a
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionAndClearQueue(t *testing.T) {
	a := useMemoryApp(t)
	ctx := context.Background()

	out, err := run(t, "session", "s1", "/search/bia", "--partitions", "city-a,city-b")
	require.NoError(t, err)
	require.Equal(t, "s1", strings.TrimSpace(out))

	size, err := a.Queue.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, size)

	req, err := a.Queue.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.KindList, req.Kind())
	require.Equal(t, "https://city-a.craigslist.org/search/bia", req.URL())

	_, err = run(t, "clearqueue")
	require.NoError(t, err)
	size, err = a.Queue.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestSessionGeneratesID(t *testing.T) {
	a := useMemoryApp(t)

	out, err := run(t, "session", "/search/bia")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))

	size, err := a.Queue.Size(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, len(a.Config.Crawler.Partitions), size)
}

func TestSessionRequiresPath(t *testing.T) {
	useMemoryApp(t)

	_, err := run(t, "session")
	require.Error(t, err)
}

func TestConfigErrorsSurface(t *testing.T) {
	_, err := run(t, "--config", "/nonexistent/listcrawler.yaml", "clearqueue")
	require.ErrorContains(t, err, "initialize application")
}
