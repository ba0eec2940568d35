package detector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

func response(t *testing.T, status int, body string) crawler.Response {
	t.Helper()
	req, err := crawler.NewItemRequest("s1", "city-A", "https://example.com/item/1")
	require.NoError(t, err)
	return crawler.NewResponse(req, []byte(body), crawler.Meta{StatusCode: status})
}

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	cases := map[string]struct {
		status int
		body   string
		want   bool
	}{
		"empty body":     {http.StatusOK, "", true},
		"spa marker":     {http.StatusOK, `<div id="__next"></div>` + strings.Repeat("x", 200), true},
		"script heavy":   {http.StatusOK, "<script>var a=1;</script><p>x</p>", true},
		"unclosed tag":   {http.StatusOK, "<p>hello</p><script", true},
		"plain document": {http.StatusOK, "<html><body><p>" + strings.Repeat("text ", 50) + "</p></body></html>", false},
		"non 200":        {http.StatusNotFound, "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.ShouldPromote(response(t, tc.status, tc.body)))
		})
	}
}

func TestNewHeuristic_DefaultThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultBodyThreshold, NewHeuristic(0).BodyLengthThreshold)
}

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.Request) (crawler.Response, error) {
	s.calls++
	if s.err != nil {
		return crawler.Response{}, s.err
	}
	return crawler.NewResponse(req, []byte(s.body), crawler.Meta{StatusCode: http.StatusOK}), nil
}

func TestPromoting_Fetch(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewItemRequest("s1", "city-A", "https://example.com/item/1")
	require.NoError(t, err)

	t.Run("static page stays on primary", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{body: "<p>" + strings.Repeat("listing ", 400) + "</p>"}
		headless := &stubFetcher{body: "rendered"}
		resp, err := NewPromoting(primary, headless, nil, nil).Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 0, headless.calls)
		assert.Contains(t, string(resp.Body()), "listing")
	})

	t.Run("shell page is promoted", func(t *testing.T) {
		t.Parallel()
		primary := &stubFetcher{body: `<div id="root"></div>`}
		headless := &stubFetcher{body: "rendered"}
		resp, err := NewPromoting(primary, headless, nil, nil).Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, headless.calls)
		assert.Equal(t, "rendered", string(resp.Body()))
	})

	t.Run("primary error is returned", func(t *testing.T) {
		t.Parallel()
		boom := &crawler.FetchError{Request: req, StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
		headless := &stubFetcher{}
		_, err := NewPromoting(&stubFetcher{err: boom}, headless, nil, nil).Fetch(context.Background(), req)
		var fe *crawler.FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, 0, headless.calls)
	})
}
