package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

func newRequest(t *testing.T, rawURL string) crawler.Request {
	t.Helper()
	req, err := crawler.NewListRequest("s", "city-A", rawURL, 0)
	require.NoError(t, err)
	return req
}

func TestFetcherFetchesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "listcrawler-test", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{
		UserAgent: "listcrawler-test",
		Timeout:   time.Second,
		Headers:   http.Header{"X-Trace": {"yes"}},
	})
	req := newRequest(t, srv.URL+"/search")

	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(resp.Body()))
	assert.Equal(t, http.StatusOK, resp.Meta().StatusCode)
	assert.Equal(t, "text/html", resp.Meta().Header.Get("Content-Type"))
	assert.Equal(t, req, resp.Request())

	// Revisiting the same URL must hit the network again.
	_, err = f.Fetch(context.Background(), req)
	require.NoError(t, err)
}

func TestFetcherNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), newRequest(t, srv.URL+"/missing"))
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestFetcherCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, newRequest(t, srv.URL+"/slow"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	req := newRequest(t, "https://example.com/")
	var result fetchResult

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Now(), &result)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	assert.Equal(t, http.StatusCreated, result.resp.Meta().StatusCode)
	assert.Equal(t, "https://example.com/final", result.resp.Meta().FinalURL)
	assert.Equal(t, "ok", result.resp.Meta().Header.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	assert.EqualError(t, result.err, "boom")
	assert.Equal(t, http.StatusBadGateway, result.status)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
