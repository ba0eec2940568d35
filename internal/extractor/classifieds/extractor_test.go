package classifieds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/clock"
	"github.com/JakeFAU/listcrawler/internal/crawler"
)

const listPage = `<html><body><ul>
<li data-pid="1"><a href="/bik/d/kid-bike/1.html">kid bike</a></li>
<li data-pid="2"><a href="https://newyork.craigslist.org/fuo/d/sofa/2.html">sofa</a></li>
<li data-pid="3"><a href="/zip/d/lamp/3.html">lamp</a></li>
<li class="ad"><a href="/ad">sponsored</a></li>
</ul>
<a title="next page" href="/search/sss?s=120">next</a>
<a title="next page" href="/search/sss?s=240">next again</a>
</body></html>`

const postingPage = `<html><head><title>kid bike</title></head><body>
<span class="postingtitletext">kid bike <span class="price">$10</span></span>
<section id="postingbody">
  Barely used, training wheels included.
</section>
<script>var imgList = [{"url":"https://images.example/a.jpg"},{"url":"https://images.example/b.jpg"}];</script>
</body></html>`

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func collect(t *testing.T, ex *Extractor, resp crawler.Response) ([]crawler.Output, error) {
	t.Helper()
	var out []crawler.Output
	for o, err := range ex.Extract(resp) {
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

func TestExtractListPage(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewListRequest("s1", "newyork", "https://newyork.craigslist.org/search/sss", 0)
	require.NoError(t, err)
	resp := crawler.NewResponse(req, []byte(listPage), crawler.Meta{StatusCode: 200})

	out, err := collect(t, New(clock.NewFixed(now)), resp)
	require.NoError(t, err)
	require.Len(t, out, 4)

	var urls []string
	for _, o := range out[:3] {
		r, ok := o.(crawler.Request)
		require.True(t, ok)
		require.Equal(t, crawler.KindItem, r.Kind())
		require.Equal(t, "s1", r.SessionID())
		require.Equal(t, "newyork", r.PartitionKey())
		urls = append(urls, r.URL())
	}
	require.Equal(t, []string{
		"https://newyork.craigslist.org/bik/d/kid-bike/1.html",
		"https://newyork.craigslist.org/fuo/d/sofa/2.html",
		"https://newyork.craigslist.org/zip/d/lamp/3.html",
	}, urls)

	next, ok := out[3].(crawler.Request)
	require.True(t, ok)
	require.Equal(t, crawler.KindList, next.Kind())
	require.Equal(t, 1, next.Page())
	require.Equal(t, "https://newyork.craigslist.org/search/sss?s=120", next.URL())
}

func TestExtractListWithoutNextPage(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewListRequest("s1", "sfbay", "https://sfbay.craigslist.org/", 2)
	require.NoError(t, err)
	resp := crawler.NewResponse(req, []byte(`<li data-pid="9"><a href="/x/9.html">x</a></li>`), crawler.Meta{})

	out, err := collect(t, New(nil), resp)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestExtractPosting(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewItemRequest("s1", "newyork", "https://newyork.craigslist.org/bik/d/kid-bike/1.html")
	require.NoError(t, err)
	resp := crawler.NewResponse(req, []byte(postingPage), crawler.Meta{StatusCode: 200})

	out, err := collect(t, New(clock.NewFixed(now)), resp)
	require.NoError(t, err)
	require.Len(t, out, 1)

	item, ok := out[0].(*crawler.Item)
	require.True(t, ok)
	require.Equal(t, req.URL(), item.URL())
	require.Equal(t, "newyork", item.PartitionKey())

	title, _ := item.Get("title")
	require.Equal(t, "kid bike", title)
	price, _ := item.Get("price_cents")
	require.Equal(t, int64(1000), price)
	photos, _ := item.Get("photos")
	require.Equal(t, []string{"https://images.example/a.jpg", "https://images.example/b.jpg"}, photos)
	desc, _ := item.Get("description")
	require.Equal(t, "Barely used, training wheels included.", desc)
	created, _ := item.Get("ts_created")
	require.Equal(t, now, created)
}

func TestExtractPostingErrors(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewItemRequest("s1", "newyork", "https://newyork.craigslist.org/1.html")
	require.NoError(t, err)

	cases := map[string]string{
		"no title":  `<html><body>nothing</body></html>`,
		"bad price": `<title>t</title><span class="postingtitletext"><span class="price">free</span></span>`,
		"bad json":  `<title>t</title><script>var imgList = [{;</script>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := collect(t, New(nil), crawler.NewResponse(req, []byte(body), crawler.Meta{}))
			require.Error(t, err)
		})
	}
}

func TestPriceCents(t *testing.T) {
	t.Parallel()

	got, err := priceCents("$1,250")
	require.NoError(t, err)
	require.Equal(t, int64(125000), got)
}
