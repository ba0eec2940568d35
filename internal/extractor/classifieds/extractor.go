// Package classifieds extracts listing links and posting details from
// classifieds pages.
package classifieds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Selectors used on list and posting pages.
const (
	listingSelector  = "li[data-pid]"
	nextPageSelector = "a[title='next page']"
	priceSelector    = "span.postingtitletext span.price"
	bodySelector     = "section#postingbody"
)

var photosPattern = regexp.MustCompile(`var imgList = (.*);`)

// ErrNoTitle is returned for a posting page without a title.
var ErrNoTitle = errors.New("posting has no title")

// Extractor turns list pages into posting and next-page requests and posting
// pages into items.
type Extractor struct {
	clock crawler.Clock
}

// New returns an Extractor stamping items with clock.
func New(clock crawler.Clock) *Extractor {
	return &Extractor{clock: clock}
}

// Extract implements crawler.Extractor.
func (e *Extractor) Extract(resp crawler.Response) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
		if err != nil {
			yield(nil, fmt.Errorf("parse html: %w", err))
			return
		}
		switch resp.Request().Kind() {
		case crawler.KindList:
			e.list(resp, doc, yield)
		case crawler.KindItem:
			e.posting(resp, doc, yield)
		default:
			yield(nil, fmt.Errorf("unknown request kind %s", resp.Request().Kind()))
		}
	}
}

func (e *Extractor) list(resp crawler.Response, doc *goquery.Document, yield func(crawler.Output, error) bool) {
	req := resp.Request()
	base := baseURL(resp)

	ok := true
	doc.Find(listingSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, exists := s.ChildrenFiltered("a").Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			return true
		}
		link, err := resolve(base, href)
		if err != nil {
			ok = yield(nil, err)
			return ok
		}
		next, err := crawler.NewItemRequest(req.SessionID(), req.PartitionKey(), link)
		if err != nil {
			ok = yield(nil, err)
			return ok
		}
		ok = yield(next, nil)
		return ok
	})
	if !ok {
		return
	}

	href, exists := doc.Find(nextPageSelector).First().Attr("href")
	if !exists || strings.TrimSpace(href) == "" {
		return
	}
	link, err := resolve(base, href)
	if err != nil {
		yield(nil, err)
		return
	}
	next, err := crawler.NewListRequest(req.SessionID(), req.PartitionKey(), link, req.Page()+1)
	if err != nil {
		yield(nil, err)
		return
	}
	yield(next, nil)
}

func (e *Extractor) posting(resp crawler.Response, doc *goquery.Document, yield func(crawler.Output, error) bool) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		yield(nil, ErrNoTitle)
		return
	}

	item := crawler.NewItemFor(resp.Request())
	item.Set("title", title)

	if raw := strings.TrimSpace(doc.Find(priceSelector).First().Text()); raw != "" {
		cents, err := priceCents(raw)
		if err != nil {
			yield(nil, err)
			return
		}
		item.Set("price_cents", cents)
	}

	photos, err := photoURLs(resp.Body())
	if err != nil {
		yield(nil, err)
		return
	}
	item.Set("photos", photos)
	item.Set("description", strings.TrimSpace(doc.Find(bodySelector).First().Text()))
	if e.clock != nil {
		item.Set("ts_created", e.clock.Now())
	}
	yield(item, nil)
}

// priceCents converts "$1,250" to 125000.
func priceCents(raw string) (int64, error) {
	digits := strings.NewReplacer("$", "", ",", "").Replace(raw)
	dollars, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return dollars * 100, nil
}

func photoURLs(body []byte) ([]string, error) {
	m := photosPattern.FindSubmatch(body)
	if m == nil {
		return []string{}, nil
	}
	var images []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(m[1], &images); err != nil {
		return nil, fmt.Errorf("decode imgList: %w", err)
	}
	urls := make([]string, 0, len(images))
	for _, img := range images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return urls, nil
}

func baseURL(resp crawler.Response) string {
	if final := resp.Meta().FinalURL; final != "" {
		return final
	}
	return resp.Request().URL()
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return b.ResolveReference(ref).String(), nil
}
