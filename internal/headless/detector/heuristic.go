// Package detector decides when a plain HTTP response should be re-fetched
// through a headless browser.
package detector

import (
	"bytes"
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// DefaultBodyThreshold is the body size below which script-heavy pages are promoted.
const DefaultBodyThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether resp looks like a client-rendered shell.
func (h *Heuristic) ShouldPromote(resp crawler.Response) bool {
	if resp.Meta().StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body()
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	openTag := []byte("<script")
	closeTag := []byte("</script>")
	coverage := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; the rest of the document counts.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if end := bytes.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}

// Promoting fetches through Primary and re-fetches through Headless when the
// heuristic flags the result. Primary errors are returned unchanged.
type Promoting struct {
	Primary   crawler.Fetcher
	Headless  crawler.Fetcher
	Heuristic *Heuristic
	Logger    *zap.Logger
}

// NewPromoting wires a promoting fetcher. A nil heuristic uses the defaults.
func NewPromoting(primary, headless crawler.Fetcher, h *Heuristic, logger *zap.Logger) *Promoting {
	if h == nil {
		h = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{Primary: primary, Headless: headless, Heuristic: h, Logger: logger}
}

// Fetch implements crawler.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, req crawler.Request) (crawler.Response, error) {
	resp, err := p.Primary.Fetch(ctx, req)
	if err != nil {
		return crawler.Response{}, err
	}
	if !p.Heuristic.ShouldPromote(resp) {
		return resp, nil
	}
	p.Logger.Debug("promoting to headless", zap.String("url", req.URL()))
	return p.Headless.Fetch(ctx, req)
}
