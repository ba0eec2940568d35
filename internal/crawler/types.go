package crawler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/listcrawler/internal/hash/sha256"
)

// Kind tags the closed set of request variants.
type Kind uint8

// Request kinds.
const (
	KindList Kind = iota + 1
	KindItem
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindItem:
		return "item"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "list":
		return KindList, nil
	case "item":
		return KindItem, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, s)
	}
}

// Request is an immutable unit of crawl work. Build one with NewListRequest or
// NewItemRequest; the zero value has no identity and is rejected by queues.
type Request struct {
	identity     string
	kind         Kind
	url          string
	sessionID    string
	partitionKey string
	page         int
}

// NewListRequest builds a List request for the given pagination page.
func NewListRequest(sessionID, partitionKey, rawURL string, page int) (Request, error) {
	if page < 0 {
		return Request{}, fmt.Errorf("%w: negative page %d", ErrInvalidRequest, page)
	}
	return newRequest(KindList, sessionID, partitionKey, rawURL, page)
}

// NewItemRequest builds an Item (detail page) request.
func NewItemRequest(sessionID, partitionKey, rawURL string) (Request, error) {
	return newRequest(KindItem, sessionID, partitionKey, rawURL, 0)
}

func newRequest(kind Kind, sessionID, partitionKey, rawURL string, page int) (Request, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return Request{
		identity:     Identity(sessionID, partitionKey, normalized),
		kind:         kind,
		url:          normalized,
		sessionID:    sessionID,
		partitionKey: partitionKey,
		page:         page,
	}, nil
}

// Identity fingerprints (session, partition, normalized URL). The result is
// stable across processes and restarts.
func Identity(sessionID, partitionKey, normalizedURL string) string {
	return sha256.Fingerprint(sessionID, partitionKey, normalizedURL)
}

// Identity returns the deduplication fingerprint.
func (r Request) Identity() string { return r.identity }

// Kind returns the request variant.
func (r Request) Kind() Kind { return r.kind }

// URL returns the normalized URL to fetch.
func (r Request) URL() string { return r.url }

// SessionID returns the crawl session the request belongs to.
func (r Request) SessionID() string { return r.sessionID }

// PartitionKey returns the crawl subspace (site, city, category).
func (r Request) PartitionKey() string { return r.partitionKey }

// Page returns the pagination page; always 0 for Item requests.
func (r Request) Page() int { return r.page }

// IsZero reports whether r was never constructed.
func (r Request) IsZero() bool { return r.identity == "" }

// Validate reports ErrInvalidRequest when the request cannot be enqueued.
func (r Request) Validate() error {
	if r.identity == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidRequest)
	}
	if r.kind != KindList && r.kind != KindItem {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRequest, r.kind)
	}
	return nil
}

func (r Request) String() string {
	if r.kind == KindList {
		return fmt.Sprintf("<list session:%s partition:%s page:%d url:%s>", r.sessionID, r.partitionKey, r.page, r.url)
	}
	return fmt.Sprintf("<%s session:%s partition:%s url:%s>", r.kind, r.sessionID, r.partitionKey, r.url)
}

func (Request) isOutput() {}

// Meta describes how and when a response arrived.
type Meta struct {
	StatusCode int
	Header     http.Header
	FinalURL   string
	FetchedAt  time.Time
	Duration   time.Duration
}

// Response pairs a request with the payload fetched for it.
type Response struct {
	request Request
	body    []byte
	meta    Meta
}

// NewResponse copies body and meta so later mutation by the caller is not visible.
func NewResponse(req Request, body []byte, meta Meta) Response {
	meta.Header = meta.Header.Clone()
	return Response{
		request: req,
		body:    bytes.Clone(body),
		meta:    meta,
	}
}

// Request returns the request this response answers.
func (r Response) Request() Request { return r.request }

// Body returns a copy of the raw payload.
func (r Response) Body() []byte { return bytes.Clone(r.body) }

// Len returns the payload size in bytes.
func (r Response) Len() int { return len(r.body) }

// Meta returns the arrival metadata.
func (r Response) Meta() Meta {
	m := r.meta
	m.Header = m.Header.Clone()
	return m
}
