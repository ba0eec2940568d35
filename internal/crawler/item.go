package crawler

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Reserved item keys carrying the origin of an item.
const (
	FieldURL          = "url"
	FieldSessionID    = "session_id"
	FieldPartitionKey = "partition_key"
)

// Field is one named domain value of an Item.
type Field struct {
	Name  string
	Value any
}

// Item is a record extracted from a detail page. The origin (URL, session,
// partition) is fixed at construction; domain fields keep first-set order.
//
// Supported value types: nil, string, int64, float64, bool, time.Time and
// []string. Set widens other integer and float kinds and converts times to UTC.
// Unsigned values above math.MaxInt64 become float64.
type Item struct {
	url          string
	sessionID    string
	partitionKey string
	fields       []Field
}

// NewItem creates an empty item for the given origin.
func NewItem(url, sessionID, partitionKey string) *Item {
	return &Item{url: url, sessionID: sessionID, partitionKey: partitionKey}
}

// NewItemFor creates an empty item whose origin is the request.
func NewItemFor(req Request) *Item {
	return NewItem(req.URL(), req.SessionID(), req.PartitionKey())
}

// URL returns the page the item was extracted from.
func (i *Item) URL() string { return i.url }

// SessionID returns the originating crawl session.
func (i *Item) SessionID() string { return i.sessionID }

// PartitionKey returns the originating partition.
func (i *Item) PartitionKey() string { return i.partitionKey }

// SameOrigin reports whether both items share URL, session and partition.
func (i *Item) SameOrigin(other *Item) bool {
	return other != nil &&
		i.url == other.url &&
		i.sessionID == other.sessionID &&
		i.partitionKey == other.partitionKey
}

// Set assigns a domain field, replacing an existing value in place. Reserved
// origin keys are ignored.
func (i *Item) Set(name string, value any) {
	if isReserved(name) {
		return
	}
	value = normalizeValue(value)
	for idx := range i.fields {
		if i.fields[idx].Name == name {
			i.fields[idx].Value = value
			return
		}
	}
	i.fields = append(i.fields, Field{Name: name, Value: value})
}

// Get returns a domain field value.
func (i *Item) Get(name string) (any, bool) {
	for _, f := range i.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Fields returns the domain fields in order.
func (i *Item) Fields() []Field {
	return slices.Clone(i.fields)
}

// Record returns origin and domain fields as one ordered list, the layout
// used by exports.
func (i *Item) Record() []Field {
	out := make([]Field, 0, len(i.fields)+3)
	out = append(out,
		Field{Name: FieldURL, Value: i.url},
		Field{Name: FieldSessionID, Value: i.sessionID},
		Field{Name: FieldPartitionKey, Value: i.partitionKey},
	)
	return append(out, i.fields...)
}

// Clone returns a deep copy.
func (i *Item) Clone() *Item {
	c := &Item{url: i.url, sessionID: i.sessionID, partitionKey: i.partitionKey}
	c.fields = make([]Field, len(i.fields))
	for idx, f := range i.fields {
		c.fields[idx] = Field{Name: f.Name, Value: normalizeValue(f.Value)}
	}
	return c
}

// Equal compares origin, field order and values. Times compare by instant.
func (i *Item) Equal(other *Item) bool {
	if !i.SameOrigin(other) || len(i.fields) != len(other.fields) {
		return false
	}
	for idx, f := range i.fields {
		o := other.fields[idx]
		if f.Name != o.Name || !valueEqual(f.Value, o.Value) {
			return false
		}
	}
	return true
}

func (i *Item) String() string {
	names := make([]string, len(i.fields))
	for idx, f := range i.fields {
		names[idx] = f.Name
	}
	return fmt.Sprintf("<item partition:%s url:%s fields:%s>", i.partitionKey, i.url, strings.Join(names, ","))
}

func (*Item) isOutput() {}

func isReserved(name string) bool {
	return name == FieldURL || name == FieldSessionID || name == FieldPartitionKey
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return widenUnsigned(uint64(t))
	case uint64:
		return widenUnsigned(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

func widenUnsigned(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []string:
		bv, ok := b.([]string)
		return ok && slices.Equal(av, bv)
	default:
		return a == b
	}
}
