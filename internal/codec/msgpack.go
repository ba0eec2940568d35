// Package codec serializes items for the export topic. Items are encoded as
// a msgpack map whose keys keep the item's field order; times use the
// msgpack timestamp extension so they never decode as plain strings.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// ContentType describes the encoded payload.
const ContentType = "application/msgpack"

// ErrMissingOrigin is returned when a payload lacks url, session_id or
// partition_key.
var ErrMissingOrigin = errors.New("payload missing item origin")

// Marshal encodes item as an ordered msgpack map.
func Marshal(item *crawler.Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	record := item.Record()
	if err := enc.EncodeMapLen(len(record)); err != nil {
		return nil, fmt.Errorf("encode map header: %w", err)
	}
	for _, f := range record {
		if err := enc.EncodeString(f.Name); err != nil {
			return nil, fmt.Errorf("encode key %q: %w", f.Name, err)
		}
		if err := encodeValue(enc, f.Value); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch t := v.(type) {
	case nil:
		return enc.EncodeNil()
	case string:
		return enc.EncodeString(t)
	case int64:
		return enc.EncodeInt(t)
	case float64:
		return enc.EncodeFloat64(t)
	case bool:
		return enc.EncodeBool(t)
	case time.Time:
		return enc.EncodeTime(t.UTC())
	case []string:
		if err := enc.EncodeArrayLen(len(t)); err != nil {
			return err
		}
		for _, s := range t {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// Unmarshal decodes a payload produced by Marshal. Field order is restored
// from the key order in the payload.
func Unmarshal(data []byte) (*crawler.Item, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("decode map header: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("decode map header: %w", ErrMissingOrigin)
	}

	var (
		origin = map[string]string{}
		fields []crawler.Field
	)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("decode key %d: %w", i, err)
		}
		raw, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		value, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		switch key {
		case crawler.FieldURL, crawler.FieldSessionID, crawler.FieldPartitionKey:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field %q: expected string, got %T", key, value)
			}
			origin[key] = s
		default:
			fields = append(fields, crawler.Field{Name: key, Value: value})
		}
	}

	url, ok := origin[crawler.FieldURL]
	if !ok || url == "" {
		return nil, ErrMissingOrigin
	}
	item := crawler.NewItem(url, origin[crawler.FieldSessionID], origin[crawler.FieldPartitionKey])
	for _, f := range fields {
		item.Set(f.Name, f.Value)
	}
	return item, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, int64, float64, bool:
		return t, nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case []byte:
		return string(t), nil
	case time.Time:
		return t.UTC(), nil
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("list element %d: expected string, got %T", i, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
