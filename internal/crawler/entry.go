package crawler

import (
	"encoding/json"
	"fmt"
)

// QueueEntry is the serialized form of a Request in the queue store.
type QueueEntry struct {
	Identity     string `json:"identity"`
	Kind         string `json:"kind"`
	URL          string `json:"url"`
	SessionID    string `json:"session_id"`
	PartitionKey string `json:"partition_key"`
	Page         int    `json:"page,omitempty"`
}

// EncodeEntry serializes a request for storage.
func EncodeEntry(req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(QueueEntry{
		Identity:     req.Identity(),
		Kind:         req.Kind().String(),
		URL:          req.URL(),
		SessionID:    req.SessionID(),
		PartitionKey: req.PartitionKey(),
		Page:         req.Page(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal queue entry: %w", err)
	}
	return data, nil
}

// DecodeEntry rebuilds a request from storage. The identity is recomputed
// and must match the stored one.
func DecodeEntry(data []byte) (Request, error) {
	var entry QueueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Request{}, fmt.Errorf("unmarshal queue entry: %w", err)
	}
	kind, err := ParseKind(entry.Kind)
	if err != nil {
		return Request{}, err
	}
	var req Request
	switch kind {
	case KindList:
		req, err = NewListRequest(entry.SessionID, entry.PartitionKey, entry.URL, entry.Page)
	default:
		req, err = NewItemRequest(entry.SessionID, entry.PartitionKey, entry.URL)
	}
	if err != nil {
		return Request{}, err
	}
	if req.Identity() != entry.Identity {
		return Request{}, fmt.Errorf("queue entry identity mismatch for %s", entry.URL)
	}
	return req, nil
}
