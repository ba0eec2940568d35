// Package session seeds the queue with the first list page of each partition.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// PartitionPlaceholder is replaced by the partition key in URLTemplate.
const PartitionPlaceholder = "{partition}"

// Spec describes a crawl session.
type Spec struct {
	SessionID string
	// Path is resolved against each partition's root URL.
	Path       string
	Partitions []string
	// URLTemplate yields a partition's root URL, e.g.
	// "https://{partition}.craigslist.org/".
	URLTemplate string
}

// Requests builds one page-0 list request per partition.
func (s Spec) Requests() ([]crawler.Request, error) {
	if strings.TrimSpace(s.SessionID) == "" {
		return nil, errors.New("session id is required")
	}
	if len(s.Partitions) == 0 {
		return nil, errors.New("at least one partition is required")
	}
	if !strings.Contains(s.URLTemplate, PartitionPlaceholder) {
		return nil, fmt.Errorf("url template %q lacks %s", s.URLTemplate, PartitionPlaceholder)
	}
	ref, err := url.Parse(s.Path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", s.Path, err)
	}

	reqs := make([]crawler.Request, 0, len(s.Partitions))
	for _, partition := range s.Partitions {
		root, err := url.Parse(strings.ReplaceAll(s.URLTemplate, PartitionPlaceholder, partition))
		if err != nil {
			return nil, fmt.Errorf("partition %s root: %w", partition, err)
		}
		req, err := crawler.NewListRequest(s.SessionID, partition, root.ResolveReference(ref).String(), 0)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", partition, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Seed puts the session's initial list requests on queue.
func Seed(ctx context.Context, queue crawler.Queue, spec Spec) ([]crawler.Request, error) {
	reqs, err := spec.Requests()
	if err != nil {
		return nil, err
	}
	if err := queue.Put(ctx, reqs...); err != nil {
		return nil, fmt.Errorf("seed session %s: %w", spec.SessionID, err)
	}
	return reqs, nil
}
