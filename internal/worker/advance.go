package worker

import (
	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// decision is what survives from one extraction.
type decision struct {
	requests []crawler.Request
	items    []*crawler.Item
	dropped  int
}

// advance filters extractor outputs for parent. From a list page at page N,
// item requests in the same session and partition are kept and the first
// in-scope list request becomes page N+1 when N < maxPage. From an item page
// only the first item is kept. Everything else is dropped.
func advance(parent crawler.Request, outputs []crawler.Output, maxPage int) decision {
	var d decision
	switch parent.Kind() {
	case crawler.KindList:
		nextTaken := false
		for _, out := range outputs {
			req, ok := out.(crawler.Request)
			if !ok || !sameScope(parent, req) {
				d.dropped++
				continue
			}
			switch req.Kind() {
			case crawler.KindItem:
				d.requests = append(d.requests, req)
			case crawler.KindList:
				if nextTaken || parent.Page() >= maxPage {
					d.dropped++
					continue
				}
				nextTaken = true
				next, err := crawler.NewListRequest(parent.SessionID(), parent.PartitionKey(), req.URL(), parent.Page()+1)
				if err != nil {
					d.dropped++
					continue
				}
				d.requests = append(d.requests, next)
			default:
				d.dropped++
			}
		}
	case crawler.KindItem:
		for _, out := range outputs {
			item, ok := out.(*crawler.Item)
			if !ok || item == nil || len(d.items) > 0 {
				d.dropped++
				continue
			}
			d.items = append(d.items, item)
		}
	default:
		d.dropped = len(outputs)
	}
	return d
}

func sameScope(parent, req crawler.Request) bool {
	return parent.SessionID() == req.SessionID() && parent.PartitionKey() == req.PartitionKey()
}
