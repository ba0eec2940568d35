// Package pipeline runs extracted items through an ordered list of stages.
// A stage may rewrite an item, drop it, or fail; failures drop the item from
// later stages and are fatal only for stages registered as critical.
package pipeline

import (
	"context"
	"errors"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// ErrDrop tells the chain to discard the item without reporting an error.
var ErrDrop = errors.New("drop item")

// Stage is one sink in the pipeline.
type Stage interface {
	Name() string
	Start(ctx context.Context, rt *crawler.Runtime) error
	// Process returns the item for the next stage. Returning ErrDrop or a nil
	// item drops it silently.
	Process(ctx context.Context, item *crawler.Item) (*crawler.Item, error)
	// Stop flushes buffered work.
	Stop(ctx context.Context) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// Base provides no-op lifecycle hooks.
type Base struct{}

// Start does nothing.
func (Base) Start(context.Context, *crawler.Runtime) error { return nil }

// Stop does nothing.
func (Base) Stop(context.Context) error { return nil }

// Close does nothing.
func (Base) Close(context.Context) error { return nil }
