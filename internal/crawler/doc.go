// Package crawler defines the data model shared by every part of the list
// crawler: requests and their identities, responses, extracted items, the
// typed errors that flow between components, and the interfaces the engine
// composes (queue, fetcher, extractor).
package crawler
