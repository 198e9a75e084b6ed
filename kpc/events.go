package kpc

import (
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/catalog"
	"github.com/wesleyorama2/kpcbench/internal/counter"
	"github.com/wesleyorama2/kpcbench/internal/session"
	"github.com/wesleyorama2/kpcbench/internal/stats"
)

type (
	// EventRequest names one event: a display label and a catalog key.
	EventRequest = counter.Request
	// Delta is the count observed for one request.
	Delta = session.Delta
	// EventInfo describes one catalog entry.
	EventInfo = catalog.EventInfo
	// EventStats summarises one event over repeated measurements.
	EventStats = stats.EventStats
	// Resolver loads the capability modules.
	Resolver = capability.Resolver
	// Paths locates the capability modules.
	Paths = capability.Paths
	// CachePolicy controls resolver behaviour after a failed load.
	CachePolicy = capability.CachePolicy
)

const (
	RetryOnFailure = capability.RetryOnFailure
	CacheFailure   = capability.CacheFailure
)

// NewResolver creates a resolver for the modules at paths.
func NewResolver(paths Paths, policy CachePolicy) *Resolver {
	return capability.NewResolver(capability.WithPaths(paths), capability.WithCachePolicy(policy))
}

// Events is an ordered list of event requests built up with Push.
type Events struct {
	reqs []EventRequest
}

// NewEvents returns an empty list.
func NewEvents() *Events {
	return &Events{}
}

// Push appends an event and returns the list for chaining.
func (e *Events) Push(name, key string) *Events {
	e.reqs = append(e.reqs, EventRequest{Name: name, Key: key})
	return e
}

// Len returns the number of requests.
func (e *Events) Len() int {
	return len(e.reqs)
}

// Requests returns a copy of the requests in push order.
func (e *Events) Requests() []EventRequest {
	out := make([]EventRequest, len(e.reqs))
	copy(out, e.reqs)
	return out
}
