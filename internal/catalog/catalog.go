// Package catalog provides access to the platform's performance event
// database, resolving textual event keys into descriptors usable by the
// counter config builder.
package catalog

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/logging"
)

// Event is a resolved event descriptor. It is only valid while the catalog
// that produced it is open.
type Event struct {
	Key    string
	Handle uintptr
}

// EventInfo describes one catalog entry.
type EventInfo struct {
	Name        string `json:"name" yaml:"name"`
	Alias       string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog is an open kpep event database.
type Catalog struct {
	mu     sync.Mutex
	kd     *capability.Kperfdata
	db     uintptr
	model  string
	closed bool
}

// Open opens the event database for model, or for the running CPU when model
// is empty.
func Open(kd *capability.Kperfdata, model string) (*Catalog, error) {
	if kd == nil {
		return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Detail("nil capability table").
			Build()
	}

	var name *byte
	if model != "" {
		var err error
		if name, err = unix.BytePtrFromString(model); err != nil {
			return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
				Detail("invalid model name %q", model).
				Cause(err).
				Build()
		}
	}

	var db uintptr
	if ret := kd.DBCreate(name, &db); ret != 0 {
		return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Code(ret).
			Detail("cannot load pmc database: %s", capability.KpepError(ret)).
			Build()
	}
	if db == 0 {
		return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Detail("pmc database create returned a nil handle").
			Build()
	}

	c := &Catalog{kd: kd, db: db, model: model}
	logging.Logger().Debug("pmc database loaded",
		zap.String("requested", model),
		zap.String("name", c.nameLocked()))
	return c, nil
}

func (c *Catalog) closedError() error {
	return kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
		Detail("catalog is closed").
		Build()
}

// Database returns the raw kpep_db handle for building configs.
func (c *Catalog) Database() (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, c.closedError()
	}
	return c.db, nil
}

// Name returns the database name, e.g. "a14" or "haswell".
func (c *Catalog) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ""
	}
	return c.nameLocked()
}

func (c *Catalog) nameLocked() string {
	var name *byte
	if ret := c.kd.DBName(c.db, &name); ret != 0 || name == nil {
		return c.model
	}
	return unix.BytePtrToString(name)
}

// Lookup resolves key into an event descriptor. Unknown keys produce an
// error matching kpcerrors.ErrEventNotFound.
func (c *Catalog) Lookup(key string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Event{}, c.closedError()
	}

	var ev uintptr
	ret := c.kd.DBEvent(c.db, key, &ev)
	switch capability.KpepError(ret) {
	case capability.KpepNone:
		if ev == 0 {
			return Event{}, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindEventNotFound).
				Key(key).
				Build()
		}
		return Event{Key: key, Handle: ev}, nil
	case capability.KpepEventNotFound, capability.KpepEventUnavailable:
		return Event{}, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindEventNotFound).
			Key(key).
			Code(ret).
			Build()
	default:
		return Event{}, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Key(key).
			Code(ret).
			Detail("event lookup failed: %s", capability.KpepError(ret)).
			Build()
	}
}

// Events lists every event in the database, in database order.
func (c *Catalog) Events() ([]EventInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.closedError()
	}

	var count uintptr
	if ret := c.kd.DBEventsCount(c.db, &count); ret != 0 {
		return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Code(ret).
			Detail("cannot count events: %s", capability.KpepError(ret)).
			Build()
	}
	if count == 0 {
		return nil, nil
	}

	handles := make([]uintptr, count)
	if ret := c.kd.DBEvents(c.db, &handles[0], count*unsafe.Sizeof(uintptr(0))); ret != 0 {
		return nil, kpcerrors.New(kpcerrors.PhaseCatalog, kpcerrors.KindCatalog).
			Code(ret).
			Detail("cannot list events: %s", capability.KpepError(ret)).
			Build()
	}

	infos := make([]EventInfo, 0, len(handles))
	for _, h := range handles {
		if h == 0 {
			continue
		}
		infos = append(infos, EventInfo{
			Name:        c.eventString(c.kd.EventName, h),
			Alias:       c.eventString(c.kd.EventAlias, h),
			Description: c.eventString(c.kd.EventDescription, h),
		})
	}
	return infos, nil
}

func (c *Catalog) eventString(fn func(uintptr, **byte) int32, ev uintptr) string {
	var s *byte
	if ret := fn(ev, &s); ret != 0 || s == nil {
		return ""
	}
	return unix.BytePtrToString(s)
}

// Close frees the database. Descriptors obtained from the catalog become
// invalid. Closing twice is a no-op.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.kd.DBFree(c.db)
	c.closed = true
	c.db = 0
	return nil
}
