// Package counter turns an ordered list of event requests into a hardware
// counter configuration: the class mask to enable, the config register
// values to program and the counter slot each request reads from.
package counter

import (
	"sort"
	"unsafe"

	"go.uber.org/zap"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/catalog"
	"github.com/wesleyorama2/kpcbench/internal/logging"
)

// Request names one event to measure. Name is the caller's display label,
// Key the catalog identifier.
type Request struct {
	Name string `json:"name" yaml:"name"`
	Key  string `json:"key" yaml:"key"`
}

// Options tune how the configuration is built.
type Options struct {
	// UserSpaceOnly excludes kernel-mode activity from every counter.
	UserSpaceOnly bool
	// Unforced skips reserving all counters. Only useful to exercise the
	// platform's CountersNotForced path.
	Unforced bool
}

// Config is a finished counter configuration.
type Config struct {
	// Classes is the union of counter classes the events need.
	Classes uint32
	// Registers holds the config register values, sized by the platform.
	Registers []uint64
	// SlotMap[i] is the hardware counter index read for request i.
	SlotMap []int
}

// Build resolves reqs against cat and produces a Config. Requests sharing a
// key are registered once and share a slot. Build takes ownership of cat and
// closes it before returning.
func Build(kd *capability.Kperfdata, cat *catalog.Catalog, reqs []Request, opts Options) (*Config, error) {
	if cat != nil {
		defer func() {
			_ = cat.Close()
		}()
	}
	if kd == nil || cat == nil {
		return nil, kpcerrors.Invariant(kpcerrors.PhaseBuild, "capability table and catalog are required")
	}
	if len(reqs) == 0 {
		return nil, kpcerrors.Invariant(kpcerrors.PhaseBuild, "at least one event is required")
	}

	db, err := cat.Database()
	if err != nil {
		return nil, err
	}

	var cfg uintptr
	if ret := kd.ConfigCreate(db, &cfg); ret != 0 {
		return nil, kpepError(ret, "create config")
	}
	defer kd.ConfigFree(cfg)

	if !opts.Unforced {
		if ret := kd.ConfigForceCounters(cfg); ret != 0 {
			return nil, kpepError(ret, "force counters")
		}
	}

	b := &builder{kd: kd, cat: cat, cfg: cfg, reqs: reqs}
	if err := b.addEvents(opts); err != nil {
		return nil, err
	}
	return b.finish()
}

type builder struct {
	kd   *capability.Kperfdata
	cat  *catalog.Catalog
	cfg  uintptr
	reqs []Request

	// distinct[i] is the position in the kpep config of request i's key.
	distinct []int
	keys     []string
}

func (b *builder) addEvents(opts Options) error {
	flag := capability.CountAll
	if opts.UserSpaceOnly {
		flag = capability.CountUserOnly
	}

	seen := make(map[string]int, len(b.reqs))
	b.distinct = make([]int, len(b.reqs))
	for i, req := range b.reqs {
		if pos, ok := seen[req.Key]; ok {
			b.distinct[i] = pos
			continue
		}

		ev, err := b.cat.Lookup(req.Key)
		if err != nil {
			if kpcerrors.KindOf(err) == kpcerrors.KindEventNotFound {
				return kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindEventNotFound).
					Event(req.Name).
					Key(req.Key).
					Indices(i).
					Build()
			}
			return err
		}

		var conflicts uint32
		handle := ev.Handle
		ret := b.kd.ConfigAddEvent(b.cfg, &handle, flag, &conflicts)
		switch capability.KpepError(ret) {
		case capability.KpepNone:
		case capability.KpepConflictingEvents:
			return kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindConflictingEvents).
				Event(req.Name).
				Key(req.Key).
				Indices(b.requestIndices(conflicts, len(b.keys), i)...).
				Code(ret).
				Build()
		case capability.KpepEventNotFound, capability.KpepEventUnavailable:
			return kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindEventNotFound).
				Event(req.Name).
				Key(req.Key).
				Indices(i).
				Code(ret).
				Build()
		case capability.KpepCountersNotForced:
			return kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindInvariant).
				Event(req.Name).
				Key(req.Key).
				Code(ret).
				Detail("%s", capability.KpepError(ret)).
				Build()
		default:
			return kpepError(ret, "add event "+req.Key)
		}

		pos := len(b.keys)
		seen[req.Key] = pos
		b.keys = append(b.keys, req.Key)
		b.distinct[i] = pos
	}
	return nil
}

// requestIndices translates a kpep conflict bitmap over config positions into
// request indices. The request being added sits at config position next and
// request index current.
func (b *builder) requestIndices(bitmap uint32, next, current int) []int {
	var out []int
	for i := 0; i < current; i++ {
		if bitmap&(1<<uint(b.distinct[i])) != 0 {
			out = append(out, i)
		}
	}
	if bitmap == 0 || bitmap&(1<<uint(next)) != 0 {
		out = append(out, current)
	}
	sort.Ints(out)
	return out
}

func (b *builder) finish() (*Config, error) {
	var classes uint32
	if ret := b.kd.ConfigKPCClasses(b.cfg, &classes); ret != 0 {
		return nil, kpepError(ret, "read classes")
	}

	var regCount uintptr
	if ret := b.kd.ConfigKPCCount(b.cfg, &regCount); ret != 0 {
		return nil, kpepError(ret, "read register count")
	}
	if regCount > capability.MaxCounters {
		return nil, kpcerrors.Invariant(kpcerrors.PhaseBuild,
			"platform reports %d config registers, more than %d", regCount, capability.MaxCounters)
	}
	regs := make([]uint64, regCount)
	if regCount > 0 {
		if ret := b.kd.ConfigKPC(b.cfg, &regs[0], regCount*unsafe.Sizeof(regs[0])); ret != 0 {
			return nil, kpepError(ret, "read registers")
		}
	}

	var evCount uintptr
	if ret := b.kd.ConfigEventsCount(b.cfg, &evCount); ret != 0 {
		return nil, kpepError(ret, "read event count")
	}
	if int(evCount) != len(b.keys) {
		return nil, kpcerrors.Invariant(kpcerrors.PhaseBuild,
			"config holds %d events, %d were added", evCount, len(b.keys))
	}
	kpcMap := make([]uintptr, evCount)
	if ret := b.kd.ConfigKPCMap(b.cfg, &kpcMap[0], evCount*unsafe.Sizeof(kpcMap[0])); ret != 0 {
		return nil, kpepError(ret, "read counter map")
	}

	slots := make([]int, len(b.reqs))
	for i := range b.reqs {
		slot := kpcMap[b.distinct[i]]
		if slot >= capability.MaxCounters {
			return nil, kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindInvariant).
				Event(b.reqs[i].Name).
				Key(b.reqs[i].Key).
				Detail("counter slot %d out of range", slot).
				Build()
		}
		slots[i] = int(slot)
	}

	logging.Logger().Debug("counter config built",
		zap.Strings("classes", capability.ClassNames(classes)),
		zap.Int("events", len(b.keys)),
		zap.Int("requests", len(b.reqs)),
		zap.Int("registers", len(regs)))

	return &Config{Classes: classes, Registers: regs, SlotMap: slots}, nil
}

// kpepError maps a kperfdata return code to a build error.
func kpepError(ret int32, op string) error {
	kind := kpcerrors.KindCatalog
	if capability.KpepError(ret) == capability.KpepBufferTooSmall {
		kind = kpcerrors.KindInvariant
	}
	return kpcerrors.New(kpcerrors.PhaseBuild, kind).
		Code(ret).
		Detail("%s: %s", op, capability.KpepError(ret)).
		Build()
}
