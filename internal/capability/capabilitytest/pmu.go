// Package capabilitytest provides a simulated PMU implementing every entry
// point of a capability.Table, for tests of the measurement engine.
//
// Counter slots are assigned deterministically: fixed events occupy their own
// fixed counter index, configurable events take consecutive slots after the
// fixed counters in the order they were added. Every read of the thread
// counters advances each active counter by its event's Rate, so a
// measurement whose before and after snapshots are adjacent reads yields
// exactly Rate for every event.
package capabilitytest

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/kpcbench/internal/capability"
)

// Return codes used by the simulated kperf functions.
const (
	EPERM = 1
	EIO   = 5
	EBUSY = 16
)

// Event describes a simulated catalog entry.
type Event struct {
	Name        string
	Alias       string
	Description string
	// Fixed events count on FixedIndex; others need a configurable counter.
	Fixed      bool
	FixedIndex int
	// Number is the register encoding programmed for configurable events.
	Number uint64
	// Rate is added to the counter on every read while counting.
	Rate uint64
}

// DefaultModel is the database name of the simulated running CPU.
const DefaultModel = "cpu_fake_a14"

// DefaultEvents mirrors the events used by the sample workloads.
func DefaultEvents() []Event {
	return []Event{
		{Name: "FIXED_CYCLES", Alias: "Cycles", Description: "No. of cycles", Fixed: true, FixedIndex: 0, Rate: 1200},
		{Name: "FIXED_INSTRUCTIONS", Alias: "Instructions", Description: "Instructions retired", Fixed: true, FixedIndex: 1, Rate: 900},
		{Name: "INST_BRANCH", Description: "Retired branch instructions", Number: 0x8d, Rate: 150},
		{Name: "BRANCH_MISPRED_NONSPEC", Description: "Mispredicted branches", Number: 0xcb, Rate: 7},
		{Name: "INST_BRANCH_CALL", Description: "Retired subroutine calls", Number: 0x8e, Rate: 12},
		{Name: "INST_LDST", Description: "Retired load/store instructions", Number: 0x9b, Rate: 300},
		{Name: "L1D_CACHE_MISS_LD", Description: "L1D load misses", Number: 0xa3, Rate: 20},
		{Name: "L1D_CACHE_MISS_ST", Description: "L1D store misses", Number: 0xa2, Rate: 9},
		{Name: "L1I_CACHE_MISS_DEMAND", Description: "L1I demand misses", Number: 0xd3, Rate: 4},
		{Name: "INST_INT_ALU", Description: "Retired integer ALU instructions", Number: 0x97, Rate: 400},
		{Name: "INST_SIMD_ALU", Description: "Retired SIMD ALU instructions", Number: 0x9d, Rate: 30},
	}
}

type eventEntry struct {
	Event
	handle uintptr
	name   *byte
	alias  *byte
	desc   *byte
}

type database struct {
	model string
	name  *byte
}

type config struct {
	db       uintptr
	forced   bool
	events   []*eventEntry
	userOnly []bool
}

// PMU simulates the kpc/kpep platform. The zero value is not usable; create
// one with New.
type PMU struct {
	mu sync.Mutex

	// Model is the database opened for the running CPU.
	Model string
	// Models lists additional databases that can be opened by name.
	Models []string

	FixedCounters        int
	ConfigurableCounters int
	// UnforcedCounters is how many configurable counters a config may use
	// without forcing all counters.
	UnforcedCounters int
	// Conflicts lists event name pairs that cannot be scheduled together.
	Conflicts [][2]string

	// Failure injection.
	DenyPermission        bool
	ForcedElsewhere       bool
	FailSetConfig         bool
	FailSetCounting       bool
	FailSetThreadCounting bool
	// FailRead makes the Nth counter read (1-based) fail. 0 disables.
	FailRead int
	// ReportedCounterCount overrides kpc_get_counter_count when non-zero.
	ReportedCounterCount uint32
	// ReportedKPCCount overrides kpep_config_kpc_count when non-zero.
	ReportedKPCCount uintptr

	events     []*eventEntry
	byHandle   map[uintptr]*eventEntry
	dbs        map[uintptr]*database
	configs    map[uintptr]*config
	nextHandle uintptr

	forced         bool
	counting       uint32
	threadCounting uint32
	programmed     []uint64
	counters       [capability.MaxCounters]uint64
	reads          int
	calls          []string
}

// New creates a simulated PMU with the given catalog. A nil events slice uses
// DefaultEvents.
func New(events []Event) *PMU {
	if events == nil {
		events = DefaultEvents()
	}
	p := &PMU{
		Model:                DefaultModel,
		FixedCounters:        2,
		ConfigurableCounters: 8,
		UnforcedCounters:     6,
		byHandle:             make(map[uintptr]*eventEntry),
		dbs:                  make(map[uintptr]*database),
		configs:              make(map[uintptr]*config),
		nextHandle:           0x1000,
	}
	for _, ev := range events {
		e := &eventEntry{
			Event:  ev,
			handle: p.allocHandle(),
			name:   cstring(ev.Name),
			alias:  cstring(ev.Alias),
			desc:   cstring(ev.Description),
		}
		p.events = append(p.events, e)
		p.byHandle[e.handle] = e
	}
	return p
}

func cstring(s string) *byte {
	if s == "" {
		return nil
	}
	b, err := unix.BytePtrFromString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (p *PMU) allocHandle() uintptr {
	p.nextHandle += 0x10
	return p.nextHandle
}

// Table returns a capability table whose functions drive this PMU.
func (p *PMU) Table() *capability.Table {
	return &capability.Table{
		Kperf: capability.Kperf{
			CPUString:         p.cpuString,
			PMUVersion:        func() uint32 { return 3 },
			SetCounting:       p.setCounting,
			SetThreadCounting: p.setThreadCounting,
			SetConfig:         p.setConfig,
			GetCounterCount:   p.getCounterCount,
			GetConfigCount:    p.getConfigCount,
			GetThreadCounters: p.getThreadCounters,
			ForceAllCtrsSet:   p.forceAllCtrsSet,
			ForceAllCtrsGet:   p.forceAllCtrsGet,
		},
		Kperfdata: capability.Kperfdata{
			ConfigCreate:        p.configCreate,
			ConfigFree:          p.configFree,
			ConfigAddEvent:      p.configAddEvent,
			ConfigForceCounters: p.configForceCounters,
			ConfigEventsCount:   p.configEventsCount,
			ConfigKPC:           p.configKPC,
			ConfigKPCCount:      p.configKPCCount,
			ConfigKPCClasses:    p.configKPCClasses,
			ConfigKPCMap:        p.configKPCMap,
			DBCreate:            p.dbCreate,
			DBFree:              p.dbFree,
			DBName:              p.dbName,
			DBEventsCount:       p.dbEventsCount,
			DBEvents:            p.dbEvents,
			DBEvent:             p.dbEvent,
			EventName:           p.eventName,
			EventAlias:          p.eventAlias,
			EventDescription:    p.eventDescription,
		},
	}
}

// Calls returns the kperf calls made so far, formatted as "name(arg)".
func (p *PMU) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// ResetCalls clears the call trace.
func (p *PMU) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// Forced reports whether this process holds the forced counters.
func (p *PMU) Forced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forced
}

// Counting returns the system and thread counting class masks.
func (p *PMU) Counting() (system, thread uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counting, p.threadCounting
}

// Idle reports whether no hardware state is held: counters released and
// counting disabled at both scopes.
func (p *PMU) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.forced && p.counting == 0 && p.threadCounting == 0
}

// OpenDatabases returns the number of databases not yet freed.
func (p *PMU) OpenDatabases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dbs)
}

// OpenConfigs returns the number of configs not yet freed.
func (p *PMU) OpenConfigs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configs)
}

// Programmed returns the register values last passed to kpc_set_config.
func (p *PMU) Programmed() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, len(p.programmed))
	copy(out, p.programmed)
	return out
}

func (p *PMU) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// --- kperf ---

func (p *PMU) cpuString(buf *byte, size uintptr) int32 {
	const desc = "Simulated PMU"
	if buf == nil || size < uintptr(len(desc)+1) {
		return EIO
	}
	out := unsafe.Slice(buf, size)
	n := copy(out, desc)
	out[n] = 0
	return 0
}

func (p *PMU) setCounting(classes uint32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_set_counting(%d)", classes)
	if classes != 0 && p.FailSetCounting {
		return EIO
	}
	p.counting = classes
	return 0
}

func (p *PMU) setThreadCounting(classes uint32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_set_thread_counting(%d)", classes)
	if classes != 0 && p.FailSetThreadCounting {
		return EIO
	}
	p.threadCounting = classes
	return 0
}

func (p *PMU) setConfig(classes uint32, cfg *uint64) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_set_config(%d)", classes)
	if p.FailSetConfig {
		return EIO
	}
	if classes&capability.ClassConfigurable != 0 && !p.forced {
		return EPERM
	}
	n := p.configCount(classes)
	if n > 0 && cfg == nil {
		return EIO
	}
	p.programmed = nil
	if n > 0 {
		p.programmed = append(p.programmed, unsafe.Slice(cfg, n)...)
	}
	return 0
}

func (p *PMU) configCount(classes uint32) int {
	if classes&capability.ClassConfigurable != 0 {
		return p.ConfigurableCounters
	}
	return 0
}

func (p *PMU) counterCount(classes uint32) int {
	n := 0
	if classes&capability.ClassFixed != 0 {
		n += p.FixedCounters
	}
	if classes&capability.ClassConfigurable != 0 {
		n += p.ConfigurableCounters
	}
	return n
}

func (p *PMU) getCounterCount(classes uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReportedCounterCount != 0 {
		return p.ReportedCounterCount
	}
	return uint32(p.counterCount(classes))
}

func (p *PMU) getConfigCount(classes uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(p.configCount(classes))
}

func (p *PMU) getThreadCounters(tid uint32, count uint32, buf *uint64) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_get_thread_counters(%d)", count)
	p.reads++
	if p.FailRead != 0 && p.reads == p.FailRead {
		return EIO
	}
	if buf == nil {
		return EIO
	}

	active := p.counting & p.threadCounting
	base := 0
	if active&capability.ClassFixed != 0 {
		for _, e := range p.events {
			if e.Fixed && e.FixedIndex < p.FixedCounters {
				p.counters[e.FixedIndex] += e.Rate
			}
		}
		base = p.FixedCounters
	}
	if active&capability.ClassConfigurable != 0 {
		for j, reg := range p.programmed {
			if e := p.eventByNumber(reg); e != nil && base+j < len(p.counters) {
				p.counters[base+j] += e.Rate
			}
		}
	}

	n := int(count)
	if n > len(p.counters) {
		n = len(p.counters)
	}
	copy(unsafe.Slice(buf, n), p.counters[:n])
	return 0
}

func (p *PMU) eventByNumber(reg uint64) *eventEntry {
	if reg == 0 {
		return nil
	}
	number := reg &^ userOnlyBit
	for _, e := range p.events {
		if !e.Fixed && e.Number == number {
			return e
		}
	}
	return nil
}

func (p *PMU) forceAllCtrsSet(val int32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_force_all_ctrs_set(%d)", val)
	if p.DenyPermission {
		return EPERM
	}
	if val != 0 && p.ForcedElsewhere {
		return EBUSY
	}
	p.forced = val != 0
	return 0
}

func (p *PMU) forceAllCtrsGet(valOut *int32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("kpc_force_all_ctrs_get()")
	if p.DenyPermission {
		return EPERM
	}
	if valOut != nil {
		*valOut = 0
		if p.forced || p.ForcedElsewhere {
			*valOut = 1
		}
	}
	return 0
}

// --- kperfdata ---

const userOnlyBit = 1 << 16

func code(e capability.KpepError) int32 {
	return int32(e)
}

func (p *PMU) knownModel(name string) bool {
	if name == p.Model {
		return true
	}
	for _, m := range p.Models {
		if m == name {
			return true
		}
	}
	return false
}

func (p *PMU) dbCreate(name *byte, dbOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dbOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	model := p.Model
	if name != nil {
		model = unix.BytePtrToString(name)
	}
	if !p.knownModel(model) {
		return code(capability.KpepDBNotFound)
	}
	h := p.allocHandle()
	p.dbs[h] = &database{model: model, name: cstring(model)}
	*dbOut = h
	return 0
}

func (p *PMU) dbFree(db uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dbs, db)
}

func (p *PMU) dbName(db uintptr, nameOut **byte) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.dbs[db]
	if !ok || nameOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	*nameOut = d.name
	return 0
}

func (p *PMU) dbEventsCount(db uintptr, countOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[db]; !ok || countOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	*countOut = uintptr(len(p.events))
	return 0
}

func (p *PMU) dbEvents(db uintptr, buf *uintptr, size uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[db]; !ok {
		return code(capability.KpepInvalidArgument)
	}
	if size < uintptr(len(p.events))*unsafe.Sizeof(uintptr(0)) {
		return code(capability.KpepBufferTooSmall)
	}
	if len(p.events) == 0 {
		return 0
	}
	out := unsafe.Slice(buf, len(p.events))
	for i, e := range p.events {
		out[i] = e.handle
	}
	return 0
}

func (p *PMU) dbEvent(db uintptr, name string, evOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[db]; !ok || evOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	for _, e := range p.events {
		if e.Name == name || (e.Alias != "" && e.Alias == name) {
			*evOut = e.handle
			return 0
		}
	}
	*evOut = 0
	return code(capability.KpepEventNotFound)
}

func (p *PMU) eventString(ev uintptr, out **byte, pick func(*eventEntry) *byte) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHandle[ev]
	if !ok || out == nil {
		return code(capability.KpepInvalidArgument)
	}
	*out = pick(e)
	return 0
}

func (p *PMU) eventName(ev uintptr, out **byte) int32 {
	return p.eventString(ev, out, func(e *eventEntry) *byte { return e.name })
}

func (p *PMU) eventAlias(ev uintptr, out **byte) int32 {
	return p.eventString(ev, out, func(e *eventEntry) *byte { return e.alias })
}

func (p *PMU) eventDescription(ev uintptr, out **byte) int32 {
	return p.eventString(ev, out, func(e *eventEntry) *byte { return e.desc })
}

func (p *PMU) configCreate(db uintptr, cfgOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dbs[db]; !ok || cfgOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	h := p.allocHandle()
	p.configs[h] = &config{db: db}
	*cfgOut = h
	return 0
}

func (p *PMU) configFree(cfg uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.configs, cfg)
}

func (p *PMU) configForceCounters(cfg uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok {
		return code(capability.KpepInvalidArgument)
	}
	c.forced = true
	return 0
}

func (p *PMU) conflicts(a, b string) bool {
	for _, pair := range p.Conflicts {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}

func (p *PMU) configAddEvent(cfg uintptr, ev *uintptr, flag uint32, errOut *uint32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok || ev == nil {
		return code(capability.KpepInvalidArgument)
	}
	e, ok := p.byHandle[*ev]
	if !ok {
		return code(capability.KpepInvalidArgument)
	}

	next := len(c.events)
	var bitmap uint32
	configurable := 0
	for i, other := range c.events {
		if other.Fixed && e.Fixed && other.FixedIndex == e.FixedIndex {
			bitmap |= 1 << uint(i)
		}
		if p.conflicts(other.Name, e.Name) {
			bitmap |= 1 << uint(i)
		}
		if !other.Fixed {
			configurable++
		}
	}
	if !e.Fixed && configurable >= p.ConfigurableCounters {
		for i, other := range c.events {
			if !other.Fixed {
				bitmap |= 1 << uint(i)
			}
		}
	}
	if bitmap != 0 {
		if errOut != nil {
			*errOut = bitmap | 1<<uint(next)
		}
		return code(capability.KpepConflictingEvents)
	}
	if !e.Fixed && !c.forced && configurable >= p.UnforcedCounters {
		return code(capability.KpepCountersNotForced)
	}

	c.events = append(c.events, e)
	c.userOnly = append(c.userOnly, flag == capability.CountUserOnly)
	return 0
}

func (c *config) classes() uint32 {
	var classes uint32
	for _, e := range c.events {
		if e.Fixed {
			classes |= capability.ClassFixed
		} else {
			classes |= capability.ClassConfigurable
		}
	}
	return classes
}

func (p *PMU) configEventsCount(cfg uintptr, countOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok || countOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	*countOut = uintptr(len(c.events))
	return 0
}

func (p *PMU) configKPCClasses(cfg uintptr, classesOut *uint32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok || classesOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	*classesOut = c.classes()
	return 0
}

func (p *PMU) configKPCCount(cfg uintptr, countOut *uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok || countOut == nil {
		return code(capability.KpepInvalidArgument)
	}
	if p.ReportedKPCCount != 0 {
		*countOut = p.ReportedKPCCount
		return 0
	}
	*countOut = uintptr(p.configCount(c.classes()))
	return 0
}

func (p *PMU) configKPC(cfg uintptr, buf *uint64, size uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok {
		return code(capability.KpepInvalidArgument)
	}
	n := p.configCount(c.classes())
	if size < uintptr(n)*8 {
		return code(capability.KpepBufferTooSmall)
	}
	if n == 0 {
		return 0
	}
	out := unsafe.Slice(buf, n)
	for i := range out {
		out[i] = 0
	}
	j := 0
	for i, e := range c.events {
		if e.Fixed {
			continue
		}
		reg := e.Number
		if c.userOnly[i] {
			reg |= userOnlyBit
		}
		out[j] = reg
		j++
	}
	return 0
}

func (p *PMU) configKPCMap(cfg uintptr, buf *uintptr, size uintptr) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[cfg]
	if !ok {
		return code(capability.KpepInvalidArgument)
	}
	if size < uintptr(len(c.events))*unsafe.Sizeof(uintptr(0)) {
		return code(capability.KpepBufferTooSmall)
	}
	if len(c.events) == 0 {
		return 0
	}
	base := 0
	if c.classes()&capability.ClassFixed != 0 {
		base = p.FixedCounters
	}
	out := unsafe.Slice(buf, len(c.events))
	j := 0
	for i, e := range c.events {
		if e.Fixed {
			out[i] = uintptr(e.FixedIndex)
			continue
		}
		out[i] = uintptr(base + j)
		j++
	}
	return 0
}
