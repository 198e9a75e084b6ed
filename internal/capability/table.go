package capability

// MaxCounters is the maximum number of counters readable from every class in
// one call.
//
//	ARMV7: FIXED: 1, CONFIGURABLE: 4
//	ARM32: FIXED: 2, CONFIGURABLE: 6
//	ARM64: FIXED: 2, CONFIGURABLE: CORE_NCTRS - FIXED (6 or 8)
//	x86:   32
//
// Platform-reported counts above this bound are treated as invariant
// violations, never truncated.
const MaxCounters = 32

// Counter class masks accepted by kpc_set_counting and friends.
const (
	ClassFixed        uint32 = 1 << 0
	ClassConfigurable uint32 = 1 << 1
	ClassPower        uint32 = 1 << 2
	ClassRawPMU       uint32 = 1 << 3
)

// ClassNames returns the names of the classes present in mask, in bit order.
func ClassNames(mask uint32) []string {
	var names []string
	for _, c := range []struct {
		bit  uint32
		name string
	}{
		{ClassFixed, "fixed"},
		{ClassConfigurable, "configurable"},
		{ClassPower, "power"},
		{ClassRawPMU, "rawpmu"},
	} {
		if mask&c.bit != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

// Add-event flags for kpep_config_add_event.
const (
	CountAll      uint32 = 0 // kernel and user space
	CountUserOnly uint32 = 1
)

// Kperf holds the kperf.framework entry points. Every function returns 0 on
// success unless documented otherwise.
type Kperf struct {
	// CPUString writes a NUL-terminated CPU description into buf.
	CPUString func(buf *byte, bufSize uintptr) int32
	// PMUVersion returns the PMU version, 0 if unavailable.
	PMUVersion func() uint32
	// SetCounting enables counting for classes; 0 disables it.
	SetCounting func(classes uint32) int32
	// SetThreadCounting enables counting for the current thread.
	SetThreadCounting func(classes uint32) int32
	// SetConfig programs the config registers. config must hold at least
	// GetConfigCount(classes) values.
	SetConfig func(classes uint32, config *uint64) int32
	// GetCounterCount returns the number of counters for classes.
	GetCounterCount func(classes uint32) uint32
	// GetConfigCount returns the number of config registers for classes.
	GetConfigCount func(classes uint32) uint32
	// GetThreadCounters reads the current thread's accumulations. tid
	// should be 0, bufCount is in elements.
	GetThreadCounters func(tid uint32, bufCount uint32, buf *uint64) int32
	// ForceAllCtrsSet acquires (1) or releases (0) the counters used by the
	// power manager.
	ForceAllCtrsSet func(val int32) int32
	// ForceAllCtrsGet reads the force state. It fails without root.
	ForceAllCtrsGet func(valOut *int32) int32
}

// Kperfdata holds the kperfdata.framework entry points. Handles are opaque
// pointers carried as uintptr; functions return a KpepError code.
type Kperfdata struct {
	ConfigCreate        func(db uintptr, cfgOut *uintptr) int32
	ConfigFree          func(cfg uintptr)
	ConfigAddEvent      func(cfg uintptr, ev *uintptr, flag uint32, errOut *uint32) int32
	ConfigForceCounters func(cfg uintptr) int32
	ConfigEventsCount   func(cfg uintptr, countOut *uintptr) int32
	ConfigKPC           func(cfg uintptr, buf *uint64, bufSize uintptr) int32
	ConfigKPCCount      func(cfg uintptr, countOut *uintptr) int32
	ConfigKPCClasses    func(cfg uintptr, classesOut *uint32) int32
	ConfigKPCMap        func(cfg uintptr, buf *uintptr, bufSize uintptr) int32

	// DBCreate opens the database for name, or the running CPU when name
	// is nil.
	DBCreate      func(name *byte, dbOut *uintptr) int32
	DBFree        func(db uintptr)
	DBName        func(db uintptr, nameOut **byte) int32
	DBEventsCount func(db uintptr, countOut *uintptr) int32
	DBEvents      func(db uintptr, buf *uintptr, bufSize uintptr) int32
	DBEvent       func(db uintptr, name string, evOut *uintptr) int32

	EventName        func(ev uintptr, nameOut **byte) int32
	EventAlias       func(ev uintptr, aliasOut **byte) int32
	EventDescription func(ev uintptr, descOut **byte) int32
}

// Table is a fully resolved set of entry points. A Table returned by a
// Resolver never has nil functions.
type Table struct {
	Kperf     Kperf
	Kperfdata Kperfdata
}

// symbol pairs an exported name with the function field it binds into.
type symbol struct {
	name string
	fn   any
}

func (t *Table) kperfSymbols() []symbol {
	k := &t.Kperf
	return []symbol{
		{"kpc_cpu_string", &k.CPUString},
		{"kpc_pmu_version", &k.PMUVersion},
		{"kpc_set_counting", &k.SetCounting},
		{"kpc_set_thread_counting", &k.SetThreadCounting},
		{"kpc_set_config", &k.SetConfig},
		{"kpc_get_counter_count", &k.GetCounterCount},
		{"kpc_get_config_count", &k.GetConfigCount},
		{"kpc_get_thread_counters", &k.GetThreadCounters},
		{"kpc_force_all_ctrs_set", &k.ForceAllCtrsSet},
		{"kpc_force_all_ctrs_get", &k.ForceAllCtrsGet},
	}
}

func (t *Table) kperfdataSymbols() []symbol {
	d := &t.Kperfdata
	return []symbol{
		{"kpep_config_create", &d.ConfigCreate},
		{"kpep_config_free", &d.ConfigFree},
		{"kpep_config_add_event", &d.ConfigAddEvent},
		{"kpep_config_force_counters", &d.ConfigForceCounters},
		{"kpep_config_events_count", &d.ConfigEventsCount},
		{"kpep_config_kpc", &d.ConfigKPC},
		{"kpep_config_kpc_count", &d.ConfigKPCCount},
		{"kpep_config_kpc_classes", &d.ConfigKPCClasses},
		{"kpep_config_kpc_map", &d.ConfigKPCMap},
		{"kpep_db_create", &d.DBCreate},
		{"kpep_db_free", &d.DBFree},
		{"kpep_db_name", &d.DBName},
		{"kpep_db_events_count", &d.DBEventsCount},
		{"kpep_db_events", &d.DBEvents},
		{"kpep_db_event", &d.DBEvent},
		{"kpep_event_name", &d.EventName},
		{"kpep_event_alias", &d.EventAlias},
		{"kpep_event_description", &d.EventDescription},
	}
}

// KperfSymbols lists the symbol names required from kperf.framework.
func KperfSymbols() []string {
	return symbolNames(new(Table).kperfSymbols())
}

// KperfdataSymbols lists the symbol names required from kperfdata.framework.
func KperfdataSymbols() []string {
	return symbolNames(new(Table).kperfdataSymbols())
}

func symbolNames(syms []symbol) []string {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.name
	}
	return names
}
