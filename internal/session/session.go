// Package session arms the hardware counters for one measurement window,
// snapshots them around the measured work and releases them again.
//
// A Session is bound to the OS thread of the goroutine that armed it: Arm
// locks the goroutine to its thread and Finish unlocks it, so both must be
// called from the same goroutine.
package session

import (
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/counter"
	"github.com/wesleyorama2/kpcbench/internal/logging"
)

// State is the lifecycle position of a Session.
type State int

const (
	Idle State = iota
	Armed
	Running
	Measured
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Measured:
		return "measured"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Snapshot holds raw counter values indexed by hardware slot.
type Snapshot [capability.MaxCounters]uint64

// Delta is the count observed for one request.
type Delta struct {
	Name  string `json:"name" yaml:"name"`
	Key   string `json:"key" yaml:"key"`
	Count uint64 `json:"count" yaml:"count"`
}

// Session is a single measurement window.
type Session struct {
	k    *capability.Kperf
	cfg  *counter.Config
	reqs []counter.Request

	state    State
	counters uint32
	before   Snapshot
}

// New returns an idle session measuring reqs with cfg. cfg.SlotMap must be
// parallel to reqs.
func New(k *capability.Kperf, cfg *counter.Config, reqs []counter.Request) *Session {
	return &Session{k: k, cfg: cfg, reqs: reqs}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// CheckPermission reports whether this process may use the counters. It
// returns an error matching kpcerrors.ErrPermissionDenied when not.
func CheckPermission(k *capability.Kperf) error {
	var forced int32
	if ret := k.ForceAllCtrsGet(&forced); ret != 0 {
		return permissionError(ret)
	}
	return nil
}

// CountersForced reports whether the counters are currently force-reserved.
func CountersForced(k *capability.Kperf) (bool, error) {
	var forced int32
	if ret := k.ForceAllCtrsGet(&forced); ret != 0 {
		return false, permissionError(ret)
	}
	return forced != 0, nil
}

func permissionError(ret int32) error {
	return kpcerrors.New(kpcerrors.PhaseArm, kpcerrors.KindPermissionDenied).
		Code(ret).
		Detail("cannot access performance counters, run as root").
		Build()
}

func hardwareError(phase kpcerrors.Phase, ret int32, call string) error {
	return kpcerrors.New(phase, kpcerrors.KindHardware).
		Code(ret).
		Detail("%s failed", call).
		Build()
}

// Arm reserves and programs the counters and takes the before snapshot,
// which is the last thing Arm does. On failure every step already taken is
// undone and the session stays Idle.
func (s *Session) Arm() (err error) {
	if s.state != Idle {
		return kpcerrors.InvalidState(kpcerrors.PhaseArm, "cannot arm a %s session", s.state)
	}
	if s.k == nil || s.cfg == nil {
		return kpcerrors.Invariant(kpcerrors.PhaseArm, "capability table and counter config are required")
	}
	if len(s.cfg.SlotMap) != len(s.reqs) {
		return kpcerrors.Invariant(kpcerrors.PhaseArm,
			"slot map has %d entries for %d requests", len(s.cfg.SlotMap), len(s.reqs))
	}

	runtime.LockOSThread()
	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		var rerr error
		for i := len(undo) - 1; i >= 0; i-- {
			rerr = multierr.Append(rerr, undo[i]())
		}
		runtime.UnlockOSThread()
		if rerr != nil {
			logging.Logger().Warn("rollback after arm failure", zap.Error(rerr))
			err = multierr.Append(err, rerr)
		}
	}()

	if err := s.validate(); err != nil {
		return err
	}

	forced, err := CountersForced(s.k)
	if err != nil {
		return err
	}
	if forced {
		return kpcerrors.New(kpcerrors.PhaseArm, kpcerrors.KindHardwareBusy).
			Detail("performance counters are reserved by another client").
			Build()
	}

	if ret := s.k.ForceAllCtrsSet(1); ret != 0 {
		switch unix.Errno(ret) {
		case unix.EPERM, unix.EACCES:
			return permissionError(ret)
		default:
			return kpcerrors.New(kpcerrors.PhaseArm, kpcerrors.KindHardwareBusy).
				Code(ret).
				Detail("cannot force all counters").
				Build()
		}
	}
	undo = append(undo, func() error {
		if ret := s.k.ForceAllCtrsSet(0); ret != 0 {
			return hardwareError(kpcerrors.PhaseArm, ret, "kpc_force_all_ctrs_set(0)")
		}
		return nil
	})

	classes := s.cfg.Classes
	if classes&capability.ClassConfigurable != 0 && len(s.cfg.Registers) > 0 {
		if ret := s.k.SetConfig(classes, &s.cfg.Registers[0]); ret != 0 {
			return hardwareError(kpcerrors.PhaseArm, ret, "kpc_set_config")
		}
	}

	if ret := s.k.SetCounting(classes); ret != 0 {
		return hardwareError(kpcerrors.PhaseArm, ret, "kpc_set_counting")
	}
	undo = append(undo, func() error {
		if ret := s.k.SetCounting(0); ret != 0 {
			return hardwareError(kpcerrors.PhaseArm, ret, "kpc_set_counting(0)")
		}
		return nil
	})

	if ret := s.k.SetThreadCounting(classes); ret != 0 {
		return hardwareError(kpcerrors.PhaseArm, ret, "kpc_set_thread_counting")
	}
	undo = append(undo, func() error {
		if ret := s.k.SetThreadCounting(0); ret != 0 {
			return hardwareError(kpcerrors.PhaseArm, ret, "kpc_set_thread_counting(0)")
		}
		return nil
	})

	logging.Logger().Debug("counters armed",
		zap.Strings("classes", capability.ClassNames(classes)),
		zap.Uint32("counters", s.counters))

	if ret := s.k.GetThreadCounters(0, s.counters, &s.before[0]); ret != 0 {
		return hardwareError(kpcerrors.PhaseArm, ret, "kpc_get_thread_counters")
	}
	s.state = Armed
	return nil
}

// validate checks the config against the counts the platform reports.
func (s *Session) validate() error {
	classes := s.cfg.Classes
	counters := s.k.GetCounterCount(classes)
	if counters > capability.MaxCounters {
		return kpcerrors.Invariant(kpcerrors.PhaseArm,
			"platform reports %d counters, more than %d", counters, capability.MaxCounters)
	}
	for i, slot := range s.cfg.SlotMap {
		if slot < 0 || slot >= int(counters) {
			return kpcerrors.New(kpcerrors.PhaseArm, kpcerrors.KindInvariant).
				Event(s.reqs[i].Name).
				Key(s.reqs[i].Key).
				Detail("counter slot %d outside the %d available", slot, counters).
				Build()
		}
	}
	if classes&capability.ClassConfigurable != 0 {
		regs := s.k.GetConfigCount(classes)
		if regs > capability.MaxCounters || int(regs) > len(s.cfg.Registers) {
			return kpcerrors.Invariant(kpcerrors.PhaseArm,
				"platform expects %d config registers, config holds %d", regs, len(s.cfg.Registers))
		}
	}
	s.counters = counters
	return nil
}

// Run executes work inside the armed window. Run is optional: work may also
// run inline between Arm and Finish.
func (s *Session) Run(work func()) error {
	if s.state != Armed {
		return kpcerrors.InvalidState(kpcerrors.PhaseRun, "cannot run work in a %s session", s.state)
	}
	s.state = Running
	defer func() {
		s.state = Measured
	}()
	if work != nil {
		work()
	}
	return nil
}

// Finish takes the after snapshot, releases the counters and returns one
// delta per request, in request order. The counters are released even when
// reading them fails.
func (s *Session) Finish() ([]Delta, error) {
	if s.state != Armed && s.state != Measured {
		return nil, kpcerrors.InvalidState(kpcerrors.PhaseFinish, "cannot finish a %s session", s.state)
	}

	var after Snapshot
	var readErr error
	if ret := s.k.GetThreadCounters(0, s.counters, &after[0]); ret != 0 {
		readErr = hardwareError(kpcerrors.PhaseFinish, ret, "kpc_get_thread_counters")
	}

	releaseErr := s.release()
	s.state = Finished

	if err := multierr.Append(readErr, releaseErr); err != nil {
		logging.Logger().Debug("measurement finished with errors", zap.Error(err))
		return nil, err
	}

	deltas := make([]Delta, len(s.reqs))
	for i, req := range s.reqs {
		slot := s.cfg.SlotMap[i]
		deltas[i] = Delta{
			Name:  req.Name,
			Key:   req.Key,
			Count: after[slot] - s.before[slot],
		}
	}
	return deltas, nil
}

func (s *Session) release() error {
	var err error
	if ret := s.k.SetCounting(0); ret != 0 {
		err = multierr.Append(err, hardwareError(kpcerrors.PhaseFinish, ret, "kpc_set_counting(0)"))
	}
	if ret := s.k.SetThreadCounting(0); ret != 0 {
		err = multierr.Append(err, hardwareError(kpcerrors.PhaseFinish, ret, "kpc_set_thread_counting(0)"))
	}
	if ret := s.k.ForceAllCtrsSet(0); ret != 0 {
		err = multierr.Append(err, hardwareError(kpcerrors.PhaseFinish, ret, "kpc_force_all_ctrs_set(0)"))
	}
	runtime.UnlockOSThread()
	return err
}
