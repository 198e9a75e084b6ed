package kpc

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/kpcbench/internal/capability"
	"github.com/wesleyorama2/kpcbench/internal/catalog"
	"github.com/wesleyorama2/kpcbench/internal/session"
)

// Host describes the machine as seen by the operating system.
type Host struct {
	OS           string `json:"os" yaml:"os"`
	Arch         string `json:"arch" yaml:"arch"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Vendor       string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	LogicalCores int    `json:"logicalCores,omitempty" yaml:"logicalCores,omitempty"`
}

// Counters reports how many counters each class provides.
type Counters struct {
	Fixed        uint32 `json:"fixed" yaml:"fixed"`
	Configurable uint32 `json:"configurable" yaml:"configurable"`
}

// Platform is a readiness report for counter measurements.
type Platform struct {
	Host Host `json:"host" yaml:"host"`

	// Resolved is set when both capability modules loaded.
	Resolved   bool     `json:"resolved" yaml:"resolved"`
	CPU        string   `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	PMUVersion uint32   `json:"pmuVersion,omitempty" yaml:"pmuVersion,omitempty"`
	Database   string   `json:"database,omitempty" yaml:"database,omitempty"`
	Counters   Counters `json:"counters" yaml:"counters"`

	// Permitted is set when this process may use the counters.
	Permitted bool `json:"permitted" yaml:"permitted"`
	// Busy is set when another client holds the forced counters.
	Busy bool `json:"busy" yaml:"busy"`

	// Problems lists every check that failed, in check order.
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Ready reports whether a measurement can be started.
func (p *Platform) Ready() bool {
	return p.Resolved && p.Permitted && !p.Busy && len(p.Problems) == 0
}

// Platform probes the host and the counter facility. The returned error is
// the first blocking failure (resolution, permission or busy counters); the
// report is filled in as far as the probe got either way.
func (m *Measurer) Platform() (*Platform, error) {
	p := &Platform{Host: hostInfo(m.logger)}

	table, err := m.resolver.Resolve()
	if err != nil {
		p.Problems = append(p.Problems, err.Error())
		return p, err
	}
	p.Resolved = true
	p.CPU = cpuString(&table.Kperf)
	p.PMUVersion = table.Kperf.PMUVersion()
	p.Counters = Counters{
		Fixed:        table.Kperf.GetCounterCount(capability.ClassFixed),
		Configurable: table.Kperf.GetCounterCount(capability.ClassConfigurable),
	}

	if cat, err := catalog.Open(&table.Kperfdata, m.model); err != nil {
		p.Problems = append(p.Problems, err.Error())
	} else {
		p.Database = cat.Name()
		_ = cat.Close()
	}

	forced, err := session.CountersForced(&table.Kperf)
	if err != nil {
		p.Problems = append(p.Problems, err.Error())
		return p, err
	}
	p.Permitted = true
	p.Busy = forced
	if forced {
		p.Problems = append(p.Problems, "performance counters are reserved by another client")
	}
	return p, nil
}

func cpuString(k *capability.Kperf) string {
	buf := make([]byte, 128)
	if ret := k.CPUString(&buf[0], uintptr(len(buf))); ret != 0 {
		return ""
	}
	return unix.ByteSliceToString(buf)
}

func hostInfo(logger *zap.Logger) Host {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH}

	infos, err := cpu.Info()
	if err != nil {
		logger.Debug("host cpu info unavailable", zap.Error(err))
	} else if len(infos) > 0 {
		h.Model = infos[0].ModelName
		h.Vendor = infos[0].VendorID
	}

	if n, err := cpu.Counts(true); err == nil {
		h.LogicalCores = n
	}
	return h
}
