// Package workload provides the built-in code paths the CLI can measure.
package workload

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
)

// Defaults used when a profile names no workload.
const (
	DefaultName       = "random-branches"
	DefaultIterations = 100000
)

// Workload is a named, parameterised piece of work.
type Workload struct {
	Name        string
	Description string
	build       func(iterations int) func()
}

// Func returns the work to measure. Everything that does not need to be
// measured, such as seeding, happens here rather than in the returned func.
func (w Workload) Func(iterations int) func() {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return w.build(iterations)
}

// Sink keeps workload results observable so the compiler cannot drop the
// loops.
var Sink uint64

var registry = map[string]Workload{
	"random-branches": {
		Name:        "random-branches",
		Description: "loop over random numbers taking a data-dependent branch",
		build:       randomBranches,
	},
	"empty": {
		Name:        "empty",
		Description: "do nothing; measures the harness overhead",
		build: func(int) func() {
			return func() {}
		},
	},
	"spin": {
		Name:        "spin",
		Description: "predictable integer arithmetic loop",
		build:       spin,
	},
}

func randomBranches(iterations int) func() {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return func() {
		var sum uint64
		for i := 0; i < iterations; i++ {
			r := rng.Uint32()
			if r%3 != 0 {
				sum += uint64(r)
			} else {
				sum ^= uint64(r) << 1
			}
		}
		Sink = sum
	}
}

func spin(iterations int) func() {
	return func() {
		var acc uint64 = 1
		for i := 0; i < iterations; i++ {
			acc = acc*6364136223846793005 + 1442695040888963407
		}
		Sink = acc
	}
}

// Names returns the registered workload names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a workload by name. The empty name selects the default.
func Lookup(name string) (Workload, error) {
	if name == "" {
		name = DefaultName
	}
	w, ok := registry[name]
	if !ok {
		return Workload{}, fmt.Errorf("unknown workload %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return w, nil
}
