// Package kpc measures hardware performance counter deltas around a piece of
// work on Apple platforms that expose the private kperf and kperfdata
// frameworks.
//
// A typical measurement:
//
//	events := kpc.NewEvents().
//		Push("cycles", "FIXED_CYCLES").
//		Push("instructions", "FIXED_INSTRUCTIONS")
//
//	m := kpc.New()
//	res, err := m.Measure(events.Requests(), func() {
//		work()
//	})
//
// Measurements need root privileges. Errors carry a kind from the errors
// package (ErrPermissionDenied, ErrEventNotFound, ...) that callers can test
// with errors.Is.
package kpc
