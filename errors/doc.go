// Package errors provides the structured error type shared by the kpcbench
// measurement engine.
//
// Errors carry the Phase in which they occurred (resolve, catalog, build, arm,
// finish) and a Kind describing what went wrong. Callers branch on the kind
// with the standard library:
//
//	if errors.Is(err, kpcerrors.ErrEventNotFound) {
//		// substitute a fallback event
//	}
//
//	var kerr *kpcerrors.Error
//	if errors.As(err, &kerr) && kerr.Kind == kpcerrors.KindConflictingEvents {
//		fmt.Println("conflicting requests:", kerr.Indices)
//	}
//
// Use the Builder for construction:
//
//	err := kpcerrors.New(kpcerrors.PhaseBuild, kpcerrors.KindEventNotFound).
//		Event("branch misses").
//		Key("BRANCH_MISPRED_NONSPEC").
//		Build()
package errors
