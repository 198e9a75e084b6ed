// Package capability resolves the private kperf and kperfdata frameworks at
// runtime and exposes their entry points as typed Go functions.
//
// The frameworks ship with macOS but have no public headers or stable ABI, so
// nothing is linked statically. A Resolver opens both modules, binds every
// required symbol into a Table and either returns the complete table or
// fails as a whole:
//
//	r := capability.NewResolver()
//	table, err := r.Resolve()
//	if err != nil {
//		// kpcerrors.KindResolution: module or symbol missing
//	}
//	defer r.Close()
//
// Most callers use the process-wide resolver returned by Default.
package capability
