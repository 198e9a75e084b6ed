package capability

import (
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/internal/logging"
)

// Well-known locations of the private frameworks.
const (
	KperfPath     = "/System/Library/PrivateFrameworks/kperf.framework/kperf"
	KperfdataPath = "/System/Library/PrivateFrameworks/kperfdata.framework/kperfdata"
)

// Paths locates the two capability modules.
type Paths struct {
	Kperf     string `json:"kperf" yaml:"kperf"`
	Kperfdata string `json:"kperfdata" yaml:"kperfdata"`
}

// DefaultPaths returns the system framework locations.
func DefaultPaths() Paths {
	return Paths{Kperf: KperfPath, Kperfdata: KperfdataPath}
}

// CachePolicy controls what Resolve does after a failed attempt.
type CachePolicy int

const (
	// RetryOnFailure re-attempts loading on every call until one succeeds.
	RetryOnFailure CachePolicy = iota
	// CacheFailure remembers the first failure and returns it from every
	// later call until Close.
	CacheFailure
)

// String returns the policy name.
func (p CachePolicy) String() string {
	switch p {
	case RetryOnFailure:
		return "retry"
	case CacheFailure:
		return "cache-failure"
	default:
		return "unknown"
	}
}

// Library is an opened capability module.
type Library interface {
	// Bind resolves name and stores a callable into fn, a pointer to a
	// func-typed field.
	Bind(name string, fn any) error
	Close() error
}

// Opener opens capability modules by path.
type Opener interface {
	Open(path string) (Library, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Library, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Library, error) {
	return f(path)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPaths overrides the module locations.
func WithPaths(p Paths) Option {
	return func(r *Resolver) {
		if p.Kperf != "" {
			r.paths.Kperf = p.Kperf
		}
		if p.Kperfdata != "" {
			r.paths.Kperfdata = p.Kperfdata
		}
	}
}

// WithCachePolicy sets the failure caching policy.
func WithCachePolicy(p CachePolicy) Option {
	return func(r *Resolver) {
		r.policy = p
	}
}

// WithOpener replaces the platform module loader.
func WithOpener(o Opener) Option {
	return func(r *Resolver) {
		r.opener = o
	}
}

// Resolver loads both capability modules and binds their symbols.
//
// Resolver is safe for concurrent use. A successful table is cached until
// Close; failures are handled according to the CachePolicy.
type Resolver struct {
	mu     sync.Mutex
	opener Opener
	paths  Paths
	policy CachePolicy

	table *Table
	err   error
	libs  []Library
}

// NewResolver creates a resolver for the system frameworks.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		opener: OpenerFunc(openSystem),
		paths:  DefaultPaths(),
		policy: RetryOnFailure,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// Default returns the process-wide resolver. It is created on first use with
// the system paths and the RetryOnFailure policy.
func Default() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver()
	})
	return defaultResolver
}

// Paths returns the module locations used by the resolver.
func (r *Resolver) Paths() Paths {
	return r.paths
}

// Policy returns the failure caching policy.
func (r *Resolver) Policy() CachePolicy {
	return r.policy
}

// Resolve returns the bound capability table, loading it on first use.
// It never returns a partially bound table.
func (r *Resolver) Resolve() (*Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table != nil {
		return r.table, nil
	}
	if r.err != nil && r.policy == CacheFailure {
		return nil, r.err
	}

	table, libs, err := r.load()
	if err != nil {
		r.err = err
		logging.Logger().Debug("capability resolution failed",
			zap.String("policy", r.policy.String()),
			zap.Error(err))
		return nil, err
	}

	r.table, r.libs, r.err = table, libs, nil
	logging.Logger().Debug("capability modules resolved",
		zap.String("kperf", r.paths.Kperf),
		zap.String("kperfdata", r.paths.Kperfdata))
	return table, nil
}

// Close releases the loaded modules and forgets any cached table or error.
// Tables returned earlier must not be used afterwards.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := closeAll(r.libs)
	r.table, r.err, r.libs = nil, nil, nil
	return err
}

type module struct {
	name    string
	path    string
	symbols []symbol
}

func (r *Resolver) load() (*Table, []Library, error) {
	t := &Table{}
	modules := []module{
		{name: "kperf", path: r.paths.Kperf, symbols: t.kperfSymbols()},
		{name: "kperfdata", path: r.paths.Kperfdata, symbols: t.kperfdataSymbols()},
	}

	libs := make([]Library, 0, len(modules))
	fail := func(err error) (*Table, []Library, error) {
		if cerr := closeAll(libs); cerr != nil {
			logging.Logger().Warn("closing partially loaded modules", zap.Error(cerr))
		}
		return nil, nil, err
	}

	for _, m := range modules {
		lib, err := r.opener.Open(m.path)
		if err != nil {
			return fail(kpcerrors.New(kpcerrors.PhaseResolve, kpcerrors.KindResolution).
				Detail("failed to load %s.framework at %s", m.name, m.path).
				Cause(err).
				Build())
		}
		libs = append(libs, lib)
	}

	for i, m := range modules {
		for _, s := range m.symbols {
			if err := libs[i].Bind(s.name, s.fn); err != nil {
				return fail(kpcerrors.New(kpcerrors.PhaseResolve, kpcerrors.KindResolution).
					Detail("failed to load %s function %s", m.name, s.name).
					Cause(err).
					Build())
			}
			if reflect.ValueOf(s.fn).Elem().IsNil() {
				return fail(kpcerrors.New(kpcerrors.PhaseResolve, kpcerrors.KindResolution).
					Detail("%s function %s bound to nil", m.name, s.name).
					Build())
			}
		}
	}

	return t, libs, nil
}

func closeAll(libs []Library) error {
	var err error
	for i := len(libs) - 1; i >= 0; i-- {
		err = multierr.Append(err, libs[i].Close())
	}
	return err
}

// Funcs returns the function bound to each required symbol of t, keyed by
// symbol name. Unbound fields map to nil funcs of the field's type.
func Funcs(t *Table) map[string]any {
	syms := append(t.kperfSymbols(), t.kperfdataSymbols()...)
	out := make(map[string]any, len(syms))
	for _, s := range syms {
		out[s.name] = reflect.ValueOf(s.fn).Elem().Interface()
	}
	return out
}
