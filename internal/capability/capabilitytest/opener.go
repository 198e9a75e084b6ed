package capabilitytest

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/wesleyorama2/kpcbench/internal/capability"
)

// Opener serves capability modules whose symbols are backed by a Table.
// It records how many libraries are open so tests can check for leaks.
type Opener struct {
	mu    sync.Mutex
	funcs map[string]any

	// MissingModules lists paths that fail to open.
	MissingModules map[string]bool
	// MissingSymbols lists symbol names that fail to bind.
	MissingSymbols map[string]bool

	opens  int
	closes int
}

// NewOpener returns an opener serving the functions of t.
func NewOpener(t *capability.Table) *Opener {
	return &Opener{
		funcs:          capability.Funcs(t),
		MissingModules: make(map[string]bool),
		MissingSymbols: make(map[string]bool),
	}
}

// Opener returns an opener serving this PMU's table.
func (p *PMU) Opener() *Opener {
	return NewOpener(p.Table())
}

// Resolver returns a resolver that loads this PMU instead of the system
// frameworks.
func (p *PMU) Resolver(opts ...capability.Option) *capability.Resolver {
	opts = append([]capability.Option{capability.WithOpener(p.Opener())}, opts...)
	return capability.NewResolver(opts...)
}

// Open implements capability.Opener.
func (o *Opener) Open(path string) (capability.Library, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.MissingModules[path] {
		return nil, fmt.Errorf("dlopen %s: image not found", path)
	}
	o.opens++
	return &library{opener: o, path: path}, nil
}

// Opens returns the number of successful Open calls.
func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// OpenLibraries returns the number of libraries opened and not closed.
func (o *Opener) OpenLibraries() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens - o.closes
}

type library struct {
	opener *Opener
	path   string
	closed bool
}

func (l *library) Bind(name string, fn any) error {
	l.opener.mu.Lock()
	defer l.opener.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%s: library closed", l.path)
	}
	if l.opener.MissingSymbols[name] {
		return fmt.Errorf("dlsym %s: symbol not found", name)
	}
	impl, ok := l.opener.funcs[name]
	if !ok {
		return fmt.Errorf("dlsym %s: symbol not found", name)
	}
	dst := reflect.ValueOf(fn).Elem()
	dst.Set(reflect.ValueOf(impl))
	return nil
}

func (l *library) Close() error {
	l.opener.mu.Lock()
	defer l.opener.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.opener.closes++
	return nil
}
