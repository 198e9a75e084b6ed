//go:build darwin

package capability

import (
	"github.com/ebitengine/purego"
)

// dylib is a module opened with dlopen.
type dylib struct {
	path   string
	handle uintptr
}

func openSystem(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &dylib{path: path, handle: handle}, nil
}

func (l *dylib) Bind(name string, fn any) error {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fn, addr)
	return nil
}

func (l *dylib) Close() error {
	return purego.Dlclose(l.handle)
}
