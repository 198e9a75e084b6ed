//go:build !darwin

package capability

import (
	"fmt"
	"runtime"
)

func openSystem(path string) (Library, error) {
	return nil, fmt.Errorf("kperf frameworks are only available on darwin, not %s", runtime.GOOS)
}
