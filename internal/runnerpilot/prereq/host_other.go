//go:build !linux

package prereq

import (
	"errors"
	"runtime"
)

func machine() (string, error) {
	return runtime.GOARCH, nil
}

func totalMemory() (uint64, error) {
	return 0, errors.New("total memory is only probed on linux")
}
