//go:build !windows

package wasapi

import (
	"fmt"

	"github.com/Naseband/ProcessLoopbackCapture/pkg/capture"
)

// Activate is only functional on Windows; process loopback is a WASAPI
// feature. On other platforms it fails immediately.
func Activate(pid uint32, inclusive bool) (capture.Endpoint, error) {
	return nil, fmt.Errorf("process loopback capture requires Windows: %w", capture.ErrNotAvailable)
}
