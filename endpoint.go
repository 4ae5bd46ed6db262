package capture

import (
	"fmt"
	"sync/atomic"
)

// endpoint tracks the open/closed lifecycle shared by the capture
// source and the output sink. It moves from open to closed exactly once.
type endpoint struct {
	name   string
	closed atomic.Bool
}

func (e *endpoint) ensureOpen() error {
	if e.closed.Load() {
		return fmt.Errorf("%w: %s", ErrEndpointClosed, e.name)
	}
	return nil
}

// markClosed reports whether this call performed the transition.
func (e *endpoint) markClosed() bool {
	return e.closed.CompareAndSwap(false, true)
}
