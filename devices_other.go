//go:build !linux || nodevices

package capture

// IsV4L2Available returns true if V4L2 devices can be queried.
func IsV4L2Available() bool { return false }
