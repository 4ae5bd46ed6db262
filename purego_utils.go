//go:build linux && !nodevices

// Shared helpers for purego-based native bindings.

package capture

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ebitengine/purego"
)

// dlopenFirst loads the first library in names that can be opened.
func dlopenFirst(names ...string) (uintptr, error) {
	var errs []string
	for _, name := range names {
		h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return h, nil
		}
		errs = append(errs, err.Error())
	}
	return 0, fmt.Errorf("dlopen %s: %s", strings.Join(names, ", "), strings.Join(errs, "; "))
}

// goStringFromBytes converts a fixed-size, NUL-terminated C char array.
func goStringFromBytes(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
