//go:build debug

package debug

import (
	"fmt"
	"os"
	"strings"
)

const Debug = true

// Print writes a diagnostic line to stderr. Only compiled in with the debug
// tag; release builds get the empty variant.
func Print(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, "DEBUG: "+format, args...)
}
