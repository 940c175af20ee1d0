package toolutils

import (
	"fmt"
	"io"
	"strings"
)

// StatusPrinter writes right-aligned key=value lines.
type StatusPrinter struct {
	File    io.Writer
	Padding int
}

// Print writes one key=value line, left-padding the key to Padding columns.
func (s StatusPrinter) Print(key string, value any) {
	pad := max(s.Padding-len(key), 0)
	fmt.Fprintf(s.File, "%s%s=%v\n", strings.Repeat(" ", pad), key, value)
}
