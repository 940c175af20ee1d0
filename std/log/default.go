package log

import "os"

var defaultLogger = NewText(os.Stderr)

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}
