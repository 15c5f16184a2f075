package scenario

import (
	"io"
	"log"
)

var opsLogger *log.Logger

// SetLogWriter routes scenario logging (rejected user actions). Nil
// disables it.
func SetLogWriter(w io.Writer) {
	if w == nil {
		opsLogger = nil
		return
	}
	opsLogger = log.New(w, "[scenario] ", log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...any) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}
