package raycast

import (
	"io"
	"log"
)

var traceLogger *log.Logger

// SetTraceWriter sets the per-query telemetry stream. Misses are not logged;
// a miss is an ordinary outcome. Pass nil to disable.
func SetTraceWriter(w io.Writer) {
	if w == nil {
		traceLogger = nil
		return
	}
	traceLogger = log.New(w, "[raycast] ", log.LstdFlags|log.Lmicroseconds)
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
