// Package safego wraps goroutine launches for fire-and-forget background
// work. A panic in a bare goroutine kills the whole process; for work nobody
// waits on, a logged stack trace and a live server is the better trade.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine and turns a panic into an error log carrying
// the goroutine's stack. Not for work whose result or panic the caller needs;
// it exists for background work whose failure must never take the server down.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background goroutine panicked",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
