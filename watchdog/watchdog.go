// Package watchdog implements host-side interrupt delivery policies: it
// decides when to signal an InterruptHandle, while the trap core guarantees
// what happens once the signal is observed.
package watchdog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wasmkit/trapline/trap"
)

// Watchdog signals interrupt handles on behalf of the host, driven by
// context cancellation or deadlines. Safe for use by multiple goroutines.
type Watchdog struct {
	log *zap.Logger
}

// New returns a Watchdog logging deliveries to log. A nil logger disables
// logging.
func New(log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{log: log}
}

// Guard signals handle once ctx is cancelled or times out. The returned stop
// function releases the watcher goroutine; calling it more than once is safe.
// Stopping after the guarded execution finished is always safe because an
// undeliverable signal is a no-op.
func (w *Watchdog) Guard(ctx context.Context, handle *trap.InterruptHandle) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			handle.Signal()
			w.log.Info("interrupt requested", zap.NamedError("cause", ctx.Err()))
		case <-done:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Deadline signals handle after d elapses. The returned stop function cancels
// the timer if it has not fired yet.
func (w *Watchdog) Deadline(d time.Duration, handle *trap.InterruptHandle) (stop func()) {
	timer := time.AfterFunc(d, func() {
		handle.Signal()
		w.log.Info("interrupt requested", zap.Duration("after", d))
	})
	return func() { timer.Stop() }
}
