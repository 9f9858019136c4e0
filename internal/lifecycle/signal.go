package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyInterrupt returns a context cancelled with ErrInterrupted on SIGINT or SIGTERM.
// stop releases the signal handler.
func NotifyInterrupt(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel(ErrInterrupted)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel(nil)
	}
}
