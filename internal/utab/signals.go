package utab

import (
	"os"
	"os/signal"
	"sync"
)

// blockSignalsExcept defers delivery of every catchable signal except alarm
// and trap for the duration of the utab critical section (spec §5: "signals
// other than the configured alarm/trap are blocked so an interrupt cannot
// leave the file half-written"). Go has no direct sigprocmask equivalent
// without cgo; signal.Notify with a draining goroutine holds each signal,
// and restore re-sends the held signals to the process after signal.Stop,
// so their default action is deferred until then.
func blockSignalsExcept(alarm, trap os.Signal) func() {
	ch := make(chan os.Signal, 64)
	signal.Notify(ch)
	if alarm != nil {
		signal.Reset(alarm)
	}
	if trap != nil {
		signal.Reset(trap)
	}

	var mu sync.Mutex
	var held []os.Signal
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				mu.Lock()
				held = append(held, s)
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		signal.Stop(ch)
		mu.Lock()
		defer mu.Unlock()
		if self, err := os.FindProcess(os.Getpid()); err == nil {
			for _, s := range held {
				self.Signal(s)
			}
		}
	}
}
