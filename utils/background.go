package utils

import (
	"sync"
	"time"
)

// GlobalWaitGroup tracks background goroutines spawned through SafeGo so
// shutdown can drain them.
var GlobalWaitGroup sync.WaitGroup

// SafeGo runs fn in a goroutine tracked for graceful shutdown.
func SafeGo(fn func()) {
	GlobalWaitGroup.Add(1)
	go func() {
		defer GlobalWaitGroup.Done()
		fn()
	}()
}

// WaitForBackgroundTasks blocks until all tracked tasks finish or the
// timeout elapses.
func WaitForBackgroundTasks(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		GlobalWaitGroup.Wait()
	}()

	select {
	case <-done:
		Logger.Info("all background tasks drained")
	case <-time.After(timeout):
		Logger.Warn("shutdown timed out waiting for background tasks")
	}
}
