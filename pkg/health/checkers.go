package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCPauseCheck fails when a garbage collection that finished since the
// previous run paused the world for longer than threshold. Older pauses are
// not reported again.
func GCPauseCheck(threshold time.Duration) CheckFunc {
	var (
		mu     sync.Mutex
		seenGC int64
	)
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		mu.Lock()
		fresh := stats.NumGC - seenGC
		seenGC = stats.NumGC
		mu.Unlock()

		// stats.Pause is most recent first.
		for i, pause := range stats.Pause {
			if int64(i) >= fresh {
				break
			}
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}
