package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresAfterIntervalNotImmediately(t *testing.T) {
	var n int32
	tm := Start(20*time.Millisecond, func() {
		atomic.AddInt32(&n, 1)
	})
	defer tm.Stop()

	time.Sleep(5 * time.Millisecond)
	if atomic.LoadInt32(&n) != 0 {
		t.Fatal("timer fired before the first interval elapsed")
	}

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&n) < 1 {
		t.Fatal("timer did not fire within two intervals")
	}
}

func TestTimerStopIsClean(t *testing.T) {
	tm := Start(10*time.Millisecond, func() {})
	tm.Stop()
	select {
	case <-tm.done:
	default:
		t.Fatal("expected done channel to be closed after Stop")
	}
}
