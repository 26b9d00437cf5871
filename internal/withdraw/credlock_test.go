package withdraw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	l := NewKeyedLock()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.Acquire("api-key-1")
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected serialization for one key, saw %d concurrent holders", maxInFlight)
	}
}

func TestKeyedLockAllowsDistinctKeys(t *testing.T) {
	l := NewKeyedLock()

	releaseA := l.Acquire("key-a")
	done := make(chan struct{})
	go func() {
		releaseB := l.Acquire("key-b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct keys blocked each other")
	}
	releaseA()
}
