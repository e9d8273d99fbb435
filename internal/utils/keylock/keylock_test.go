package keylock

import (
	"sync"
	"testing"
)

func TestMapSerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := New()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(-100, 42)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if n := locks.Len(); n != 0 {
		t.Fatalf("expected released locks to be removed, %d left", n)
	}
}

func TestMapDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locks := New()
	unlockA := locks.Lock(-100, 1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(-100, 2)
		unlock()
		close(done)
	}()
	<-done
}
