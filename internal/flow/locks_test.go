package flow

import (
	"sync"
	"testing"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alice")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder at a time, saw %d", maxSeen)
	}
	if n := locks.held(); n != 0 {
		t.Errorf("expected lock entries to be released, %d remain", n)
	}
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	locks := newUserLocks()
	unlockA := locks.Lock("alice")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("bob")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
