package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("a")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if l.Len() != 0 {
		t.Fatalf("expected no tracked keys after release, got %d", l.Len())
	}
}

func TestTryLock(t *testing.T) {
	l := New()
	unlock := l.Lock("cycle")

	if _, ok := l.TryLock("cycle"); ok {
		t.Fatalf("try lock should fail while key is held")
	}
	other, ok := l.TryLock("other")
	if !ok {
		t.Fatalf("independent key should be free")
	}
	other()

	unlock()
	again, ok := l.TryLock("cycle")
	if !ok {
		t.Fatalf("try lock should succeed after release")
	}
	again()
}
