package syncutil

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShardedMutex_BasicLockUnlock(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock("key1")
	unlock()

	// Relockable after unlock.
	unlock = m.Lock("key1")
	unlock()
}

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var m ShardedMutex

	var counter int64
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("counter")
			defer unlock()
			// Non-atomic increment — if mutual exclusion is broken, this will be visible.
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&counter) != n {
		t.Fatalf("expected %d, got %d — mutual exclusion violated", n, atomic.LoadInt64(&counter))
	}
}

func TestShardedMutex_SameKeySameShard(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock("relay")

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("relay")
		close(acquired)
		u()
	}()

	// Second goroutine should be blocked.
	select {
	case <-acquired:
		t.Fatal("second goroutine acquired lock before first released")
	case <-time.After(20 * time.Millisecond):
		// Expected.
	}

	unlock()

	select {
	case <-acquired:
		// Expected — second goroutine acquired after unlock.
	case <-time.After(time.Second):
		t.Fatal("second goroutine did not acquire lock after first released")
	}
}

func TestShardedMutex_DifferentKeysNoContention(t *testing.T) {
	var m ShardedMutex

	// Two keys that (hopefully) hash to different shards should not block each other.
	// This is a probabilistic test — we use very different keys.
	unlock1 := m.Lock("alpha-key-one")
	defer unlock1()

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("beta-key-two")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		// Expected: different shard, no contention.
	case <-time.After(100 * time.Millisecond):
		t.Skip("keys hashed to same shard, skipping contention-free test")
	}
}
