package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_NeverDeliversStaleValues(t *testing.T) {
	b := newBroker[int]("test", true)

	var (
		mu   sync.Mutex
		seen []int
	)
	done := make(chan struct{})
	unsubscribe := b.Subscribe("k", 0, func(_ string, v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		if v == 1000 {
			close(done)
		}
	})
	defer unsubscribe()

	for i := 1; i <= 1000; i++ {
		b.Publish("k", i)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("final value never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "values arrive strictly in publish order")
	}
	assert.Equal(t, 1000, seen[len(seen)-1])
}

func TestBroker_KeysAreIndependent(t *testing.T) {
	b := newBroker[string]("test", true)

	got := make(chan string, 8)
	unsubscribe := b.Subscribe("a", "a0", func(_ string, v string) { got <- v })
	defer unsubscribe()

	assert.Equal(t, "a0", recv(t, got))
	b.Publish("b", "b1")
	assertQuiet(t, got)
	b.Publish("a", "a1")
	assert.Equal(t, "a1", recv(t, got))
}

func TestBroker_UnsubscribeWaitsForInFlightCallback(t *testing.T) {
	b := newBroker[int]("test", true)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	unsubscribe := b.Subscribe("k", 0, func(_ string, v int) {
		mu.Lock()
		calls++
		mu.Unlock()
		if v == 1 {
			close(started)
			<-release
		}
	})

	b.Publish("k", 1)
	<-started

	returned := make(chan struct{})
	go func() {
		unsubscribe()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("unsubscribe returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe never returned")
	}

	mu.Lock()
	before := calls
	mu.Unlock()

	b.Publish("k", 2)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, calls, "no callback after unsubscribe returns")
	assert.Zero(t, b.subscriberCount())
}

func TestBroker_SubscribeAll(t *testing.T) {
	b := newBroker[int]("test", true)

	type change struct {
		key string
		v   int
	}
	got := make(chan change, 8)
	unsubscribe := b.SubscribeAll(func(k string, v int) { got <- change{k, v} })

	b.Publish("a", 1)
	assert.Equal(t, change{"a", 1}, recv(t, got))
	b.Publish("b", 7)
	assert.Equal(t, change{"b", 7}, recv(t, got))

	unsubscribe()
	unsubscribe()
	b.Publish("a", 2)
	assertQuiet(t, got)
	assert.Zero(t, b.subscriberCount())
}

func TestBroker_WithoutCoalescingDeliversEveryState(t *testing.T) {
	b := newBroker[string]("test", false)

	release := make(chan struct{})
	got := make(chan string, 8)
	unsubscribe := b.Subscribe("u1", "absent", func(_ string, v string) {
		got <- v
		if v == "absent" {
			<-release
		}
	})
	defer unsubscribe()

	assert.Equal(t, "absent", recv(t, got))
	// Queued while the subscriber is still busy with the first delivery.
	b.Publish("u1", "present@rucker")
	b.Publish("u1", "absent")
	b.Publish("u1", "present@west4")
	close(release)

	assert.Equal(t, "present@rucker", recv(t, got))
	assert.Equal(t, "absent", recv(t, got))
	assert.Equal(t, "present@west4", recv(t, got))
	assertQuiet(t, got)
}

func TestBroker_CoalescingKeepsNewestPending(t *testing.T) {
	b := newBroker[int]("test", true)

	release := make(chan struct{})
	got := make(chan int, 8)
	unsubscribe := b.Subscribe("k", 0, func(_ string, v int) {
		got <- v
		if v == 0 {
			<-release
		}
	})
	defer unsubscribe()

	assert.Equal(t, 0, recv(t, got))
	b.Publish("k", 1)
	b.Publish("k", 2)
	b.Publish("k", 3)
	close(release)

	assert.Equal(t, 3, recv(t, got))
	assertQuiet(t, got)
}

func TestBroker_ForgetsKeysWithoutSubscribers(t *testing.T) {
	b := newBroker[int]("test", false)

	b.Publish("u1", 1)
	assert.Zero(t, b.trackedKeys(), "nobody listening")

	got := make(chan int, 8)
	unsubscribe := b.Subscribe("u1", 0, func(_ string, v int) { got <- v })
	assert.Equal(t, 0, recv(t, got))
	b.Publish("u1", 1)
	assert.Equal(t, 1, recv(t, got))
	assert.Equal(t, 1, b.trackedKeys())
	unsubscribe()
	assert.Zero(t, b.trackedKeys())

	// A later subscriber starts from a fresh sequence and still sees updates.
	unsubscribe = b.Subscribe("u1", 5, func(_ string, v int) { got <- v })
	assert.Equal(t, 5, recv(t, got))
	b.Publish("u1", 6)
	assert.Equal(t, 6, recv(t, got))
	unsubscribe()

	unsubscribeAll := b.SubscribeAll(func(_ string, v int) { got <- v })
	b.Publish("u2", 1)
	b.Publish("u3", 1)
	assert.Equal(t, 1, recv(t, got))
	assert.Equal(t, 1, recv(t, got))
	assert.Equal(t, 2, b.trackedKeys())
	unsubscribeAll()
	assert.Zero(t, b.trackedKeys())
}

func TestKeyedMutex_ForgetsIdleKeys(t *testing.T) {
	k := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}
