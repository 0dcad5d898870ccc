package presence

import "sync"

// update is one published state for a key. seq grows by one per publish on
// that key.
type update[T any] struct {
	key   string
	seq   uint64
	value T
}

// broker fans state snapshots out to subscribers. Each subscription delivers
// on its own goroutine, one callback at a time, in publish order per key. A
// coalescing broker keeps only the newest pending snapshot per key; otherwise
// every snapshot is queued. A snapshot older than or equal to one already
// delivered is dropped, so a subscriber never moves backwards and duplicate
// publishes are harmless.
//
// seq only tracks keys somebody is listening to; a key nobody watches starts
// again from zero, which is safe because delivered is per subscription.
type broker[T any] struct {
	kind     string
	coalesce bool

	mu     sync.Mutex
	seq    map[string]uint64
	byKey  map[string]map[uint64]*subscription[T]
	all    map[uint64]*subscription[T]
	nextID uint64
}

func newBroker[T any](kind string, coalesce bool) *broker[T] {
	return &broker[T]{
		kind:     kind,
		coalesce: coalesce,
		seq:      make(map[string]uint64),
		byKey:    make(map[string]map[uint64]*subscription[T]),
		all:      make(map[uint64]*subscription[T]),
	}
}

// Publish records a new state for key and offers it to every interested
// subscriber. It never blocks on a slow subscriber.
func (b *broker[T]) Publish(key string, value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.byKey[key]) == 0 && len(b.all) == 0 {
		return
	}
	b.seq[key]++
	u := update[T]{key: key, seq: b.seq[key], value: value}
	for _, s := range b.byKey[key] {
		s.offer(u)
	}
	for _, s := range b.all {
		s.offer(u)
	}
}

// Subscribe registers fn for key and queues current as its first delivery.
func (b *broker[T]) Subscribe(key string, current T, fn func(key string, value T)) (unsubscribe func()) {
	b.mu.Lock()
	s := b.register(fn)
	if b.byKey[key] == nil {
		b.byKey[key] = make(map[uint64]*subscription[T])
	}
	b.byKey[key][s.id] = s
	s.offer(update[T]{key: key, seq: b.seq[key], value: current})
	b.mu.Unlock()

	return b.start(s, func() {
		delete(b.byKey[key], s.id)
		if len(b.byKey[key]) == 0 {
			delete(b.byKey, key)
			if len(b.all) == 0 {
				delete(b.seq, key)
			}
		}
	})
}

// SubscribeAll registers fn for every key. There is no initial delivery.
func (b *broker[T]) SubscribeAll(fn func(key string, value T)) (unsubscribe func()) {
	b.mu.Lock()
	s := b.register(fn)
	b.all[s.id] = s
	b.mu.Unlock()

	return b.start(s, func() {
		delete(b.all, s.id)
		if len(b.all) > 0 {
			return
		}
		for key := range b.seq {
			if len(b.byKey[key]) == 0 {
				delete(b.seq, key)
			}
		}
	})
}

func (b *broker[T]) register(fn func(string, T)) *subscription[T] {
	b.nextID++
	return &subscription[T]{
		id:        b.nextID,
		fn:        fn,
		coalesce:  b.coalesce,
		delivered: make(map[string]uint64),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
}

// start launches the delivery loop and builds the idempotent unsubscribe.
// detach runs with b.mu held.
func (b *broker[T]) start(s *subscription[T], detach func()) func() {
	subscriptionsActive.WithLabelValues(b.kind).Inc()
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			detach()
			b.mu.Unlock()
			s.close()
			subscriptionsActive.WithLabelValues(b.kind).Dec()
		})
	}
}

func (b *broker[T]) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.all)
	for _, subs := range b.byKey {
		n += len(subs)
	}
	return n
}

func (b *broker[T]) trackedKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seq)
}

type subscription[T any] struct {
	id       uint64
	fn       func(string, T)
	coalesce bool

	mu    sync.Mutex
	queue []update[T]

	// deliverMu is held while fn runs; closed and delivered are guarded by it.
	deliverMu sync.Mutex
	closed    bool
	delivered map[string]uint64

	wake chan struct{}
	quit chan struct{}
}

func (s *subscription[T]) offer(u update[T]) {
	s.mu.Lock()
	queued := false
	if s.coalesce {
		for i := range s.queue {
			if s.queue[i].key != u.key {
				continue
			}
			if s.queue[i].seq < u.seq {
				s.queue[i] = u
			}
			queued = true
			break
		}
	}
	if !queued {
		s.queue = append(s.queue, u)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) next() (update[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return update[T]{}, false
	}
	u := s.queue[0]
	var zero update[T]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return u, true
}

func (s *subscription[T]) run() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			u, ok := s.next()
			if !ok {
				break
			}
			s.deliver(u)
		}
	}
}

func (s *subscription[T]) deliver(u update[T]) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed {
		return
	}
	if last, ok := s.delivered[u.key]; ok && u.seq <= last {
		return
	}
	s.delivered[u.key] = u.seq
	s.fn(u.key, u.value)
}

// close waits for an in-flight callback to finish; no callback starts after
// it returns. It must not be called from inside fn.
func (s *subscription[T]) close() {
	s.deliverMu.Lock()
	s.closed = true
	s.deliverMu.Unlock()
	close(s.quit)
}
