package download

import "sync"

// broadcaster fans statuses out to subscribers. Each subscriber has a bounded
// buffer; when it is full the oldest pending status is dropped.
type broadcaster struct {
	mu     sync.Mutex
	size   int
	subs   map[chan Status]struct{}
	closed bool
}

func newBroadcaster(size int) *broadcaster {
	if size <= 0 {
		size = 1
	}
	return &broadcaster{size: size, subs: make(map[chan Status]struct{})}
}

func (b *broadcaster) subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Status, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the oldest pending status
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
