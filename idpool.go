package splitz

import (
	"sync"
	"sync/atomic"
)

// IDPool keeps a buffer of pre-generated IDs filled by a background
// goroutine, so that opening the spans of a split does not wait on ID
// generation. When the buffer runs dry Get generates inline and counts a
// miss.
type IDPool struct {
	generate func() string
	ready    chan string
	quit     chan struct{}
	stopped  chan struct{}
	stop     sync.Once
	misses   atomic.Int64
}

// NewIDPool starts a pool buffering up to capacity IDs made by generate.
func NewIDPool(capacity int, generate func() string) *IDPool {
	p := &IDPool{
		generate: generate,
		ready:    make(chan string, capacity),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.fill()
	return p
}

// Get returns a buffered ID if one is ready and generates one otherwise.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ready:
		return id
	default:
	}
	p.misses.Add(1)
	return p.generate()
}

// Len returns the number of buffered IDs.
func (p *IDPool) Len() int {
	return len(p.ready)
}

// Misses returns how many IDs were generated inline because the buffer was
// empty.
func (p *IDPool) Misses() int64 {
	return p.misses.Load()
}

func (p *IDPool) fill() {
	defer close(p.stopped)
	for id := p.generate(); ; id = p.generate() {
		select {
		case p.ready <- id:
		case <-p.quit:
			return
		}
	}
}

// Close stops the background fill and waits for it. Get keeps working after
// Close. Safe to call multiple times.
func (p *IDPool) Close() {
	p.stop.Do(func() { close(p.quit) })
	<-p.stopped
}
