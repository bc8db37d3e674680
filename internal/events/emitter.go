package events

import "sync"

// Handler receives every emitted event. Handlers run synchronously on
// the emitting goroutine, so they must not block.
type Handler func(Event)

// Emitter fans supervisor events out to registered handlers and to
// channel subscribers. Channel sends never block: an event is dropped
// for a subscriber whose buffer is full, so a slow consumer cannot stall
// the supervisor loop.
type Emitter struct {
	mu       sync.RWMutex
	handlers []Handler
	subs     map[int]chan Event
	nextSub  int
	closed   bool
}

// NewEmitter creates an empty emitter
func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[int]chan Event),
	}
}

// OnEvent registers a handler for all subsequent events
func (e *Emitter) OnEvent(h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.handlers = append(e.handlers, h)
}

// Subscribe returns a buffered channel of events and a cancel function.
// Cancel is idempotent and closes the channel.
func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Emit delivers an event to every handler and subscriber. Safe to call
// after Close (it becomes a no-op).
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or cancel.
	for _, h := range handlers {
		h(ev)
	}

	// Channel sends stay under the read lock: close needs the write
	// lock, so a subscriber channel cannot be closed mid-send. Sends are
	// non-blocking, so holding the lock here cannot stall.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than block the loop.
		}
	}
}

// Close shuts the emitter down and closes all subscriber channels.
// Idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.handlers = nil
}
