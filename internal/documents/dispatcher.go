package documents

import (
	"context"
	"sync"
)

// Dispatcher fans whole-document snapshots out to subscribers of a key.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[Key]map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id     int64
	mu     sync.Mutex
	stream chan Document
}

// offer places document in the subscriber's single-slot buffer. A pending
// document with an equal or higher version stays in place.
func (sub *subscriber) offer(document Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	select {
	case sub.stream <- document:
		return
	default:
	}
	select {
	case pending := <-sub.stream:
		if pending.Version >= document.Version {
			document = pending
		}
	default:
	}
	// Only publishers send, and they hold mu, so the slot is free here.
	select {
	case sub.stream <- document:
	default:
	}
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[Key]map[int64]*subscriber),
	}
}

// Subscribe registers for documents published under key until ctx ends or the
// returned cleanup func runs.
func (d *Dispatcher) Subscribe(ctx context.Context, key Key) (<-chan Document, func()) {
	if key == "" {
		ch := make(chan Document)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Document, 1),
	}
	d.register(key, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(key, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers document to every subscriber of its key without blocking.
// A subscriber that has not consumed its previous snapshot keeps whichever of
// the two has the higher version.
func (d *Dispatcher) Publish(document Document) {
	if document.Key == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[document.Key]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()

	for _, sub := range copies {
		sub.offer(document.Clone())
	}
}

// SubscriberCount reports how many subscribers are registered for key.
func (d *Dispatcher) SubscriberCount(key Key) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[key])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(key Key, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*subscriber)
	}
	d.subscribers[key][sub.id] = sub
}

func (d *Dispatcher) unregister(key Key, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}
