package core

import (
	"sync"
)

// Hub broadcasts Events to all subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]bool
	register    chan *Subscription
	unregister  chan *Subscription
	broadcast   chan *Event
	done        chan struct{}
	once        sync.Once
}

// Subscription receives Event updates.
type Subscription struct {
	send chan *Event
	hub  *Hub
}

// NewHub creates a new broadcast hub.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[*Subscription]bool),
		register:    make(chan *Subscription, 16),
		unregister:  make(chan *Subscription, 16),
		broadcast:   make(chan *Event, 64),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			h.mu.Unlock()
		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.send <- ev:
				default:
					// Drop if subscriber is slow; per-subscriber
					// delivery stays FIFO.
				}
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for sub := range h.subscribers {
				close(sub.send)
			}
			h.subscribers = make(map[*Subscription]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Subscribe creates a new subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		send: make(chan *Event, 32),
		hub:  h,
	}
	h.register <- sub
	return sub
}

// Broadcast sends an event to all subscribers.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Close shuts down the hub.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

// C returns the channel for receiving events.
func (s *Subscription) C() <-chan *Event {
	return s.send
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}
