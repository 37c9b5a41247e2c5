// Package stream delivers venue order updates over a live connection and
// fans them out to multiple consumers.
package stream

import (
	"sync"
	"time"

	"alpaca-broker/internal/models"
)

// HubConfig holds configuration for the update hub.
type HubConfig struct {
	// BufferSize is the size of the internal update channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           256,
		SubscriberBufferSize: 64,
	}
}

// Hub distributes order updates from a single source to multiple
// subscribers via channels. Sends to subscribers never block; a slow
// consumer drops updates rather than stalling the rest.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers []*Subscriber
	updateChan  chan models.OrderUpdate
	done        chan struct{}
	started     bool

	// Metrics
	metricsMu        sync.RWMutex
	updatesReceived  uint64
	updatesBroadcast uint64
	updatesDropped   uint64
}

// Subscriber represents one update consumer.
type Subscriber struct {
	Channel      chan models.OrderUpdate
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	return &Hub{
		config:     config,
		updateChan: make(chan models.OrderUpdate, config.BufferSize),
		done:       make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop()
}

func (h *Hub) broadcastLoop() {
	for {
		select {
		case <-h.done:
			return
		case update := <-h.updateChan:
			h.metricsMu.Lock()
			h.updatesReceived++
			h.metricsMu.Unlock()

			h.broadcast(update)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for _, sub := range h.subscribers {
		close(sub.Channel)
	}
	h.subscribers = nil
}

// Subscribe adds a subscriber and returns its channel. Every subscriber
// receives every update.
func (h *Hub) Subscribe() <-chan models.OrderUpdate {
	ch := make(chan models.OrderUpdate, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (h *Hub) Unsubscribe(ch <-chan models.OrderUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}
}

// Publish sends an update to the hub for distribution. Non-blocking: if
// the internal buffer is full the update is dropped.
func (h *Hub) Publish(update models.OrderUpdate) {
	select {
	case h.updateChan <- update:
	default:
		h.metricsMu.Lock()
		h.updatesDropped++
		h.metricsMu.Unlock()
	}
}

// broadcast delivers one update to every subscriber. The read lock is
// held across the sends so Unsubscribe cannot close a channel mid-send;
// sends are non-blocking, so the lock is never held long.
func (h *Hub) broadcast(update models.OrderUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.Channel <- update:
			h.metricsMu.Lock()
			h.updatesBroadcast++
			h.metricsMu.Unlock()
		default:
			// Skip slow consumers
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.updatesDropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	subscribers := h.SubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		UpdatesReceived:  h.updatesReceived,
		UpdatesBroadcast: h.updatesBroadcast,
		UpdatesDropped:   h.updatesDropped,
		Subscribers:      subscribers,
	}
}

// HubMetrics contains hub performance counters.
type HubMetrics struct {
	UpdatesReceived  uint64
	UpdatesBroadcast uint64
	UpdatesDropped   uint64
	Subscribers      int
}
