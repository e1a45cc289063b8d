// Package server distributes detected pulses to remote clients and accepts their commands.
package server

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/ftl/tagstrainer/detector"
	"github.com/ftl/tagstrainer/protocol"
	"github.com/ftl/tagstrainer/session"
)

const (
	DefaultQueueSize    = 64
	DefaultRecentPulses = 1000
	broadcastBufferSize = 256
)

// Controller is the part of the session that remote clients may use.
type Controller interface {
	Handle(msg protocol.UpMessage)
	Status() session.Status
}

// Subscription delivers the down messages of the hub to one client. Messages is closed
// when the client unsubscribes, when the hub is closed, or when the client is too slow.
type Subscription struct {
	ID       uuid.UUID
	Messages <-chan protocol.DownMessage

	messages chan protocol.DownMessage
}

// Hub fans out down messages to all subscribed clients and keeps a history of recent pulses.
type Hub struct {
	queueSize    int
	recentLimit  int
	clients      map[uuid.UUID]*Subscription
	recentPulses []detector.Pulse

	broadcast chan protocol.DownMessage
	op        chan func()
	close     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewHub(queueSize int, recentLimit int) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if recentLimit < 0 {
		recentLimit = 0
	}
	result := &Hub{
		queueSize:    queueSize,
		recentLimit:  recentLimit,
		clients:      make(map[uuid.UUID]*Subscription),
		recentPulses: make([]detector.Pulse, 0, recentLimit),
		broadcast:    make(chan protocol.DownMessage, broadcastBufferSize),
		op:           make(chan func()),
		close:        make(chan struct{}),
		closed:       make(chan struct{}),
	}

	go result.run()

	return result
}

func (h *Hub) run() {
	defer close(h.closed)
	for {
		select {
		case <-h.close:
			for id := range h.clients {
				h.remove(id)
			}
			return
		case op := <-h.op:
			op()
		case msg := <-h.broadcast:
			if pulse, ok := msg.(protocol.PulseMessage); ok {
				h.remember(pulse.Pulse)
			}
			for id, client := range h.clients {
				select {
				case client.messages <- msg:
				default:
					log.Printf("client %s is too slow, dropping it", id)
					h.remove(id)
				}
			}
		}
	}
}

func (h *Hub) remember(pulse detector.Pulse) {
	if h.recentLimit == 0 {
		return
	}
	if len(h.recentPulses) == h.recentLimit {
		copy(h.recentPulses, h.recentPulses[1:])
		h.recentPulses = h.recentPulses[:len(h.recentPulses)-1]
	}
	h.recentPulses = append(h.recentPulses, pulse)
}

func (h *Hub) remove(id uuid.UUID) {
	client, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(client.messages)
}

// Close stops the hub and closes all subscriptions. It is safe to call Close concurrently.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.close)
	})
	<-h.closed
}

func (h *Hub) do(f func()) bool {
	select {
	case <-h.closed:
		return false
	case h.op <- f:
		return true
	}
}

// Subscribe registers a new client. The subscription of a closed hub has a closed message channel.
func (h *Hub) Subscribe() *Subscription {
	messages := make(chan protocol.DownMessage, h.queueSize)
	result := &Subscription{
		ID:       uuid.New(),
		Messages: messages,
		messages: messages,
	}
	if !h.do(func() {
		h.clients[result.ID] = result
	}) {
		close(messages)
	}
	return result
}

func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.do(func() {
		h.remove(id)
	})
}

// Broadcast hands the message to the hub without blocking. The message is dropped when the hub is congested.
func (h *Hub) Broadcast(msg protocol.DownMessage) {
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("hub congested, message dropped")
	}
}

// Publish is a session.PulseHandler that broadcasts the pulse to all clients.
func (h *Hub) Publish(pulse detector.Pulse) {
	h.Broadcast(protocol.PulseMessage{Pulse: pulse})
}

// RecentPulses returns a copy of the most recent pulses, oldest first.
func (h *Hub) RecentPulses() []detector.Pulse {
	var result []detector.Pulse
	h.do(func() {
		result = append([]detector.Pulse{}, h.recentPulses...)
	})
	return result
}

func (h *Hub) ClientCount() int {
	var result int
	h.do(func() {
		result = len(h.clients)
	})
	return result
}
