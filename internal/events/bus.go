// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (processor, agent loop,
// search chain, outbound sender) to subscribers (the ops WebSocket
// handler, the MQTT status publisher). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceProcessor identifies events from the message processor.
	SourceProcessor = "processor"
	// SourceAgent identifies events from the agent loop.
	SourceAgent = "agent"
	// SourceRouter identifies events from the intent router.
	SourceRouter = "router"
	// SourceSearch identifies events from the search provider chain.
	SourceSearch = "search"
	// SourceOutbound identifies events from the outbound sender.
	SourceOutbound = "outbound"
)

// Kind constants describe the type of event within a source.
const (
	// KindMessageReceived signals an accepted inbound message.
	// Data: delivery_id, sender, message_len.
	KindMessageReceived = "message_received"
	// KindMessageDuplicate signals a redelivered message that was
	// dropped by the idempotency guard. Data: delivery_id, sender.
	KindMessageDuplicate = "message_duplicate"
	// KindRouted signals a routing decision.
	// Data: delivery_id, specialist, raw_len.
	KindRouted = "routed"

	// KindLoopStart signals the beginning of an agent loop run.
	// Data: run_id, specialist.
	KindLoopStart = "loop_start"
	// KindToolCall signals the start of a tool execution.
	// Data: run_id, tool, iter.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: run_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindLoopComplete signals the end of an agent loop run.
	// Data: run_id, specialist, iterations, tools_succeeded, exhausted.
	KindLoopComplete = "loop_complete"

	// KindProviderTried signals one provider attempt in the search chain.
	// Data: provider, ok, duration_ms.
	KindProviderTried = "provider_tried"

	// KindReplySent signals an outbound chunk delivery.
	// Data: delivery_id, chunk, chunks, ok.
	KindReplySent = "reply_sent"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
