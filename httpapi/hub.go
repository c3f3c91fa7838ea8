package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq          uint64                  `json:"seq"`
	Type         string                  `json:"type"`
	Notification *schema.Notification    `json:"notification,omitempty"`
	SessionEvent schema.SessionEventType `json:"session_event,omitempty"`
	Tab          *schema.TabRef          `json:"tab,omitempty"`
	Snapshot     *schema.SessionSnapshot `json:"snapshot,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

const (
	streamSnapshot     = "snapshot"
	streamNotification = "notification"
	streamSession      = "session"
)

// Hub broadcasts session events to stream subscribers and keeps a bounded
// history for reconnecting clients.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		log:         pslog.Ctx(context.Background()),
	}
}

// OnNotification implements core.EventSink.
func (h *Hub) OnNotification(n schema.Notification) {
	h.log.Trace("hub notification", "severity", n.Severity)
	note := n
	h.publish(StreamEvent{
		Type:         streamNotification,
		Notification: &note,
		Timestamp:    time.Now(),
	})
}

// OnSessionEvent implements core.EventSink.
func (h *Hub) OnSessionEvent(event schema.SessionEvent) {
	h.log.Trace("hub session event", "type", event.Type, "tab", event.Tab.String())
	tab := event.Tab
	snapshot := event.Snapshot
	h.publish(StreamEvent{
		Type:         streamSession,
		SessionEvent: event.Type,
		Tab:          &tab,
		Snapshot:     &snapshot,
		Timestamp:    time.Now(),
	})
}

// Subscribe registers a subscriber. It returns the current seq and a copy of
// the retained history, both taken atomically with the registration.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), h.history...)
	seq := h.seq
	h.log.Info("hub subscribe", "subs", len(h.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns retained events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return eventsAfter(h.history, after)
}

func eventsAfter(history []StreamEvent, after uint64) []StreamEvent {
	events := make([]StreamEvent, 0, len(history))
	for _, event := range history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}
