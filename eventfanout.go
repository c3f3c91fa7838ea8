package contractpad

import (
	"pkt.systems/contractpad/core"
	"pkt.systems/contractpad/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnNotification(n schema.Notification) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnNotification(n)
	}
}

func (f eventFanout) OnSessionEvent(event schema.SessionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSessionEvent(event)
	}
}
