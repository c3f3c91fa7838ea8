package core

import "pkt.systems/contractpad/schema"

// EventSink receives notifications and session changes from the manager.
type EventSink interface {
	OnNotification(n schema.Notification)
	OnSessionEvent(event schema.SessionEvent)
}
