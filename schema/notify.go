package schema

import "time"

// Severity controls how a shell renders a notification.
type Severity string

const (
	// SeverityDefault is a neutral notice.
	SeverityDefault Severity = "default"
	// SeverityInfo is an informational notice.
	SeverityInfo Severity = "info"
	// SeveritySuccess reports a successful outcome.
	SeveritySuccess Severity = "success"
	// SeverityError reports a failure.
	SeverityError Severity = "error"
)

// Notification is a transient message for the user.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// SessionEventType describes session changes.
type SessionEventType string

const (
	// SessionEventCreated indicates a new document was created.
	SessionEventCreated SessionEventType = "created"
	// SessionEventOpened indicates a stored or remote document was opened.
	SessionEventOpened SessionEventType = "opened"
	// SessionEventActivated indicates a different document became active.
	SessionEventActivated SessionEventType = "activated"
	// SessionEventClosed indicates a document was closed.
	SessionEventClosed SessionEventType = "closed"
	// SessionEventRenamed indicates the active document was renamed.
	SessionEventRenamed SessionEventType = "renamed"
	// SessionEventDeleted indicates a document was deleted from the store.
	SessionEventDeleted SessionEventType = "deleted"
	// SessionEventEdited indicates document text changed.
	SessionEventEdited SessionEventType = "edited"
	// SessionEventDiagnostics indicates diagnostics changed.
	SessionEventDiagnostics SessionEventType = "diagnostics"
	// SessionEventConnection indicates the connection record changed.
	SessionEventConnection SessionEventType = "connection"
)

// SessionEvent carries one session change with the resulting snapshot.
type SessionEvent struct {
	Type     SessionEventType `json:"type"`
	Tab      TabRef           `json:"tab"`
	Snapshot SessionSnapshot  `json:"snapshot"`
}
