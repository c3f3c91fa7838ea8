package schema

import "encoding/json"

// TabSnapshot is a read-only view of an open document.
type TabSnapshot struct {
	Namespace Namespace    `json:"namespace"`
	Name      DocumentName `json:"name"`
	ModelID   ModelID      `json:"model_id"`
	Active    bool         `json:"active"`
}

// Ref returns the document ref of the tab.
func (t TabSnapshot) Ref() TabRef {
	return TabRef{Namespace: t.Namespace, Name: t.Name}
}

// DiagnosticsState describes what the diagnostics panel shows.
type DiagnosticsState string

const (
	// DiagnosticsEmpty indicates no validation ran yet.
	DiagnosticsEmpty DiagnosticsState = "empty"
	// DiagnosticsOK indicates the last validation found no violations.
	DiagnosticsOK DiagnosticsState = "ok"
	// DiagnosticsViolations indicates the last validation returned findings.
	DiagnosticsViolations DiagnosticsState = "violations"
	// DiagnosticsFailure indicates the last validation could not reach the service.
	DiagnosticsFailure DiagnosticsState = "failure"
)

// Violation is one finding returned by remote validation.
type Violation struct {
	Message string `json:"message"`
	// Synthetic marks entries describing a transport failure rather than a finding.
	Synthetic bool            `json:"synthetic,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Diagnostics is the result of the last validation or submission.
type Diagnostics struct {
	State      DiagnosticsState `json:"state"`
	Violations []Violation      `json:"violations,omitempty"`
}

// ValidationResult is the remote answer to a validate-and-submit call.
type ValidationResult struct {
	Accepted   bool
	Violations []Violation
}

// SessionSnapshot is the read-only projection of session state exposed to shells.
type SessionSnapshot struct {
	Tabs        []TabSnapshot  `json:"tabs"`
	ActiveTab   ActiveTab      `json:"active_tab"`
	Diagnostics Diagnostics    `json:"diagnostics"`
	Connection  ConnectionInfo `json:"connection"`
	FirstRun    bool           `json:"first_run"`
}

// Tab returns the snapshot of the named tab, if open.
func (s SessionSnapshot) Tab(ref TabRef) (TabSnapshot, bool) {
	for _, tab := range s.Tabs {
		if tab.Ref() == ref {
			return tab, true
		}
	}
	return TabSnapshot{}, false
}

// Count returns the number of open tabs in the namespace.
func (s SessionSnapshot) Count(ns Namespace) int {
	count := 0
	for _, tab := range s.Tabs {
		if tab.Namespace == ns {
			count++
		}
	}
	return count
}
