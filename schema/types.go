package schema

import "strings"

// Namespace partitions the document catalog.
type Namespace string

const (
	// NamespaceLocal holds user-authored documents that are never fetched remotely.
	NamespaceLocal Namespace = "local"
	// NamespaceRemote holds documents sourced from or destined for the remote service.
	NamespaceRemote Namespace = "database"
)

// Namespaces lists every namespace in display order.
func Namespaces() []Namespace {
	return []Namespace{NamespaceLocal, NamespaceRemote}
}

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	return ns == NamespaceLocal || ns == NamespaceRemote
}

// DocumentName is the user-facing name of a document, unique within a namespace.
type DocumentName string

// ModelID identifies a live model inside the editing surface.
type ModelID string

// DocumentRecord is the persisted unit of a document.
type DocumentRecord struct {
	Name       DocumentName
	Namespace  Namespace
	SourceText string
}

// LiveModel is the manager's handle to one document's editable buffer.
type LiveModel struct {
	ID        ModelID
	Namespace Namespace
	Name      DocumentName
}

// TabRef identifies a document across namespaces.
type TabRef struct {
	Namespace Namespace    `json:"namespace"`
	Name      DocumentName `json:"name"`
}

// String renders the ref as "<namespace>:<name>", the open-tab record format.
func (r TabRef) String() string {
	return string(r.Namespace) + ":" + string(r.Name)
}

// ParseTabRef parses the "<namespace>:<name>" form. Names may contain ':'.
func ParseTabRef(value string) (TabRef, bool) {
	ns, name, ok := strings.Cut(value, ":")
	if !ok {
		return TabRef{}, false
	}
	ref := TabRef{Namespace: Namespace(ns), Name: DocumentName(name)}
	if !ref.Namespace.Valid() || strings.TrimSpace(name) == "" {
		return TabRef{}, false
	}
	return ref, true
}

// ActiveTab points at the document bound to the editing surface.
type ActiveTab struct {
	Name      DocumentName `json:"name"`
	Namespace Namespace    `json:"namespace"`
	ModelID   ModelID      `json:"model_id"`
}

// Empty reports whether no document is active.
func (a ActiveTab) Empty() bool {
	return a.ModelID == ""
}

// Ref returns the document ref of the active tab.
func (a ActiveTab) Ref() TabRef {
	return TabRef{Namespace: a.Namespace, Name: a.Name}
}

// ConnectionStatus reports reachability of the remote service.
type ConnectionStatus string

const (
	// StatusOffline indicates the remote service is unreachable or unchecked.
	StatusOffline ConnectionStatus = "Offline"
	// StatusConnecting indicates a probe is in flight.
	StatusConnecting ConnectionStatus = "Connecting..."
	// StatusOnline indicates the last probe succeeded.
	StatusOnline ConnectionStatus = "Online"
)

// ConnectionInfo is the persisted connection-configuration record.
type ConnectionInfo struct {
	Hostname string           `json:"hostname"`
	Port     string           `json:"port"`
	Status   ConnectionStatus `json:"status"`
}

// DefaultConnection returns the connection record used before any configuration.
func DefaultConnection() ConnectionInfo {
	return ConnectionInfo{Hostname: "http://localhost", Port: "8080", Status: StatusOffline}
}
