package core

import (
	"context"

	"pkt.systems/contractpad/internal/codec"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// Store is the durable store gateway used by the manager.
type Store interface {
	LoadCatalog() (codec.Catalog, error)
	SaveDocument(name schema.DocumentName, text string, ns schema.Namespace) error
	DeleteDocument(name schema.DocumentName, ns schema.Namespace) error
	RenameDocument(oldName, newName schema.DocumentName, text string) error
	Document(name schema.DocumentName, ns schema.Namespace) (string, bool, error)
	IsFirstRun() (bool, error)
	Connection() (schema.ConnectionInfo, error)
	SetConnection(info schema.ConnectionInfo) error
	OpenTabs() ([]schema.TabRef, error)
	SetOpenTabs(refs []schema.TabRef) error
	AddOpenTab(ref schema.TabRef) error
	RemoveOpenTab(ref schema.TabRef) error
}

// RemoteClient talks to the validation and submission service.
type RemoteClient interface {
	Probe(ctx context.Context) error
	FetchDocument(ctx context.Context, name schema.DocumentName) (string, error)
	ValidateAndSubmit(ctx context.Context, name schema.DocumentName, text string) (schema.ValidationResult, error)
}

// EndpointSetter is implemented by remote clients that can be repointed.
type EndpointSetter interface {
	SetEndpoint(info schema.ConnectionInfo)
}

// Surface is the editing widget: text models and one bound view.
type Surface interface {
	CreateModel(text string) schema.ModelID
	BindModel(id schema.ModelID) error
	ReadCurrentText() (string, error)
	SetText(id schema.ModelID, text string) error
	DisposeModel(id schema.ModelID)
}

// Metrics receives counters from the manager.
type Metrics interface {
	ObserveOperation(op string, err error)
	SetOpenDocuments(ns schema.Namespace, count int)
	ObserveNotification(severity schema.Severity)
}

// ManagerDeps captures the manager's collaborators. Store and Surface are
// required.
type ManagerDeps struct {
	Store     Store
	Remote    RemoteClient
	Surface   Surface
	EventSink EventSink
	Metrics   Metrics
	Logger    pslog.Logger
}
