package logx

import (
	"context"

	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	documentKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithDocument annotates the logger with the document namespace and name.
func WithDocument(log pslog.Logger, ns schema.Namespace, name schema.DocumentName) pslog.Logger {
	if ns != "" {
		log = log.With("namespace", ns)
	}
	if name != "" {
		log = log.With("document", name)
	}
	return log
}

// WithModel annotates the logger with a model handle when available.
func WithModel(log pslog.Logger, id schema.ModelID) pslog.Logger {
	if id != "" {
		log = log.With("model", id)
	}
	return log
}

// ForDocument returns the context logger annotated with the document unless
// the context already carries the same document marker.
func ForDocument(ctx context.Context, ref schema.TabRef) pslog.Logger {
	log := pslog.Ctx(ctx)
	if ref.Name == "" {
		return log
	}
	if current, ok := ctx.Value(documentKey).(schema.TabRef); ok && current == ref {
		return log
	}
	return WithDocument(log, ref.Namespace, ref.Name)
}

// ContextWithDocument stores the document marker on the context for log de-duplication.
func ContextWithDocument(ctx context.Context, ref schema.TabRef) context.Context {
	if ctx == nil || ref.Name == "" {
		return ctx
	}
	return context.WithValue(ctx, documentKey, ref)
}

// ContextWithDocumentLogger attaches an annotated logger and the document
// marker to the context.
func ContextWithDocumentLogger(ctx context.Context, log pslog.Logger, ref schema.TabRef) context.Context {
	ctx = pslog.ContextWithLogger(ctx, WithDocument(log, ref.Namespace, ref.Name))
	return ContextWithDocument(ctx, ref)
}
