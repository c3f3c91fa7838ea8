package core

import (
	"context"
	"fmt"

	"pkt.systems/contractpad/internal/logx"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// Notification texts of the validation flow.
const (
	msgChecking   = "Checking contract for errors..."
	msgSubmitting = "Attempting to submit contract..."
	msgSubmitted  = "Contract successfully submitted!"
	msgNoErrors   = "Contract has 0 Errors!"
)

// RequestValidation checks the active document with the remote service.
func (m *Manager) RequestValidation(ctx context.Context) (schema.SessionSnapshot, error) {
	return m.runValidation(ctx, opValidate, msgChecking)
}

// RequestSubmission submits the active document to the remote service. The
// service validates first and only accepts clean documents.
func (m *Manager) RequestSubmission(ctx context.Context) (schema.SessionSnapshot, error) {
	return m.runValidation(ctx, opSubmit, msgSubmitting)
}

func (m *Manager) runValidation(ctx context.Context, op string, startMessage string) (schema.SessionSnapshot, error) {
	m.mu.Lock()
	ref := m.active
	t := m.tabs[ref]
	if t == nil {
		m.mu.Unlock()
		return m.fail(op, schema.ErrNoActiveDocument)
	}
	model := t.model
	text, err := m.surface.ReadCurrentText()
	if err != nil {
		m.mu.Unlock()
		return m.fail(op, fmt.Errorf("read current text: %w", err))
	}
	m.validationSeq++
	seq := m.validationSeq
	m.mu.Unlock()

	log := logx.WithModel(m.docLog(ref), model).With("op", op)
	m.notify(schema.SeverityInfo, startMessage)
	if m.remote == nil {
		return m.applyValidation(log, op, ref, model, seq, schema.ValidationResult{}, schema.ErrRemoteUnavailable)
	}
	log.Debug("session validation start", "bytes", len(text))
	result, err := m.remote.ValidateAndSubmit(ctx, ref.Name, text)
	return m.applyValidation(log, op, ref, model, seq, result, err)
}

func (m *Manager) applyValidation(log pslog.Logger, op string, ref schema.TabRef, model schema.ModelID, seq uint64, result schema.ValidationResult, callErr error) (schema.SessionSnapshot, error) {
	m.mu.Lock()
	t := m.tabs[ref]
	if seq != m.validationSeq || m.active != ref || t == nil || t.model != model {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		log.Debug("session validation dropped", "reason", "stale")
		return snapshot, nil
	}
	var severity schema.Severity
	var message string
	switch {
	case callErr != nil:
		m.diagnostics = schema.Diagnostics{
			State:      schema.DiagnosticsFailure,
			Violations: []schema.Violation{{Message: callErr.Error(), Synthetic: true}},
		}
		severity, message = schema.SeverityError, userMessage(callErr)
	case len(result.Violations) > 0:
		m.diagnostics = schema.Diagnostics{
			State:      schema.DiagnosticsViolations,
			Violations: append([]schema.Violation(nil), result.Violations...),
		}
		severity, message = schema.SeverityError, fmt.Sprintf("%d Error(s) Found!", len(result.Violations))
	default:
		m.diagnostics = schema.Diagnostics{State: schema.DiagnosticsOK}
		severity, message = schema.SeveritySuccess, msgNoErrors
		if result.Accepted {
			message = msgSubmitted
		}
	}
	event := m.eventLocked(schema.SessionEventDiagnostics, ref)
	m.mu.Unlock()

	m.notify(severity, message)
	m.emitEvent(event)
	m.observe(op, callErr)
	if callErr != nil {
		log.Warn("session validation failed", "err", callErr)
		return schema.SessionSnapshot{}, callErr
	}
	log.Info("session validation done", "state", event.Snapshot.Diagnostics.State, "violations", len(result.Violations), "accepted", result.Accepted)
	return event.Snapshot, nil
}
