package core

import (
	"context"
	"strings"

	"pkt.systems/contractpad/schema"
)

// ProbeConnection checks the remote service and records the outcome in the
// connection record. A failed probe is reported through notifications and
// the snapshot, not as an error.
func (m *Manager) ProbeConnection(ctx context.Context) (schema.SessionSnapshot, error) {
	log := m.logger.With("op", opProbe)
	if err := m.setStatus(schema.StatusConnecting); err != nil {
		return m.fail(opProbe, err)
	}
	var probeErr error
	if m.remote == nil {
		probeErr = schema.ErrRemoteUnavailable
	} else {
		probeErr = m.remote.Probe(ctx)
	}
	status := schema.StatusOnline
	if probeErr != nil {
		status = schema.StatusOffline
		log.Warn("session probe failed", "err", probeErr)
	}
	if err := m.setStatus(status); err != nil {
		return m.fail(opProbe, err)
	}
	if probeErr != nil {
		m.notifyError(probeErr)
	}
	m.observe(opProbe, nil)
	log.Info("session probe done", "status", status)
	return m.Snapshot(ctx)
}

// setStatus persists and announces a connection status.
func (m *Manager) setStatus(status schema.ConnectionStatus) error {
	m.mu.Lock()
	conn := m.connection
	conn.Status = status
	if err := m.store.SetConnection(conn); err != nil {
		m.mu.Unlock()
		return err
	}
	m.connection = conn
	event := m.eventLocked(schema.SessionEventConnection, schema.TabRef{})
	m.mu.Unlock()
	m.notify(statusSeverity(status), "API Server "+string(status))
	m.emitEvent(event)
	return nil
}

func statusSeverity(status schema.ConnectionStatus) schema.Severity {
	switch status {
	case schema.StatusOnline:
		return schema.SeveritySuccess
	case schema.StatusConnecting:
		return schema.SeverityInfo
	default:
		return schema.SeverityDefault
	}
}

// SetConnection stores new connection settings, repoints the remote client
// and probes the service.
func (m *Manager) SetConnection(ctx context.Context, hostname, port string) (schema.SessionSnapshot, error) {
	hostname = strings.TrimSpace(hostname)
	port = strings.TrimSpace(port)
	if hostname == "" {
		return m.fail(opConnect, schema.ErrInvalidRequest)
	}
	m.mu.Lock()
	conn := schema.ConnectionInfo{Hostname: hostname, Port: port, Status: schema.StatusOffline}
	if err := m.store.SetConnection(conn); err != nil {
		m.mu.Unlock()
		return m.fail(opConnect, err)
	}
	m.connection = conn
	m.mu.Unlock()
	if setter, ok := m.remote.(EndpointSetter); ok {
		setter.SetEndpoint(conn)
	}
	m.logger.Info("session connection set", "hostname", hostname, "port", port)
	m.observe(opConnect, nil)
	return m.ProbeConnection(ctx)
}
