package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/contractpad/internal/logx"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

// Session is the subset of the document session manager the shell drives.
type Session interface {
	Snapshot(ctx context.Context) (schema.SessionSnapshot, error)
	NewDocument(ctx context.Context) (schema.SessionSnapshot, error)
	CreateDocument(ctx context.Context, name string, text string, ns schema.Namespace) (schema.SessionSnapshot, error)
	OpenDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)
	SwitchTo(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)
	CloseDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)
	DeleteDocument(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)
	RenameActiveDocument(ctx context.Context, newName string) (schema.SessionSnapshot, error)
	UpdateActiveText(ctx context.Context, text string) (schema.SessionSnapshot, error)
	RequestValidation(ctx context.Context) (schema.SessionSnapshot, error)
	RequestSubmission(ctx context.Context) (schema.SessionSnapshot, error)
	ProbeConnection(ctx context.Context) (schema.SessionSnapshot, error)
	SetConnection(ctx context.Context, hostname, port string) (schema.SessionSnapshot, error)
}

// Server serves the JSON API, the event stream and metrics.
type Server struct {
	cfg       Config
	session   Session
	hub       *Hub
	metrics   http.Handler
	observer  RequestObserver
	basePath  string
	keepalive time.Duration
	maxBody   int64
}

// Options carries optional collaborators for NewServer.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Observer records per-request metrics when set.
	Observer RequestObserver
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, session Session, hub *Hub, opts Options) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Server{
		cfg:       cfg,
		session:   session,
		hub:       hub,
		metrics:   opts.Metrics,
		observer:  opts.Observer,
		basePath:  normalizeBasePath(cfg.BasePath),
		keepalive: 25 * time.Second,
		maxBody:   maxBody,
	}
}

// Hub returns the event hub backing /api/stream.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/documents", s.handleDocuments)
	mux.HandleFunc("/api/documents/open", s.documentAction("open", s.session.OpenDocument))
	mux.HandleFunc("/api/documents/switch", s.documentAction("switch", s.session.SwitchTo))
	mux.HandleFunc("/api/documents/close", s.documentAction("close", s.session.CloseDocument))
	mux.HandleFunc("/api/documents/delete", s.documentAction("delete", s.session.DeleteDocument))
	mux.HandleFunc("/api/documents/rename", s.handleRename)
	mux.HandleFunc("/api/documents/text", s.handleText)
	mux.HandleFunc("/api/validate", s.sessionAction("validate", s.session.RequestValidation))
	mux.HandleFunc("/api/submit", s.sessionAction("submit", s.session.RequestSubmission))
	mux.HandleFunc("/api/connection", s.handleConnection)
	mux.HandleFunc("/api/connection/probe", s.sessionAction("probe", s.session.ProbeConnection))
	mux.HandleFunc("/api/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	handler := withRequestLogging(mux, s.observer)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

type documentPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type createPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Text      string `json:"text"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, err := s.session.Snapshot(r.Context())
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http session failed", "err", err)
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleDocuments creates a generated document for an empty body and a
// named document otherwise.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	var payload createPayload
	err := s.decodeJSON(w, r, &payload)
	switch {
	case errors.Is(err, io.EOF):
		snapshot, err := s.session.NewDocument(r.Context())
		s.reply(w, log, "new", snapshot, err)
		return
	case err != nil:
		log.Warn("http documents decode failed", "err", err)
		writeError(w, decodeStatus(err), err)
		return
	}
	ns, err := schema.NormalizeNamespace(payload.Namespace)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = logx.WithDocument(log, ns, schema.DocumentName(payload.Name))
	snapshot, err := s.session.CreateDocument(r.Context(), payload.Name, payload.Text, ns)
	s.reply(w, log, "create", snapshot, err)
}

type documentFunc func(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)

func (s *Server) documentAction(op string, fn documentFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		log := pslog.Ctx(r.Context())
		var payload documentPayload
		if err := s.decodeJSON(w, r, &payload); err != nil {
			log.Warn("http "+op+" decode failed", "err", err)
			writeError(w, decodeStatus(err), err)
			return
		}
		ns, err := schema.NormalizeNamespace(payload.Namespace)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log = logx.WithDocument(log, ns, schema.DocumentName(payload.Name))
		snapshot, err := fn(r.Context(), payload.Name, ns)
		s.reply(w, log, op, snapshot, err)
	}
}

type sessionFunc func(ctx context.Context) (schema.SessionSnapshot, error)

func (s *Server) sessionAction(op string, fn sessionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snapshot, err := fn(r.Context())
		s.reply(w, pslog.Ctx(r.Context()), op, snapshot, err)
	}
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	var payload struct {
		Name string `json:"name"`
	}
	if err := s.decodeJSON(w, r, &payload); err != nil {
		log.Warn("http rename decode failed", "err", err)
		writeError(w, decodeStatus(err), err)
		return
	}
	snapshot, err := s.session.RenameActiveDocument(r.Context(), payload.Name)
	s.reply(w, log.With("new_name", payload.Name), "rename", snapshot, err)
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := pslog.Ctx(r.Context())
	var payload struct {
		Text string `json:"text"`
	}
	if err := s.decodeJSON(w, r, &payload); err != nil {
		log.Warn("http text decode failed", "err", err)
		writeError(w, decodeStatus(err), err)
		return
	}
	snapshot, err := s.session.UpdateActiveText(r.Context(), payload.Text)
	s.reply(w, log, "edit", snapshot, err)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	log := pslog.Ctx(r.Context())
	switch r.Method {
	case http.MethodGet:
		snapshot, err := s.session.Snapshot(r.Context())
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot.Connection)
	case http.MethodPost:
		var payload struct {
			Hostname string `json:"hostname"`
			Port     string `json:"port"`
		}
		if err := s.decodeJSON(w, r, &payload); err != nil {
			log.Warn("http connection decode failed", "err", err)
			writeError(w, decodeStatus(err), err)
			return
		}
		snapshot, err := s.session.SetConnection(r.Context(), payload.Hostname, payload.Port)
		s.reply(w, log.With("hostname", payload.Hostname, "port", payload.Port), "connect", snapshot, err)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) reply(w http.ResponseWriter, log pslog.Logger, op string, snapshot schema.SessionSnapshot, err error) {
	if err != nil {
		log.Warn("http "+op+" failed", "err", err)
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
	log.Debug("http "+op+" ok", "tabs", len(snapshot.Tabs), "active", snapshot.ActiveTab.Ref().String())
}

// handleStream sends a snapshot, replays events newer than Last-Event-ID
// (or ?after=), then follows live events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context())

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseUint(r.URL.Query().Get("after"))
	}

	ch, unsubscribe, seq, history := s.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, err := s.session.Snapshot(r.Context())
	if err == nil {
		_ = writeSSEvent(w, StreamEvent{
			Type:      streamSnapshot,
			Snapshot:  &snapshot,
			Timestamp: time.Now(),
		})
	}

	replay := 0
	if lastID > 0 {
		for _, event := range eventsAfter(history, lastID) {
			_ = writeSSEvent(w, event)
			replay++
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	log.Info("http stream opened", "last_id", lastID, "seq", seq, "replay", replay)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Seq <= seq {
				continue
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		case <-keepalive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func statusForError(err error) int {
	switch schema.ErrorKind(err) {
	case "invalid", "not_local", "no_active_document":
		return http.StatusBadRequest
	case "not_found", "remote_not_found":
		return http.StatusNotFound
	case "rename_collision":
		return http.StatusConflict
	case "remote_network", "remote_malformed", "connectivity", "remote_unavailable":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind := schema.ErrorKind(err)
	if kind == "internal" && status < http.StatusInternalServerError {
		kind = "invalid"
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": kind})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
