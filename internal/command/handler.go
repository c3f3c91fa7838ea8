package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"pkt.systems/contractpad/internal/codec"
	"pkt.systems/contractpad/internal/logx"
	"pkt.systems/contractpad/internal/version"
	"pkt.systems/contractpad/schema"
)

// ErrQuit is returned when the user asks to end the shell.
var ErrQuit = errors.New("quit")

// UsageError reports a malformed command line. It never reaches the session.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usage(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// Session is the subset of the document session manager driven by commands.
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

// CatalogSource exposes stored documents for listing.
type CatalogSource interface {
	LoadCatalog() (codec.Catalog, error)
}

// HandlerConfig configures command behavior.
type HandlerConfig struct {
	// Catalog enables /ls and /cat. Optional.
	Catalog CatalogSource
	// Program names the binary in /version output.
	Program string
}

// Handler routes shell commands to session operations.
type Handler struct {
	session Session
	cfg     HandlerConfig
}

// NewHandler constructs a command handler.
func NewHandler(session Session, cfg HandlerConfig) *Handler {
	if cfg.Program == "" {
		cfg.Program = "contractpad"
	}
	return &Handler{session: session, cfg: cfg}
}

// Handle parses input and executes the command, writing results to out.
// Blank input reports false.
func (h *Handler) Handle(ctx context.Context, out io.Writer, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	log := logx.Ctx(ctx).With("command", cmd.Name, "args", len(cmd.Args))
	log.Debug("command request")
	var err error
	switch cmd.Name {
	case "help", "?":
		err = h.handleHelp(out)
	case "quit", "exit", "logout":
		return true, ErrQuit
	case "version":
		_, err = fmt.Fprintln(out, version.Banner(h.cfg.Program))
	case "tabs", "status":
		err = h.handleStatus(ctx, out)
	case "ls":
		err = h.handleList(out)
	case "cat":
		err = h.handleCat(ctx, out, cmd)
	case "new":
		err = h.handleNew(ctx, out, cmd)
	case "open":
		err = h.handleRef(ctx, out, cmd, h.session.OpenDocument)
	case "switch", "sw":
		err = h.handleRef(ctx, out, cmd, h.session.SwitchTo)
	case "close":
		err = h.handleClose(ctx, out, cmd)
	case "rm":
		err = h.handleRef(ctx, out, cmd, h.session.DeleteDocument)
	case "rename", "mv":
		err = h.handleRename(ctx, out, cmd)
	case "set":
		err = h.handleSet(ctx, out, cmd)
	case "validate":
		err = h.handleValidate(ctx, out, h.session.RequestValidation)
	case "submit":
		err = h.handleValidate(ctx, out, h.session.RequestSubmission)
	case "probe":
		err = h.handleProbe(ctx, out)
	case "connect":
		err = h.handleConnect(ctx, out, cmd)
	default:
		log.Warn("command unknown")
		return true, usage("unknown command %q (try /help)", cmd.Name)
	}
	if err != nil {
		log.Warn("command failed", "err", err, "kind", schema.ErrorKind(err))
		return true, err
	}
	log.Debug("command completed")
	return true, nil
}

type refOp func(ctx context.Context, name string, ns schema.Namespace) (schema.SessionSnapshot, error)

func parseRef(cmd Command, verb string) (string, schema.Namespace, error) {
	if len(cmd.Args) == 0 || len(cmd.Args) > 2 {
		return "", "", usage("usage: /%s <name> [local|database]", verb)
	}
	nsValue := ""
	if len(cmd.Args) == 2 {
		nsValue = cmd.Args[1]
	}
	ns, err := schema.NormalizeNamespace(nsValue)
	if err != nil {
		return "", "", usage("unknown namespace %q", nsValue)
	}
	return cmd.Args[0], ns, nil
}

func (h *Handler) handleRef(ctx context.Context, out io.Writer, cmd Command, op refOp) error {
	name, ns, err := parseRef(cmd, cmd.Name)
	if err != nil {
		return err
	}
	snapshot, err := op(ctx, name, ns)
	if err != nil {
		return err
	}
	return writeTabs(out, snapshot)
}

func (h *Handler) handleNew(ctx context.Context, out io.Writer, cmd Command) error {
	var snapshot schema.SessionSnapshot
	var err error
	if len(cmd.Args) == 0 {
		snapshot, err = h.session.NewDocument(ctx)
	} else {
		name, ns, parseErr := parseRef(cmd, "new")
		if parseErr != nil {
			return parseErr
		}
		snapshot, err = h.session.CreateDocument(ctx, name, "", ns)
	}
	if err != nil {
		return err
	}
	return writeTabs(out, snapshot)
}

func (h *Handler) handleClose(ctx context.Context, out io.Writer, cmd Command) error {
	if len(cmd.Args) > 0 {
		return h.handleRef(ctx, out, cmd, h.session.CloseDocument)
	}
	snapshot, err := h.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snapshot.ActiveTab.Empty() {
		return schema.ErrNoActiveDocument
	}
	snapshot, err = h.session.CloseDocument(ctx, string(snapshot.ActiveTab.Name), snapshot.ActiveTab.Namespace)
	if err != nil {
		return err
	}
	return writeTabs(out, snapshot)
}

func (h *Handler) handleRename(ctx context.Context, out io.Writer, cmd Command) error {
	if cmd.Remainder == "" {
		return usage("usage: /rename <new-name>")
	}
	snapshot, err := h.session.RenameActiveDocument(ctx, cmd.Remainder)
	if err != nil {
		return err
	}
	return writeTabs(out, snapshot)
}

func (h *Handler) handleSet(ctx context.Context, out io.Writer, cmd Command) error {
	if cmd.Remainder == "" {
		return usage("usage: /set <text>")
	}
	text := strings.ReplaceAll(cmd.Remainder, `\n`, "\n")
	snapshot, err := h.session.UpdateActiveText(ctx, text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s updated (%d bytes)\n", snapshot.ActiveTab.Ref(), len(text))
	return err
}

func (h *Handler) handleValidate(ctx context.Context, out io.Writer, op func(context.Context) (schema.SessionSnapshot, error)) error {
	snapshot, err := op(ctx)
	if err != nil {
		return err
	}
	return writeDiagnostics(out, snapshot.Diagnostics)
}

func (h *Handler) handleProbe(ctx context.Context, out io.Writer) error {
	snapshot, err := h.session.ProbeConnection(ctx)
	if err != nil {
		return err
	}
	return writeConnection(out, snapshot.Connection)
}

func (h *Handler) handleConnect(ctx context.Context, out io.Writer, cmd Command) error {
	if len(cmd.Args) != 2 {
		return usage("usage: /connect <hostname> <port>")
	}
	snapshot, err := h.session.SetConnection(ctx, cmd.Args[0], cmd.Args[1])
	if err != nil {
		return err
	}
	return writeConnection(out, snapshot.Connection)
}

func (h *Handler) handleStatus(ctx context.Context, out io.Writer) error {
	snapshot, err := h.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := writeTabs(out, snapshot); err != nil {
		return err
	}
	if err := writeConnection(out, snapshot.Connection); err != nil {
		return err
	}
	return writeDiagnostics(out, snapshot.Diagnostics)
}

func (h *Handler) handleList(out io.Writer) error {
	if h.cfg.Catalog == nil {
		return errors.New("catalog unavailable")
	}
	catalog, err := h.cfg.Catalog.LoadCatalog()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAMESPACE\tNAME\tBYTES")
	for _, ns := range schema.Namespaces() {
		for _, name := range catalog.Names(ns) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", ns, name, len(catalog[ns][name]))
		}
	}
	return w.Flush()
}

func (h *Handler) handleCat(ctx context.Context, out io.Writer, cmd Command) error {
	if h.cfg.Catalog == nil {
		return errors.New("catalog unavailable")
	}
	var ref schema.TabRef
	if len(cmd.Args) == 0 {
		snapshot, err := h.session.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snapshot.ActiveTab.Empty() {
			return schema.ErrNoActiveDocument
		}
		ref = snapshot.ActiveTab.Ref()
	} else {
		name, ns, err := parseRef(cmd, "cat")
		if err != nil {
			return err
		}
		ref = schema.TabRef{Namespace: ns, Name: schema.DocumentName(name)}
	}
	catalog, err := h.cfg.Catalog.LoadCatalog()
	if err != nil {
		return err
	}
	if !catalog.Has(ref.Namespace, ref.Name) {
		return schema.ErrDocumentNotFound
	}
	text := catalog[ref.Namespace][ref.Name]
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err = io.WriteString(out, text)
	return err
}

func (h *Handler) handleHelp(out io.Writer) error {
	for _, line := range helpLines() {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func helpLines() []string {
	return []string{
		"Commands (the leading / is optional)",
		"  /status                       show tabs, connection and diagnostics",
		"  /ls                           list stored documents",
		"  /cat [name [ns]]              print stored text",
		"  /new [name [ns]]              create a document",
		"  /open <name> [ns]             open a stored or remote document",
		"  /switch <name> [ns]           activate an open document",
		"  /close [name [ns]]            close a document (default: active)",
		"  /rm <name> [ns]               delete a document",
		"  /rename <new-name>            rename the active document",
		"  /set <text>                   replace the active text (\\n for newline)",
		"  /validate, /submit            send the active document for validation",
		"  /probe                        check the remote service",
		"  /connect <hostname> <port>    set and probe the remote service",
		"  /version                      show version information",
		"  /quit                         end the session",
		"Namespaces: local (default), database",
	}
}

func writeTabs(out io.Writer, snapshot schema.SessionSnapshot) error {
	if len(snapshot.Tabs) == 0 {
		_, err := fmt.Fprintln(out, "no open documents")
		return err
	}
	for _, tab := range snapshot.Tabs {
		marker := " "
		if tab.Active {
			marker = "*"
		}
		if _, err := fmt.Fprintf(out, "%s %s\n", marker, tab.Ref()); err != nil {
			return err
		}
	}
	return nil
}

func writeConnection(out io.Writer, info schema.ConnectionInfo) error {
	_, err := fmt.Fprintf(out, "%s:%s %s\n", info.Hostname, info.Port, info.Status)
	return err
}

func writeDiagnostics(out io.Writer, diag schema.Diagnostics) error {
	state := diag.State
	if state == "" {
		state = schema.DiagnosticsEmpty
	}
	if _, err := fmt.Fprintf(out, "diagnostics: %s\n", state); err != nil {
		return err
	}
	for _, v := range diag.Violations {
		if _, err := fmt.Fprintf(out, "  - %s\n", v.Message); err != nil {
			return err
		}
	}
	return nil
}

