package sshserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"

	"pkt.systems/contractpad/internal/command"
	"pkt.systems/contractpad/internal/eventbus"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

type lineReader interface {
	ReadLine() (string, error)
}

// plainReader reads newline-terminated input from clients without a pty.
type plainReader struct {
	r      *bufio.Reader
	out    io.Writer
	prompt string
}

func (p *plainReader) ReadLine() (string, error) {
	if p.prompt != "" {
		_, _ = io.WriteString(p.out, p.prompt)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// lockedWriter serializes command output with asynchronous notifications.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type shell struct {
	handler CommandHandler
	in      lineReader
	out     io.Writer
	term    *term.Terminal
}

func newShell(rw io.ReadWriter, handler CommandHandler, prompt string, pty bool) *shell {
	if pty {
		t := term.NewTerminal(rw, prompt)
		return &shell{handler: handler, in: t, out: &lockedWriter{w: t}, term: t}
	}
	out := &lockedWriter{w: rw}
	return &shell{
		handler: handler,
		in:      &plainReader{r: bufio.NewReader(rw), out: out, prompt: prompt},
		out:     out,
	}
}

func (s *shell) resize(width, height int) {
	if s.term == nil || width <= 0 || height <= 0 {
		return
	}
	_ = s.term.SetSize(width, height)
}

// Run reads commands until the client quits or disconnects. Notifications
// from events are printed as they arrive; session failures are then reported
// through them rather than as command errors.
func (s *shell) Run(ctx context.Context, events <-chan eventbus.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := pslog.Ctx(ctx)
	_, _ = fmt.Fprintln(s.out, "type /help for commands")

	done := make(chan struct{})
	defer close(done)
	if events != nil {
		go s.printEvents(events, done)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_, err = s.handler.Handle(ctx, s.out, line)
		if errors.Is(err, command.ErrQuit) {
			log.Debug("ssh shell quit")
			return nil
		}
		if err != nil && (events == nil || isUsage(err)) {
			_, _ = fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *shell) printEvents(events <-chan eventbus.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.EventNotification {
				continue
			}
			_, _ = io.WriteString(s.out, formatNotification(ev.Notification))
		}
	}
}

func formatNotification(n schema.Notification) string {
	severity := n.Severity
	if severity == "" {
		severity = schema.SeverityDefault
	}
	return fmt.Sprintf("[%s] %s\n", severity, n.Message)
}

func isUsage(err error) bool {
	var usageErr *command.UsageError
	return errors.As(err, &usageErr)
}

// runOnce executes a single command for "ssh host <command>" and returns the
// exit status.
func runOnce(ctx context.Context, handler CommandHandler, out io.Writer, line string) int {
	handled, err := handler.Handle(ctx, out, line)
	if errors.Is(err, command.ErrQuit) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(out, "error: %v\n", err)
		return 1
	}
	if !handled {
		return 2
	}
	return 0
}
