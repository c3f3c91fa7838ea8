package sshserver

import (
	"context"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/contractpad/internal/eventbus"
	"pkt.systems/pslog"
)

// CommandHandler executes one shell line and writes its result to out.
type CommandHandler interface {
	Handle(ctx context.Context, out io.Writer, input string) (bool, error)
}

// Server exposes the document session over SSH as a line-oriented shell.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Handler     CommandHandler
	Prompt      string

	// AuthorizedKeys restricts logins. Empty disables authentication.
	AuthorizedKeys []ssh.PublicKey
	EventBus       *eventbus.Bus
	logger         pslog.Logger
}

// NewServer constructs an SSH shell from cfg. Authorized keys are loaded
// when a path is configured.
func NewServer(cfg Config, handler CommandHandler, bus *eventbus.Bus) (*Server, error) {
	srv := &Server{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
		Handler:     handler,
		Prompt:      cfg.Prompt,
		EventBus:    bus,
	}
	if cfg.AuthorizedKeysPath != "" {
		keys, err := LoadAuthorizedKeys(cfg.AuthorizedKeysPath)
		if err != nil {
			return nil, err
		}
		srv.AuthorizedKeys = keys
	}
	return srv, nil
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Prompt == "" {
		s.Prompt = "contractpad> "
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}

	hostKey, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	s.logger.Info("ssh host key", "path", s.HostKeyPath, "fingerprint", hostKey.Fingerprint, "created", hostKey.Created)

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if len(s.AuthorizedKeys) > 0 {
		server.PublicKeyHandler = s.handlePublicKey
	} else {
		s.logger.Warn("ssh auth disabled", "reason", "no authorized keys")
	}
	server.AddHostKey(hostKey.Signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			s.logger.Info("ssh listening", "addr", s.Listener.Addr().String())
			errCh <- server.Serve(s.Listener)
			return
		}
		s.logger.Info("ssh listening", "addr", s.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if err == gliderssh.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	for _, allowed := range s.AuthorizedKeys {
		if gliderssh.KeysEqual(key, allowed) {
			log.Info("ssh pubkey accepted")
			return true
		}
	}
	log.Warn("ssh pubkey rejected", "reason", "no matching key")
	return false
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	log = log.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}
	ctx := pslog.ContextWithLogger(sess.Context(), log)

	if command := sess.RawCommand(); command != "" {
		log.Info("ssh exec", "command", command)
		code := runOnce(ctx, s.Handler, sess, command)
		_ = sess.Exit(code)
		return
	}

	pty, winCh, hasPty := sess.Pty()
	log.Info("ssh session opened", "pty", hasPty, "term", pty.Term)
	var events <-chan eventbus.Event
	if s.EventBus != nil {
		ch, unsubscribe := s.EventBus.Subscribe()
		defer unsubscribe()
		events = ch
	}
	sh := newShell(sess, s.Handler, s.Prompt, hasPty)
	if hasPty {
		sh.resize(pty.Window.Width, pty.Window.Height)
		go func() {
			for win := range winCh {
				sh.resize(win.Width, win.Height)
			}
		}()
	}
	err := sh.Run(ctx, events)
	if err != nil {
		log.Warn("ssh session failed", "err", err)
	}
	log.Info("ssh session closed")
	_ = sess.Exit(0)
}
