package contractpad

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/contractpad/core"
	"pkt.systems/contractpad/httpapi"
	"pkt.systems/contractpad/internal/command"
	"pkt.systems/contractpad/internal/eventbus"
	"pkt.systems/contractpad/internal/kv"
	"pkt.systems/contractpad/internal/metrics"
	"pkt.systems/contractpad/internal/persist"
	"pkt.systems/contractpad/internal/remote"
	"pkt.systems/contractpad/internal/surface"
	"pkt.systems/contractpad/schema"
	"pkt.systems/contractpad/sshserver"
	"pkt.systems/pslog"
)

// Server composes the session manager with its shells.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Session returns the document session manager.
	Session() *core.Manager
	// Events returns the in-process event bus, or nil when it is disabled.
	Events() *eventbus.Bus
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Manager    schema.ManagerConfig
	HTTP       httpapi.Config
	SSH        sshserver.Config
	Store      StoreConfig
	Remote     remote.Config
	// Connection seeds the connection record when the store has none.
	Connection schema.ConnectionInfo
}

// StoreConfig selects the durable key/value backend.
type StoreConfig struct {
	Backend string
	Path    string
}

// ServerDeps captures optional dependencies. Zero values are replaced with
// the production implementations.
type ServerDeps struct {
	Logger    pslog.Logger
	KV        kv.Store
	Remote    core.RemoteClient
	Surface   core.Surface
	EventSink core.EventSink
	Metrics   *metrics.Metrics
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
	enableBus  bool
}

// WithHTTP enables the HTTP shell.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH command shell. It implies WithEventBus.
func WithSSH() ServerOption {
	return func(o *serverOptions) {
		o.enableSSH = true
		o.enableBus = true
	}
}

// WithEventBus enables the in-process event bus used by terminal shells.
func WithEventBus() ServerOption {
	return func(o *serverOptions) { o.enableBus = true }
}

// New constructs a composable contractpad server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableBus {
		return nil, errors.New("no shells enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	backend := deps.KV
	if backend == nil {
		opened, err := kv.Open(cfg.Store.Backend, cfg.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		backend = opened
	}
	store, err := persist.NewStoreWithLogger(backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if strings.TrimSpace(cfg.Connection.Hostname) != "" {
		if _, err := store.SeedConnection(cfg.Connection); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed connection: %w", err)
		}
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	client := deps.Remote
	if client == nil {
		remoteCfg := cfg.Remote
		if remoteCfg.Observer == nil {
			remoteCfg.Observer = m
		}
		if remoteCfg.Logger == nil {
			remoteCfg.Logger = logger
		}
		client = remote.New(schema.DefaultConnection(), remoteCfg)
	}
	surf := deps.Surface
	if surf == nil {
		surf = surface.New(logger)
	}

	var hub *httpapi.Hub
	var bus *eventbus.Bus
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HubHistory)
	}
	if options.enableBus {
		bus = eventbus.New(logger)
	}
	sinks := make([]core.EventSink, 0, 3)
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	var sink core.EventSink
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = eventFanout{sinks: sinks}
	}

	manager, err := core.NewManager(cfg.Manager, core.ManagerDeps{
		Store:     store,
		Remote:    client,
		Surface:   surf,
		EventSink: sink,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var sshSrv *sshserver.Server
	if options.enableSSH {
		handler := command.NewHandler(manager, command.HandlerConfig{Catalog: store})
		sshSrv, err = sshserver.NewServer(cfg.SSH, handler, bus)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ssh shell: %w", err)
		}
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, manager, hub, httpapi.Options{
			Metrics:  m.Handler(),
			Observer: m,
		})
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		manager: manager,
		store:   store,
		httpSrv: httpSrv,
		sshSrv:  sshSrv,
		bus:     bus,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	manager *core.Manager
	store   *persist.Store
	httpSrv *httpapi.Server
	sshSrv  *sshserver.Server
	bus     *eventbus.Bus
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
	closed  bool
}

func (s *compositeServer) Session() *core.Manager {
	return s.manager
}

func (s *compositeServer) Events() *eventbus.Bus {
	return s.bus
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"bus", s.options.enableBus,
		"http_addr", s.cfg.HTTP.Addr,
		"ssh_addr", s.cfg.SSH.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"store_backend", s.cfg.Store.Backend,
	)
	if s.manager != nil {
		snapshot, err := s.manager.Start(s.ctx)
		if err != nil {
			log.Error("session start failed", "err", err)
			s.cancel()
			return err
		}
		log.Info("session ready", "tabs", len(snapshot.Tabs), "active", snapshot.ActiveTab.Ref().String())
	}
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enableSSH && s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	closeStore := !s.closed
	s.closed = true
	s.mu.Unlock()
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if started {
		log.Info("server stop requested")
	}
	if cancel != nil {
		cancel()
	}
	if closeStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn("server store close failed", "err", err)
		}
	}
	if !started {
		return nil
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
