package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/contractpad"
	"pkt.systems/contractpad/httpapi"
	"pkt.systems/contractpad/internal/appconfig"
	"pkt.systems/contractpad/internal/remote"
	"pkt.systems/contractpad/schema"
	"pkt.systems/contractpad/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var sshAddr string
	var enableSSH bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP shell and, when enabled, the SSH shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if sshAddr != "" {
				cfg.SSH.Addr = sshAddr
				enableSSH = true
			}
			serverCfg := toServerConfig(cfg)
			logger.Info("store selected", "backend", serverCfg.Store.Backend, "path", serverCfg.Store.Path)
			opts := []contractpad.ServerOption{contractpad.WithHTTP()}
			if enableSSH || cfg.SSH.Enabled {
				opts = append(opts, contractpad.WithSSH())
			}
			server, err := contractpad.New(serverCfg, contractpad.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				_ = server.Stop(context.Background())
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&enableSSH, "ssh", false, "enable the SSH shell")
	cmd.Flags().StringVar(&sshAddr, "ssh-addr", "", "override ssh.addr (implies --ssh)")
	return cmd
}

func toServerConfig(cfg appconfig.Config) contractpad.ServerConfig {
	return contractpad.ServerConfig{
		Manager: schema.ManagerConfig{
			NewDocumentBase:     cfg.Editor.NewDocumentBase,
			PlaceholderText:     cfg.Editor.PlaceholderText,
			NewDocumentProbeMax: cfg.Editor.NewDocumentProbeMax,
		},
		HTTP: httpapi.Config{
			Addr:         cfg.HTTP.Addr,
			BasePath:     cfg.HTTP.BasePath,
			HubHistory:   cfg.HTTP.HubHistory,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.HostKeyPath(),
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeys,
		},
		Store: contractpad.StoreConfig{
			Backend: cfg.Store.Backend,
			Path:    cfg.StorePath(),
		},
		Remote: remote.Config{
			Timeout:      time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
			RetryMax:     cfg.Remote.RetryMax,
			RetryWaitMin: time.Duration(cfg.Remote.RetryWaitMinMS) * time.Millisecond,
			RetryWaitMax: time.Duration(cfg.Remote.RetryWaitMaxMS) * time.Millisecond,
			RateLimitRPS: cfg.Remote.RateLimitRPS,
		},
		Connection: schema.ConnectionInfo{
			Hostname: cfg.Remote.Hostname,
			Port:     cfg.Remote.Port,
		},
	}
}
