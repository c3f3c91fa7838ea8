package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/contractpad"
	"pkt.systems/contractpad/internal/appconfig"
	"pkt.systems/contractpad/internal/eventbus"
	"pkt.systems/pslog"
)

func newProbeCmd() *cobra.Command {
	var cfgPath string
	var hostname string
	var port string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the validation service and record its status",
		Long:  "Runs a headless session against the configured store, probes the validation service and prints the resulting notifications. With --hostname the stored connection settings are replaced first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			server, err := contractpad.New(toServerConfig(cfg), contractpad.ServerDeps{Logger: logger}, contractpad.WithEventBus())
			if err != nil {
				return err
			}
			events, cancel := server.Events().Subscribe()
			defer cancel()

			ctx := cmd.Context()
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = server.Stop(stopCtx)
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			drainEvents(events, io.Discard)

			session := server.Session()
			if hostname != "" {
				_, err = session.SetConnection(ctx, hostname, port)
			} else {
				_, err = session.ProbeConnection(ctx)
			}
			drainEvents(events, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			snapshot, err := session.Snapshot(ctx)
			if err != nil {
				return err
			}
			conn := snapshot.Connection
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s:%s %s\n", conn.Hostname, conn.Port, conn.Status)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&hostname, "hostname", "", "replace the stored service hostname")
	cmd.Flags().StringVar(&port, "port", "", "service port used with --hostname")
	return cmd
}

// drainEvents prints buffered notifications without blocking.
func drainEvents(events <-chan eventbus.Event, out io.Writer) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type == eventbus.EventNotification {
				_, _ = fmt.Fprintf(out, "[%s] %s\n", event.Notification.Severity, event.Notification.Message)
			}
		default:
			return
		}
	}
}
