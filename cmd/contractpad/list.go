package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/contractpad/internal/appconfig"
	"pkt.systems/contractpad/internal/kv"
	"pkt.systems/contractpad/internal/persist"
	"pkt.systems/contractpad/schema"
	"pkt.systems/pslog"
)

func newListCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			backend, err := kv.Open(cfg.Store.Backend, cfg.StorePath(), logger)
			if err != nil {
				return err
			}
			store, err := persist.NewStoreWithLogger(backend, logger)
			if err != nil {
				_ = backend.Close()
				return err
			}
			defer func() { _ = store.Close() }()
			catalog, err := store.LoadCatalog()
			if err != nil {
				return err
			}
			open, err := store.OpenTabs()
			if err != nil {
				return err
			}
			isOpen := make(map[schema.TabRef]bool, len(open))
			for _, ref := range open {
				isOpen[ref] = true
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAMESPACE\tNAME\tBYTES\tOPEN")
			for _, ns := range schema.Namespaces() {
				for _, name := range catalog.Names(ns) {
					ref := schema.TabRef{Namespace: ns, Name: name}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", ns, name, len(catalog[ns][name]), isOpen[ref])
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
