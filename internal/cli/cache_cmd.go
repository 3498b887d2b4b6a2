package cli

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bitable-report/internal/config"
	"bitable-report/internal/service/cache"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the durable report cache",
	}
	cmd.AddCommand(newCachePurgeCmd(opts), newCacheListCmd(opts))
	return cmd
}

func openFileStore(cmd *cobra.Command, opts *rootOptions) (*cache.FileStore, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return fileStoreFor(cfg, newLogger(cfg, cmd.ErrOrStderr()))
}

func fileStoreFor(cfg *config.Config, logger *slog.Logger) (*cache.FileStore, error) {
	return cache.NewFileStore(cfg.CacheDir, cfg.CacheTTL, logger.With("component", "file-cache"))
}

func newCachePurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired and unreadable cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openFileStore(cmd, opts)
			if err != nil {
				return err
			}
			n, err := store.PurgeExpired()
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"dir": store.Dir(), "removed": n})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries from %s\n", n, store.Dir())
			return err
		},
	}
}

func newCacheListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List durable cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openFileStore(cmd, opts)
			if err != nil {
				return err
			}
			entries, err := store.Entries()
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "KEY\tFETCHED AT\tEXPIRED")
			for _, e := range entries {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\n", e.Key, e.FetchedAt.Format(time.RFC3339), e.Expired)
			}
			return tw.Flush()
		},
	}
}
