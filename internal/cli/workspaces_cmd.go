package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bitable-report/internal/app"
	"bitable-report/internal/config"
	"bitable-report/internal/db"
	"bitable-report/internal/db/repository"
)

func newWorkspacesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "Manage the staff workspace registry",
	}
	cmd.AddCommand(newWorkspacesImportCmd(opts), newWorkspacesListCmd(opts))
	return cmd
}

func openWorkspaceRepo(opts *rootOptions) (*repository.WorkspaceRepo, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.OpenStore(cfg.MetaDBPath, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}
	return repository.NewWorkspaceRepo(store.Write, store.Read), func() { _ = store.Close() }, nil
}

func newWorkspacesImportCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert workspaces from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := config.LoadWorkspaces(file)
			if err != nil {
				return err
			}
			repo, closeFn, err := openWorkspaceRepo(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := app.SeedWorkspaces(cmd.Context(), repo, items)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int{"imported": n})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d workspaces\n", n)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a top-level workspaces list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newWorkspacesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openWorkspaceRepo(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), items)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTAFF\tBASE\tCUSTOMERS\tAPPOINTMENTS\tNOTES")
			for _, ws := range items {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ws.ID, ws.StaffName, ws.BaseID, ws.CustomerTableID, ws.AppointmentTableID, ws.NoteTableID)
			}
			return tw.Flush()
		},
	}
}
