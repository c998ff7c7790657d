package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pysugar/area-nexus/internal/app"
	"github.com/pysugar/area-nexus/internal/config"
	"github.com/pysugar/area-nexus/internal/engine"
	"github.com/pysugar/area-nexus/internal/version"
	"github.com/spf13/cobra"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every active non-polling area once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Engine.ExecuteAllActiveAreas(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d, triggered %d, failed %d\n",
				report.Evaluated, report.Triggered, report.Failed)
			return nil
		},
	}
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the compiled-in actions and reactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plugins, _ := app.Plugins(app.PluginDeps{})
			catalog := engine.NewCatalog(plugins...)
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, map[string]any{
					"actions":   catalog.ListActions(),
					"reactions": catalog.ListReactions(),
				})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tDESCRIPTION")
			for _, e := range catalog.ListActions() {
				fmt.Fprintf(tw, "action\t%s\t%s\n", e.Name, e.Description)
			}
			for _, e := range catalog.ListReactions() {
				fmt.Fprintf(tw, "reaction\t%s\t%s\n", e.Name, e.Description)
			}
			return tw.Flush()
		},
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    version.Version,
					"commit":     version.Commit,
					"build_time": version.BuildTime,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "area "+version.String())
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
