package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to models",
	Long: `Connect every configured server and list the aggregated tool
catalog, using the names the models see (<server>__<tool>).`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print the catalog as JSON, input schemas included")
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := newRenderer(cmd.OutOrStdout(), false)
	for id, err := range a.connectConfigured(ctx) {
		out.Muted("server %s unavailable: %v", id, err)
	}

	tools, err := a.registry.ListAllTools(ctx)
	if err != nil {
		return err
	}

	if toolsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	if len(tools) == 0 {
		out.Muted("No tools available.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSERVER\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.QualifiedName(), t.ServerID, truncate(t.DescriptionOrName(), 70))
	}
	return w.Flush()
}
