package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/pkg/types"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage MCP tool servers",
	Long: `Manage the MCP tool servers in the configuration.

Subcommands:
  list      Connect every configured server and show its status
  connect   Connect one server, running the OAuth flow if it asks for one
  import    Add servers from an mcpServers document`,
}

var serversListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show the status of every configured server",
	RunE:    runServersList,
}

var serversConnectCmd = &cobra.Command{
	Use:   "connect <id>",
	Short: "Connect one configured server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersConnect,
}

var (
	importFormat string
	importDryRun bool
)

var serversImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import servers from an mcpServers document",
	Long: `Import servers from the {"mcpServers": {...}} document used by
other MCP clients. JSON with comments and YAML are accepted; string
commands are split like a shell would, and 'npx mcp-remote <url>'
entries become native http servers.

The servers are merged into the global configuration file.`,
	Args: cobra.ExactArgs(1),
	RunE: runServersImport,
}

func init() {
	serversImportCmd.Flags().StringVar(&importFormat, "format", "", "Document format (json|yaml), guessed from the file extension")
	serversImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Print the servers without saving")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversConnectCmd)
	serversCmd.AddCommand(serversImportCmd)
}

func runServersList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := newRenderer(cmd.OutOrStdout(), false)
	if len(a.config.MCP) == 0 {
		out.Muted("No servers configured. Add some with 'prism servers import'.")
		return nil
	}

	failed := a.connectConfigured(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), "MCP servers:")
	for _, id := range sortedServerIDs(a.config) {
		srv := a.config.MCP[id]
		st, ok := a.registry.Status(id)
		if !ok {
			st = types.ServerStatus{ID: id, Name: srv.DisplayName(), Type: srv.Kind(), Status: types.StatusDisconnected}
			if err := failed[id]; err != nil {
				st.Status = types.StatusError
				st.Error = err.Error()
			}
		}
		if st.Status == types.StatusConnected {
			if _, err := a.registry.ListTools(ctx, id); err == nil {
				st, _ = a.registry.Status(id)
			}
		}
		if srv.Disabled {
			st.Error = "disabled"
		}
		out.Status(st)
	}
	return nil
}

func runServersConnect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	srv, ok := a.config.MCP[args[0]]
	if !ok {
		return fmt.Errorf("server %q is not configured", args[0])
	}

	out := newRenderer(cmd.OutOrStdout(), false)
	res, err := a.registry.Connect(ctx, srv)
	if err != nil {
		return err
	}
	if res.ServerInfo != nil {
		out.Muted("Connected to %s %s", res.ServerInfo.Name, res.ServerInfo.Version)
	}

	tools, err := a.registry.ListTools(ctx, srv.ID)
	if err != nil {
		return err
	}
	for _, t := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-32s %s\n", t.Name, truncate(t.Description, 70))
	}
	return nil
}

func runServersImport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}

	format := importFormat
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(args[0]), ".")
	}
	servers, err := config.ParseServers(data, format)
	if err != nil {
		return err
	}

	out := newRenderer(cmd.OutOrStdout(), false)
	for _, s := range servers {
		target := s.URL
		if s.Kind() == types.TransportStdio {
			target = strings.Join(append([]string{s.Command}, s.Args...), " ")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %-6s %s\n", s.ID, s.Kind(), target)
	}
	if importDryRun {
		return nil
	}

	path := config.GlobalConfigPath()
	global, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	config.MergeServers(global, servers)
	if err := config.Save(global, path); err != nil {
		return err
	}
	out.Muted("Saved %d server(s) to %s", len(servers), path)
	return nil
}

// sortedServerIDs returns the configured server ids in order.
func sortedServerIDs(cfg *types.Config) []string {
	ids := make([]string, 0, len(cfg.MCP))
	for id := range cfg.MCP {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
