package commands

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage stored credentials",
	Long: `Manage credentials in the secret store (OS keyring, or files when
the keyring is unavailable or 'secrets.backend' is "file").

Ids are server ids for OAuth tokens, or vendor:<name> for API keys:
  prism secrets set vendor:openai apiKey=sk-...
  prism secrets key anthropic          # prompts for the key`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <id> <key=value>...",
	Short: "Store values for an id; an empty value removes the key",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSecretsSet,
}

var secretsKeyCmd = &cobra.Command{
	Use:   "key <vendor>",
	Short: "Store the API key of a vendor, read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsKey,
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the stored keys for an id, values masked",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsGet,
}

var secretsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete everything stored for an id",
	Args:    cobra.ExactArgs(1),
	RunE:    runSecretsDelete,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsKeyCmd)
	secretsCmd.AddCommand(secretsGetCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
}

func openSecrets() (secrets.Store, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	a, err := newSecretsApp(cfg)
	if err != nil {
		return nil, err
	}
	return a.secrets, nil
}

// parseAssignments parses key=value arguments.
func parseAssignments(args []string) (secrets.Secrets, error) {
	values := make(secrets.Secrets, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		values[key] = value
	}
	return values, nil
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	values, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	store, err := openSecrets()
	if err != nil {
		return err
	}
	if err := secrets.Merge(context.Background(), store, args[0], values); err != nil {
		return err
	}
	newRenderer(cmd.OutOrStdout(), false).Muted("Stored %d value(s) for %s", len(values), args[0])
	return nil
}

func runSecretsKey(cmd *cobra.Command, args []string) error {
	vendor, err := provider.ParseVendor(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Enter API key for %s: ", vendor)
	reader := bufio.NewReader(cmd.InOrStdin())
	key, err := reader.ReadString('\n')
	if err != nil && key == "" {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	store, err := openSecrets()
	if err != nil {
		return err
	}
	id := provider.SecretID(vendor)
	if err := secrets.Merge(context.Background(), store, id, secrets.Secrets{secrets.KeyAPIKey: key}); err != nil {
		return err
	}
	newRenderer(cmd.OutOrStdout(), false).Muted("Stored API key for %s as %s", vendor, id)
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	store, err := openSecrets()
	if err != nil {
		return err
	}
	stored, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", k, mask(stored[k]))
	}
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSecrets()
	if err != nil {
		return err
	}
	if err := store.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	newRenderer(cmd.OutOrStdout(), false).Muted("Deleted %s", args[0])
	return nil
}

func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
