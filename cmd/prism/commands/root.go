// Package commands provides the CLI commands for Prism.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
	noColor   bool
)

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Prism - chat with AI models over your MCP tool servers",
	Long: `Prism connects to Model Context Protocol tool servers and lets OpenAI,
Anthropic and Gemini models call their tools.

Run 'prism chat' to ask a question, or 'prism serve' to start the HTTP API.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Project directory (defaults to the current directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("prism %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(secretsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging sends logs to the state directory unless --print-logs is set.
func setupLogging(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.Pretty = printLogs
	cfg.LogToFile = !printLogs
	cfg.LogDir = paths.LogPath()

	closer, err := logging.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logCloser = closer
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
