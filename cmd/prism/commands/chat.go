package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/pkg/types"
)

var (
	chatVendor      string
	chatModel       string
	chatLocale      string
	chatMaxTokens   int
	chatInteractive bool
	chatJSON        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Ask a model, letting it call the configured tools",
	Long: `Send a message to a model. Every enabled tool server in the
configuration is connected first and its tools are offered to the model.

Examples:
  prism chat "What is on my task board?"
  prism chat --vendor anthropic "Summarize the open issues"
  prism chat -i                 # read messages from stdin until EOF`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatVendor, "vendor", "", "Vendor to use (openai|anthropic|gemini)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model id (overrides the vendor default)")
	chatCmd.Flags().StringVar(&chatLocale, "locale", "", "Reply language (en|ja)")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "Maximum reply tokens")
	chatCmd.Flags().BoolVarP(&chatInteractive, "interactive", "i", false, "Keep the conversation going, one message per line")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print events as JSON lines")
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if message == "" && !chatInteractive {
		return fmt.Errorf("message required. Usage: prism chat \"your message\"")
	}

	var vendor provider.Vendor
	if chatVendor != "" {
		v, err := provider.ParseVendor(chatVendor)
		if err != nil {
			return err
		}
		vendor = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out := newRenderer(cmd.OutOrStdout(), chatJSON)
	for id, err := range a.connectConfigured(ctx) {
		out.Muted("server %s unavailable: %v", id, err)
	}

	locale := chatLocale
	if locale == "" {
		locale = a.config.Locale
	}

	s := &chatSession{
		orchestrator: a.chat,
		out:          out,
		request: chat.RunRequest{
			Vendor:      vendor,
			Model:       chatModel,
			MaxTokens:   chatMaxTokens,
			Locale:      locale,
			OnToolStart: out.ToolStart,
			OnToolEnd:   out.ToolEnd,
		},
	}

	if !chatInteractive {
		_, err := s.send(ctx, message)
		return err
	}
	if message != "" {
		if _, err := s.send(ctx, message); err != nil {
			return err
		}
	}
	return s.loop(ctx, cmd.InOrStdin())
}

// chatSession carries the history across interactive turns.
type chatSession struct {
	orchestrator *chat.Orchestrator
	out          *renderer
	request      chat.RunRequest
	history      []types.ChatMessage
}

func (s *chatSession) send(ctx context.Context, message string) (*chat.RunResult, error) {
	s.out.User(message)

	req := s.request
	req.History = append(types.CloneHistory(s.history), types.NewUserMessage(message))
	res, err := s.orchestrator.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	s.history = res.History
	s.out.Assistant(res.FinalText)
	return res, nil
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if _, err := s.send(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
