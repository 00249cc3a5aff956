package commands

import (
	"context"
	"fmt"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/mcp"
	"github.com/prism-ai/prism/internal/oauth"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
)

// app holds the components shared by the commands.
type app struct {
	dir       string
	config    *types.Config
	paths     *config.Paths
	secrets   secrets.Store
	bus       *event.Bus
	auth      *oauth.Authenticator
	registry  *mcp.Registry
	providers *provider.Registry
	chat      *chat.Orchestrator
}

// newApp loads the configuration and wires the registry, the vendor
// adapters and the orchestrator. A vendor that fails to build is logged;
// chat requests for it fail later with an unknown-vendor error.
func newApp(ctx context.Context) (*app, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a, err := newSecretsApp(cfg)
	if err != nil {
		return nil, err
	}
	a.dir = dir
	a.bus = event.Default()

	flow := oauth.NewFlow(
		oauth.WithCallbackServer(oauth.NewCallbackServer(cfg.OAuth.Port, config.Millis(cfg.OAuth.CloseGrace))),
		oauth.WithCallbackTimeout(config.Millis(cfg.OAuth.CallbackTimeout)),
	)
	a.auth = oauth.NewAuthenticator(flow, a.secrets,
		oauth.WithEvents(a.bus),
		oauth.WithFlowTimeout(config.Millis(cfg.OAuth.FlowTimeout)),
	)

	a.registry = mcp.NewRegistry(
		mcp.WithAuthenticator(a.auth),
		mcp.WithEventBus(a.bus),
		mcp.WithClientInfo("prism", Version),
	)

	a.providers, err = provider.FromConfig(ctx, cfg, a.secrets)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to initialize providers")
		a.providers = provider.NewRegistry()
	}

	a.chat = chat.New(a.providers, a.registry,
		chat.WithMaxRounds(cfg.Chat.MaxRounds),
		chat.WithEvents(a.bus),
	)
	return a, nil
}

// newSecretsApp opens only the secret store; the secrets commands do not
// need anything else.
func newSecretsApp(cfg *types.Config) (*app, error) {
	paths := config.GetPaths()
	backend := ""
	if cfg.Secrets != nil {
		backend = cfg.Secrets.Backend
	}
	store, err := secrets.Open(backend, secrets.DefaultService, paths.SecretsPath())
	if err != nil {
		return nil, err
	}
	return &app{config: cfg, paths: paths, secrets: store}, nil
}

// connectConfigured connects every enabled server of the config and
// returns the ids that failed with their errors.
func (a *app) connectConfigured(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, id := range sortedServerIDs(a.config) {
		srv := a.config.MCP[id]
		if srv.Disabled {
			continue
		}
		if _, err := a.registry.Connect(ctx, srv); err != nil {
			logging.Warn().Err(err).Str("server", id).Msg("failed to connect server")
			failed[id] = err
		}
	}
	return failed
}

// Close disconnects every server.
func (a *app) Close(ctx context.Context) {
	if a.registry != nil {
		a.registry.DisconnectAll(ctx)
	}
}
