package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// MCP servers
	r.Route("/servers", func(r chi.Router) {
		r.Get("/", s.listServers)
		r.Post("/", s.connectServer)
		r.Post("/import", s.importServers)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.disconnectServer)
			r.Get("/status", s.serverStatus)
			r.Get("/tools", s.serverTools)
			r.Post("/tools/{name}", s.callTool)
			r.Get("/resources", s.serverResources)
			r.Get("/resource", s.readResource)
			r.Get("/prompts", s.serverPrompts)
			r.Post("/prompts/{name}", s.getPrompt)
		})
	})

	// Aggregated tool catalog and chat runs
	r.Get("/tools", s.listAllTools)
	r.Post("/chat", s.runChat)
	r.Get("/providers", s.listProviders)

	// Secrets
	r.Route("/secrets/{id}", func(r chi.Router) {
		r.Get("/", s.getSecrets)
		r.Put("/", s.putSecrets)
		r.Delete("/", s.deleteSecrets)
	})

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
