/*
Package event provides the pub/sub event system used by Prism.

Components publish lifecycle notifications (server status changes, tool
calls, chat completions, authorization prompts) and subscribers react to
them without direct dependencies.

# Architecture

In-process subscribers receive the typed Event value directly, so data
structs keep their Go types. Every published event is also serialized as
an Envelope and published to the watermill GoChannel topic StreamTopic;
Stream exposes that topic to consumers that forward events elsewhere, such
as the server's SSE endpoint.

# Event Types

Server Events:
  - server.status: a managed connection changed state
  - server.tools: a server's tool list was refreshed
  - auth.required: a browser authorization is waiting on the user
  - auth.completed: an authorization finished or failed

Chat Events:
  - tool.started: the orchestrator is invoking a tool
  - tool.finished: a tool invocation returned
  - chat.completed: a chat run ended

Config Events:
  - config.reloaded: the config watcher applied a new configuration

# Basic Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.ServerStatusChanged, func(e event.Event) {
		data := e.Data.(event.ServerStatusData)
		logging.Info().Str("server", data.Status.ID).Msg("status changed")
	})
	defer unsubscribe()

	bus.Publish(event.Event{Type: event.ServerStatusChanged, Data: event.ServerStatusData{Status: st}})

# Subscriber Safety

PublishSync calls subscribers in the publisher's goroutine. Subscribers must
return quickly and must not publish from inside the callback.
*/
package event
