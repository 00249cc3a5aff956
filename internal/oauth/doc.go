// Package oauth runs the interactive OAuth 2.0 authorization-code flow
// used to authenticate tool servers.
//
// A Flow builds the authorization URL with PKCE and a random state, opens
// it through a Browser, waits on a local CallbackServer for the redirect
// and exchanges the code. The callback listener binds a fixed port so the
// redirect URI can be registered once with each provider. It answers a
// single redirect and then shuts down after a short grace window.
//
// Token endpoints differ in how they accept client credentials, so the
// exchange style is configurable per server:
//
//	form        client id and secret in the form body
//	basic       HTTP Basic credentials with a form body
//	basic_json  HTTP Basic credentials with a JSON body
//
// # MCP Servers
//
// Authenticator adapts the flow to the tool server registry. When a
// server answers 401, the registry passes the parsed WWW-Authenticate
// Challenge to Authorize. Endpoints missing from the server config are
// discovered from the protected resource metadata and the authorization
// server metadata, and a client is registered dynamically when no client
// id is configured. Tokens and registrations are kept in the secret store
// under the server id and refreshed on the next connect when expired.
//
//	flow := oauth.NewFlow()
//	auth := oauth.NewAuthenticator(flow, store, oauth.WithEvents(bus))
//	reg := mcp.NewRegistry(mcp.WithAuthenticator(auth))
package oauth
