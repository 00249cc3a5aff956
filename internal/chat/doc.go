// Package chat runs the chat-with-tools loop.
//
// Each round sends the history and a fixed tool snapshot to a vendor
// adapter. A reply without tool calls ends the run. Otherwise the calls
// are executed one at a time, in the order the model emitted them, and
// their results are appended before the next round. Unknown tools and
// failed calls become error-shaped tool results so the model can react.
// A failed model call ends the run immediately with the failure as the
// final assistant turn, and the round cap ends it as exhausted.
package chat
