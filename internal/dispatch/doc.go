// Package dispatch turns transport updates into named events and runs the
// handlers bound to them, one update at a time.
//
// Event names:
//
//	user.join              a user joined a chat
//	user.message           any message, commands included
//	command.<name>         "/<name> args..."
//	command.<name>.help    "/help <name>"
package dispatch
