// Package relay implements store-and-forward "tell" messages.
//
// A Coordinator turns two kinds of host events into storage calls:
// activity (a user joined or spoke) delivers and clears everything queued for
// that user, and a tell command queues a new message. Replies go to a Sink.
// The Coordinator is immutable after New; hosts rebuild it to apply new
// settings.
package relay
