// Package server implements the real-time document relay for docsync.
//
// The Hub owns the session registry and presence manager and processes every
// inbound event on a single goroutine, so document state needs no locking.
// Each websocket connection is a Client with its own read and write pumps;
// the pumps only exchange bytes with the Hub through channels. Configuration,
// origin policy, rate limiting, routing and the HTTP handlers live in their
// own files.
package server
