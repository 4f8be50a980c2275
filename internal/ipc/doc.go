// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Record
// payloads reuse the api package DTOs so the CLI renders the same shapes the
// HTTP API returns.
//
// net/rpc flattens server errors to strings. The client restores the checkin
// sentinel errors from their message text so callers can keep using
// errors.Is across the socket.
package ipc
