/*
Copyright © 2026 EmJeeTee
*/

package main

import (
	"errors"
	"log"
	"time"
)

var (
	// ErrNotConnected is returned when a request is attempted without a live
	// connection. No network I/O happens in that case.
	ErrNotConnected = errors.New("no connection to server")

	// ErrConnectionLost fails requests that were in flight when the
	// underlying connection dropped.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSelfVote rejects a vote targeting the local player before any
	// request is sent. The server is still the final arbiter.
	ErrSelfVote = errors.New("cannot vote for yourself")

	// ErrIneligibleTarget rejects a vote outside the announced revote set.
	ErrIneligibleTarget = errors.New("target is not eligible in this vote")

	// ErrStaleSession means the server no longer knows our identity; the
	// persisted session must be cleared and the user sent back to the entry
	// screen.
	ErrStaleSession = errors.New("stale session")

	// ErrSessionClosed fails calls made after the room session was torn down.
	ErrSessionClosed = errors.New("session closed")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
