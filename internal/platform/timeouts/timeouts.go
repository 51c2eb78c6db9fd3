// Package timeouts defines shared timeout constants used across the client.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// HTTPRequest caps the time allowed for a single auth or directory request.
const HTTPRequest = 5 * time.Second

// TypingWindow is the inactivity interval after which a local stopTyping
// signal is emitted.
const TypingWindow = time.Second
