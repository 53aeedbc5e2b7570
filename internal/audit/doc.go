// Package audit dispatches second-factor audit events asynchronously to a
// pluggable Sink (no-op, channel, JSON lines or slog).
package audit
