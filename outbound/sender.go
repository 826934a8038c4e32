// Package outbound drains one session's queued outbound messages:
// destination normalization, send with session-refresh recovery, and
// per-message delivery reporting. It depends on session (for MediaKind,
// used by the Sender contract a session.Runner implicitly satisfies,
// and for IsNoMatchingSessions) but
// session never depends back on it — the manager package is the only
// place a Runner and an outbound Runner are wired together.
package outbound

import (
	"context"

	"wa-session-supervisor/session"
)

// Sender is the subset of session.Runner this package needs. Defined
// here, on the consumer side, so session.Runner satisfies it without
// importing this package.
type Sender interface {
	IsOpen() bool
	SendText(ctx context.Context, dest, body string) (string, error)
	SendMedia(ctx context.Context, dest string, kind session.MediaKind, data []byte, mimeType, caption, fileName string) (string, error)
}
