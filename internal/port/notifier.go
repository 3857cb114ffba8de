package port

import "context"

type Notifier interface {
	// Send delivers message. Callers treat it as fire-and-forget.
	Send(ctx context.Context, message string) error
}
