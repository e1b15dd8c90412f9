package httpapi

import (
	"context"
)

// serverBaseCtx is canceled by cmd/inferd at shutdown so in-flight
// generations and open token streams stop instead of outliving the server.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context joined into every request
// context. A nil ctx resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context canceled as soon as either input is done.
// Callers must invoke the cancel func when the handler returns, or the
// watcher goroutine leaks.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		select {
		case <-a.Done():
		case <-b.Done():
		}
	}()
	return ctx, cancel
}
