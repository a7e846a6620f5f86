package login

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Bootstrap queries the current session once and triggers the gate when one
// exists. A failed query counts as "no session" and is only logged. It
// reports whether a session was found.
func Bootstrap(ctx context.Context, client AuthClient, gate *Gate, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}

	sess, err := lookupSession(ctx, client)
	if err != nil {
		logger.Debug("session lookup failed", zap.Error(err))
		return false
	}
	if sess == nil {
		return false
	}
	// The view may have been torn down while the lookup was in flight.
	if ctx.Err() != nil {
		return true
	}
	gate.TriggerOnce()
	return true
}

func lookupSession(ctx context.Context, client AuthClient) (sess *Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("login: session lookup panicked: %v", r)
		}
	}()
	return client.GetSession(ctx)
}
