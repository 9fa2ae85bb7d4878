package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/opstore"
)

// Dial connects to a sync hub once and runs the session until the
// connection drops or ctx is canceled.
func Dial(ctx context.Context, url string, spaceConn *opstore.Connection, router *Router, logger *zap.SugaredLogger) error {
	raw, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to dial sync hub %s", url)
	}

	conn := newWSConn(raw)
	defer conn.Close()

	peer := NewPeer(conn, spaceConn, router, logger)
	return peer.Run(ctx)
}

// Maintain keeps a session to url alive, reconnecting with exponential
// backoff after failures. A session that survived for a while resets the
// backoff. Returns when ctx is canceled.
func Maintain(ctx context.Context, url string, spaceConn *opstore.Connection, router *Router, logger *zap.SugaredLogger) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever; ctx bounds our lifetime

	for {
		start := time.Now()
		err := Dial(ctx, url, spaceConn, router, logger)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		logger.Warnw("Sync session ended, reconnecting",
			"url", url,
			"error", errString(err),
			"retry_in", wait.String(),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
