// Package worker moves auth events from Kafka to Loki.
package worker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the worker consumes.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Pusher forwards one raw event.
type Pusher interface {
	PushEventJSON(ctx context.Context, rawJSON []byte) error
}

// pushTimeout bounds a single Loki push.
const pushTimeout = 10 * time.Second

// Run reads messages until ctx is cancelled and pushes each one. Push failures are logged and skipped.
// Read errors back off for retryDelay before the next read.
func Run(ctx context.Context, reader MessageReader, pusher Pusher, log *zap.Logger, retryDelay time.Duration) error {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("worker: kafka read error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := pusher.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Warn("worker: loki push failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		cancel()
	}
}
