package evaluation

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/redis"
	"github.com/gather-network/gatherx/pkg/verifier"
)

// EvaluationsChannel is the pub/sub channel each evaluation outcome is
// published on, as a JSON-encoded Event. The gateway relays it to websocket
// subscribers.
const EvaluationsChannel = "gatherx:evaluations"

// EvaluationsLogStream is the capped stream retaining recent outcomes for
// polling consumers.
const EvaluationsLogStream = "gatherx:evaluations:log"

// Event summarizes one finished evaluation.
type Event struct {
	Hotkey         string    `json:"hotkey"`
	UID            int       `json:"uid"`
	BucketID       string    `json:"bucket_id,omitempty"`
	Valid          bool      `json:"valid"`
	Reason         string    `json:"reason"`
	ValidatedBytes int64     `json:"validated_bytes"`
	DurationMs     int64     `json:"duration_ms"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// EventSink receives evaluation outcomes. Implementations must be
// best-effort: a sink failure never fails the evaluation.
type EventSink interface {
	PublishEvaluation(ctx context.Context, event Event)
}

// newEvent folds per-entity verdicts into the published summary. The event
// is valid only when every verdict passed; its reason is the first failing
// verdict's, so a mixed outcome surfaces what went wrong.
func newEvent(hotkey string, uid int, bucketID string, results []verifier.ValidationResult, started time.Time) Event {
	event := Event{
		Hotkey:      hotkey,
		UID:         uid,
		BucketID:    bucketID,
		Valid:       len(results) > 0,
		DurationMs:  time.Since(started).Milliseconds(),
		EvaluatedAt: time.Now().UTC(),
	}
	for i := range results {
		result := &results[i]
		if result.IsValid {
			event.ValidatedBytes += result.ContentSizeBytesValidated
			continue
		}
		if event.Valid {
			event.Valid = false
			event.Reason = result.Reason
		}
	}
	if event.Valid && len(results) > 0 {
		event.Reason = results[0].Reason
	}
	return event
}

// RedisEventSink publishes evaluation outcomes to the pub/sub channel for
// live subscribers and appends them to the capped log stream for pollers.
type RedisEventSink struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisEventSink returns a sink backed by client.
func NewRedisEventSink(client *redis.Client, logger *zap.Logger) *RedisEventSink {
	return &RedisEventSink{client: client, logger: logger}
}

// PublishEvaluation implements EventSink. Delivery is best-effort; failures
// are logged by the client and dropped.
func (s *RedisEventSink) PublishEvaluation(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode evaluation event", zap.Error(err))
		return
	}
	s.client.Publish(ctx, EvaluationsChannel, payload)
	s.client.XAdd(ctx, EvaluationsLogStream, map[string]interface{}{"event": payload})
}
