package queues

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/apps/bridge/config"
	"github.com/antinvestor/service-wabridge/internal"
)

// DeadLetterPublisher moves messages that keep failing to the dead-letter
// queue instead of retrying them forever.
type DeadLetterPublisher struct {
	cfg  *config.BridgeConfig
	qMan queue.Manager
}

// NewDeadLetterPublisher creates a new dead-letter queue publisher.
func NewDeadLetterPublisher(cfg *config.BridgeConfig, qMan queue.Manager) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		cfg:  cfg,
		qMan: qMan,
	}
}

// RetryCountFromHeaders reads the retry counter carried in message headers.
func RetryCountFromHeaders(headers map[string]string) int {
	count, err := strconv.Atoi(headers[internal.HeaderRetryCount])
	if err != nil {
		return 0
	}
	return count
}

// ShouldDeadLetter reports whether a message has exhausted its delivery
// retries.
func (dlp *DeadLetterPublisher) ShouldDeadLetter(retryCount int) bool {
	return retryCount >= dlp.cfg.MaxDeliveryRetries
}

// Publish sends a failed message to the dead-letter queue with error context
// headers for diagnostics.
func (dlp *DeadLetterPublisher) Publish(
	ctx context.Context,
	msg any,
	originalQueue string,
	errMsg string,
	headers map[string]string,
) error {
	topic, err := dlp.qMan.GetPublisher(dlp.cfg.QueueDeadLetterName)
	if err != nil {
		return fmt.Errorf("failed to get dead-letter publisher: %w", err)
	}

	dlqHeaders := make(map[string]string, len(headers)+2)
	maps.Copy(dlqHeaders, headers)
	dlqHeaders[internal.HeaderDLQOriginalQueue] = originalQueue
	dlqHeaders[internal.HeaderDLQErrorMessage] = errMsg

	if pubErr := topic.Publish(ctx, msg, dlqHeaders); pubErr != nil {
		util.Log(ctx).WithError(pubErr).
			WithField("original_queue", originalQueue).
			Error("failed to publish to dead-letter queue")
		return pubErr
	}

	util.Log(ctx).
		WithField("original_queue", originalQueue).
		WithField("error", errMsg).
		Warn("message moved to dead-letter queue after max retries exceeded")

	return nil
}
