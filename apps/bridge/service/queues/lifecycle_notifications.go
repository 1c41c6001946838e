package queues

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/apps/bridge/config"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/business"
	"github.com/antinvestor/service-wabridge/internal"
	"github.com/antinvestor/service-wabridge/internal/telemetry"
)

// lifecycleNotificationHandler consumes lifecycle notifications published by
// the lifecycle manager and fans admin notices out over the platform itself,
// using the affected account's own live session.
type lifecycleNotificationHandler struct {
	cfg      *config.BridgeConfig
	workMan  workerpool.Manager
	registry *business.Registry
	dlp      *DeadLetterPublisher
}

// NewLifecycleNotificationHandler builds the subscriber for the lifecycle
// notification queue.
func NewLifecycleNotificationHandler(
	cfg *config.BridgeConfig,
	workMan workerpool.Manager,
	registry *business.Registry,
	dlp *DeadLetterPublisher,
) queue.SubscribeWorker {
	return &lifecycleNotificationHandler{
		cfg:      cfg,
		workMan:  workMan,
		registry: registry,
		dlp:      dlp,
	}
}

func (lh *lifecycleNotificationHandler) Handle(
	ctx context.Context, headers map[string]string, payload []byte,
) (err error) {
	ctx, span := telemetry.NotifyTracer.Start(ctx, "LifecycleNotification")
	defer func() { telemetry.NotifyTracer.End(ctx, span, err) }()

	notification := &business.LifecycleNotification{}
	if err = json.Unmarshal(payload, notification); err != nil {
		util.Log(ctx).WithError(err).Error("failed to unmarshal lifecycle notification")
		return err
	}

	if len(lh.cfg.AdminAccountIDs) == 0 {
		return nil
	}

	// Notices ride over the platform itself: prefer the affected account's
	// own session, otherwise borrow any other live one.
	entry, ok := lh.registry.Get(notification.AccountID)
	if !ok {
		if snapshot := lh.registry.Snapshot(); len(snapshot) > 0 {
			entry = snapshot[0]
			ok = true
		}
	}
	if !ok {
		util.Log(ctx).
			WithField("account_id", notification.AccountID).
			Debug("skipping admin notice, no active session to send through")
		return nil
	}

	text := noticeText(notification)

	for _, rawAdminID := range lh.cfg.AdminAccountIDs {
		adminID := internal.NormalizeAccountID(rawAdminID)
		if !internal.IsValidAccountID(adminID) {
			continue
		}

		job := workerpool.NewJob[any](func(ctx context.Context, resultPipe workerpool.JobResultPipe[any]) error {
			sendErr := entry.Session.SendText(ctx, adminID, text)
			if sendErr != nil {
				util.Log(ctx).WithError(sendErr).
					WithField("admin_id", adminID).
					Error("failed to deliver admin notice")

				if lh.dlp != nil && lh.dlp.ShouldDeadLetter(RetryCountFromHeaders(headers)) {
					return resultPipe.WriteError(ctx, lh.dlp.Publish(
						ctx, notification, lh.cfg.QueueLifecycleName, sendErr.Error(), headers,
					))
				}
				return resultPipe.WriteError(ctx, sendErr)
			}
			return nil
		})

		if err := workerpool.SubmitJob(ctx, lh.workMan, job); err != nil {
			util.Log(ctx).WithError(err).
				WithField("admin_id", adminID).
				Error("failed to submit admin notice job")
		}
	}

	return nil
}

func noticeText(n *business.LifecycleNotification) string {
	switch n.Status {
	case "connected":
		return fmt.Sprintf("Account %s connected at %s", n.AccountID, n.ConnectedAt)
	case "logged_out":
		return fmt.Sprintf("Account %s was logged out by the platform", n.AccountID)
	case "given_up":
		return fmt.Sprintf("Account %s exhausted reconnection attempts", n.AccountID)
	case "terminated":
		return fmt.Sprintf("Account %s was terminated", n.AccountID)
	default:
		return fmt.Sprintf("Account %s changed state: %s", n.AccountID, n.Status)
	}
}
