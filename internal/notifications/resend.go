package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/landandplot/notifier/internal/push"
)

// SendResult is the outcome of a manual resend.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SendNotification re-pushes a stored record to its owner's current
// devices. It returns ErrInvalidArgument for an empty id and ErrNotFound
// for an unknown record. A user without tokens is not an error.
func (p *Pipeline) SendNotification(ctx context.Context, notificationID string) (SendResult, error) {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return SendResult{}, fmt.Errorf("notificationId is required: %w", ErrInvalidArgument)
	}

	rec, err := p.records.Get(ctx, notificationID)
	if err != nil {
		return SendResult{}, err
	}

	tokens, err := p.records.UserTokens(ctx, rec.UserID)
	if err != nil {
		return SendResult{}, err
	}
	if len(tokens) == 0 {
		return SendResult{Success: false, Message: "No device tokens to send to."}, nil
	}

	msg := push.Message{
		Title: resendTitle(rec.Type),
		Body:  rec.Message,
		Data: map[string]string{
			"type":           rec.Type,
			"propertyId":     rec.PropertyID,
			"notificationId": notificationID,
		},
	}
	results := p.dispatcher.Dispatch(ctx, tokens, msg)
	sum := push.Summarize(results)

	logger := p.logger.With("notification_id", notificationID, "user_id", rec.UserID)
	if p.opts.PruneInvalidTokens && len(sum.Unregistered) > 0 {
		owners := make(map[string][]string, len(sum.Unregistered))
		for _, t := range sum.Unregistered {
			owners[t] = []string{rec.UserID}
		}
		p.prune(ctx, logger, sum.Unregistered, owners, &Report{})
	}

	if sum.Sent == 0 {
		logger.Warn("resend delivered to no device", "tokens", len(tokens), "failed", sum.Failed)
		return SendResult{Success: false, Message: fmt.Sprintf("Push failed for all %d device tokens.", len(tokens))}, nil
	}
	logger.Info("Notification resent", "sent", sum.Sent, "failed", sum.Failed)
	if !sum.OK() {
		return SendResult{Success: true, Message: fmt.Sprintf("Delivered to %d of %d device tokens.", sum.Sent, len(tokens))}, nil
	}
	return SendResult{Success: true}, nil
}
