package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMTransport sends multicasts through Firebase Cloud Messaging.
type FCMTransport struct {
	client *messaging.Client
}

// NewFCMTransport creates an FCM client from a service account credentials
// file.
func NewFCMTransport(ctx context.Context, credentialsFile string) (*FCMTransport, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return &FCMTransport{client: client}, nil
}

// SendMulticast implements Transport.
func (t *FCMTransport) SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResponse, error) {
	resp, err := t.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("fcm multicast: %w", err)
	}

	out := &BatchResponse{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Responses:    make([]TokenResult, 0, len(resp.Responses)),
	}
	for i, r := range resp.Responses {
		tr := TokenResult{Token: tokens[i], MessageID: r.MessageID}
		if !r.Success {
			tr.Err = r.Error
			tr.Unregistered = messaging.IsUnregistered(r.Error)
		}
		out.Responses = append(out.Responses, tr)
	}
	return out, nil
}

// LoggingTransport accepts every token and logs the send. It stands in for
// FCM when no credentials are configured.
type LoggingTransport struct {
	logger *slog.Logger
}

// NewLoggingTransport creates a logging-only transport.
func NewLoggingTransport(logger *slog.Logger) *LoggingTransport {
	return &LoggingTransport{logger: logger.With("component", "push")}
}

// SendMulticast implements Transport.
func (t *LoggingTransport) SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResponse, error) {
	t.logger.Info("Push send (FCM disabled)",
		"tokens", len(tokens), "title", msg.Title, "body", msg.Body, "data", msg.Data)

	resp := &BatchResponse{SuccessCount: len(tokens), Responses: make([]TokenResult, len(tokens))}
	for i, tok := range tokens {
		resp.Responses[i] = TokenResult{Token: tok}
	}
	return resp, nil
}
