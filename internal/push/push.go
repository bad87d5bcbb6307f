// Package push delivers notification payloads to device registration tokens.
//
// A Dispatcher splits a token list into provider-sized chunks and sends each
// chunk through a Transport independently: one failing chunk never stops the
// others, and the per-chunk outcome is returned instead of an error.
package push

import "context"

//go:generate mockgen -destination=../mocks/push_mock.go -package=mocks github.com/landandplot/notifier/internal/push Transport

// MaxMulticastTokens is the provider limit on tokens per multicast send.
const MaxMulticastTokens = 500

// Message is the visible notification plus its data payload.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// TokenResult is the delivery outcome for one token of a multicast.
type TokenResult struct {
	Token     string
	MessageID string
	Err       error
	// Unregistered marks a definitive "token no longer valid" response.
	Unregistered bool
}

// BatchResponse is the per-token outcome of one multicast send.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []TokenResult
}

// Transport sends one multicast of at most MaxMulticastTokens tokens. An
// error means the whole send failed; per-token rejections are reported in
// the response.
type Transport interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResponse, error)
}
