package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/landandplot/notifier/internal/docstore"
)

// Orders is the collection payment orders are tracked in.
const Orders = "orders"

// Order states.
const (
	StatePending   = "PENDING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Callback is the decoded server-to-server callback body.
type Callback struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
	} `json:"data"`
}

// ParseCallback verifies the X-VERIFY header over the base64 response
// field of body and decodes it.
func ParseCallback(xVerify string, body []byte, saltKey, saltIndex string) (Callback, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		return Callback{}, fmt.Errorf("callback body must carry a base64 response field")
	}
	if err := VerifyCallback(xVerify, envelope.Response, saltKey, saltIndex); err != nil {
		return Callback{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		return Callback{}, fmt.Errorf("decode callback response: %w", err)
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Callback{}, fmt.Errorf("parse callback response: %w", err)
	}
	return cb, nil
}

// Order is the tracked state of one transaction.
type Order struct {
	MerchantTransactionID string    `json:"merchantTransactionId"`
	MerchantUserID        string    `json:"merchantUserId,omitempty"`
	Amount                int64     `json:"amount"`
	State                 string    `json:"state"`
	GatewayTransactionID  string    `json:"transactionId,omitempty"`
	ResponseCode          string    `json:"responseCode,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Final reports whether the order reached a state no callback may change.
func (o Order) Final() bool {
	return o.State == StateCompleted || o.State == StateFailed
}

// OrderStore tracks orders in the document store.
type OrderStore struct {
	store docstore.Store
	now   func() time.Time
}

// NewOrderStore creates an OrderStore over s.
func NewOrderStore(s docstore.Store) *OrderStore {
	return &OrderStore{store: s, now: time.Now}
}

// SavePending records a newly created order.
func (o *OrderStore) SavePending(ctx context.Context, txnID, merchantUserID string, amount int64) error {
	return o.put(ctx, Order{
		MerchantTransactionID: txnID,
		MerchantUserID:        merchantUserID,
		Amount:                amount,
		State:                 StatePending,
	})
}

// ApplyCallback moves an order to the state a callback reports. Callbacks
// for unknown transactions create the order. COMPLETED and FAILED are
// final: later callbacks return the stored order unchanged.
func (o *OrderStore) ApplyCallback(ctx context.Context, cb Callback) (Order, error) {
	txnID := cb.Data.MerchantTransactionID
	if txnID == "" {
		return Order{}, fmt.Errorf("callback without merchantTransactionId")
	}

	order, err := o.Get(ctx, txnID)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return Order{}, err
	}
	if order.Final() {
		return order, nil
	}
	order.MerchantTransactionID = txnID
	order.GatewayTransactionID = cb.Data.TransactionID
	order.ResponseCode = cb.Data.ResponseCode
	if cb.Data.Amount > 0 {
		order.Amount = cb.Data.Amount
	}
	order.State = callbackState(cb)

	if err := o.put(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Get loads an order by merchant transaction id.
func (o *OrderStore) Get(ctx context.Context, txnID string) (Order, error) {
	doc, err := o.store.Get(ctx, Orders, txnID)
	if err != nil {
		return Order{}, err
	}
	var order Order
	if err := json.Unmarshal(doc.Data, &order); err != nil {
		return Order{}, fmt.Errorf("decode order %s: %w", txnID, err)
	}
	return order, nil
}

func (o *OrderStore) put(ctx context.Context, order Order) error {
	order.UpdatedAt = o.now().UTC()
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return docstore.Put(ctx, o.store, Orders, order.MerchantTransactionID, data)
}

func callbackState(cb Callback) string {
	switch cb.Data.State {
	case StateCompleted, StateFailed, StatePending:
		return cb.Data.State
	}
	if cb.Success && cb.Code == "PAYMENT_SUCCESS" {
		return StateCompleted
	}
	if cb.Code == "PAYMENT_PENDING" {
		return StatePending
	}
	return StateFailed
}
