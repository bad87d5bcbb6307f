package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/landandplot/notifier/internal/api/respond"
	"github.com/landandplot/notifier/internal/notifications"
	"github.com/landandplot/notifier/internal/payment"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeNotifier struct {
	changes []notifications.DocumentChange
	results map[string]notifications.SendResult
}

func (f *fakeNotifier) Handle(_ context.Context, c notifications.DocumentChange) *notifications.Report {
	f.changes = append(f.changes, c)
	return &notifications.Report{ListingID: c.DocumentID, Version: c.Version, Events: 1}
}

func (f *fakeNotifier) SendNotification(_ context.Context, id string) (notifications.SendResult, error) {
	if strings.TrimSpace(id) == "" {
		return notifications.SendResult{}, fmt.Errorf("notificationId is required: %w", notifications.ErrInvalidArgument)
	}
	if id == "boom" {
		return notifications.SendResult{}, errors.New("store offline")
	}
	res, ok := f.results[id]
	if !ok {
		return notifications.SendResult{}, notifications.ErrNotFound
	}
	return res, nil
}

type fakeGateway struct {
	err error
}

func (g *fakeGateway) CreateOrder(_ context.Context, in payment.OrderRequest) (string, json.RawMessage, error) {
	if g.err != nil {
		return "", nil, g.err
	}
	return "txn-1", json.RawMessage(`{"success":true}`), nil
}

func (g *fakeGateway) GetStatus(_ context.Context, txnID string) (json.RawMessage, error) {
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(`{"txn":"` + txnID + `"}`), nil
}

type fakeOrders struct {
	pending   []string
	callbacks []payment.Callback
}

func (o *fakeOrders) SavePending(_ context.Context, txnID, _ string, _ int64) error {
	o.pending = append(o.pending, txnID)
	return nil
}

func (o *fakeOrders) ApplyCallback(_ context.Context, cb payment.Callback) (payment.Order, error) {
	o.callbacks = append(o.callbacks, cb)
	return payment.Order{MerchantTransactionID: cb.Data.MerchantTransactionID, State: payment.StateCompleted}, nil
}

func do(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp respond.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Code
}

func TestSendNotification(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{results: map[string]notifications.SendResult{
		"n1": {Success: true},
		"n2": {Success: false, Message: "No device tokens to send to."},
	}}
	h := New(Deps{Notifier: n, Logger: discard})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"delivered", `{"notificationId":"n1"}`, http.StatusOK, ""},
		{"no tokens", `{"notificationId":"n2"}`, http.StatusOK, ""},
		{"missing id", `{}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"malformed", `{`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown", `{"notificationId":"nope"}`, http.StatusNotFound, "NOT_FOUND"},
		{"store failure", `{"notificationId":"boom"}`, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, h.SendNotification, http.MethodPost, "/api/v1/notifications/send", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.code != "" {
				if got := errorCode(t, rec); got != tt.code {
					t.Errorf("error code = %q, want %q", got, tt.code)
				}
			}
		})
	}

	rec := do(t, h.SendNotification, http.MethodPost, "/", `{"notificationId":"n2"}`)
	var res notifications.SendResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.Message != "No device tokens to send to." {
		t.Errorf("result = %+v", res)
	}
}

func TestTriggerListing(t *testing.T) {
	t.Parallel()

	t.Run("update", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{}
		h := New(Deps{Notifier: n, Logger: discard})
		body := `{"documentId":"p1","eventId":"evt-7","eventTimestamp":"2025-03-01T10:00:00Z",
			"previousState":{"assignedAgentIds":["a1"]},"newState":{"assignedAgentIds":["a1","a2"]}}`

		rec := do(t, h.TriggerListing, http.MethodPost, "/api/v1/triggers/listings", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
		}
		if len(n.changes) != 1 {
			t.Fatalf("handled %d changes", len(n.changes))
		}
		c := n.changes[0]
		if c.IsCreate() || c.Version != "evt-7" || len(c.Current.AssignedAgentIDs) != 2 || c.Current.ID != "p1" {
			t.Errorf("change = %+v", c)
		}
		if c.EventTimestamp.Hour() != 10 {
			t.Errorf("event timestamp = %v", c.EventTimestamp)
		}

		var rep notifications.Report
		if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if rep.ListingID != "p1" || rep.Events != 1 {
			t.Errorf("report = %+v", &rep)
		}
	})

	t.Run("null previous state is a create", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{}
		h := New(Deps{Notifier: n, Logger: discard})
		rec := do(t, h.TriggerListing, http.MethodPost, "/", `{"documentId":"p2","previousState":null,"newState":{"city":"Pune"}}`)
		if rec.Code != http.StatusOK || len(n.changes) != 1 || !n.changes[0].IsCreate() {
			t.Errorf("status = %d, changes = %+v", rec.Code, n.changes)
		}
	})

	for name, body := range map[string]string{
		"missing document id": `{"newState":{}}`,
		"missing new state":   `{"documentId":"p1"}`,
		"bad timestamp":       `{"documentId":"p1","newState":{},"eventTimestamp":"yesterday"}`,
		"bad state":           `{"documentId":"p1","newState":{"buyers":"many"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			n := &fakeNotifier{}
			h := New(Deps{Notifier: n, Logger: discard})
			rec := do(t, h.TriggerListing, http.MethodPost, "/", body)
			if rec.Code != http.StatusBadRequest || len(n.changes) != 0 {
				t.Errorf("status = %d, handled %d", rec.Code, len(n.changes))
			}
		})
	}
}

func TestPaymentsDisabled(t *testing.T) {
	t.Parallel()

	h := New(Deps{Notifier: &fakeNotifier{}, Logger: discard})
	rec := do(t, h.CreateOrder, http.MethodPost, "/", `{"amount":100,"merchantUserId":"u1"}`)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "PAYMENTS_DISABLED" {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	orders := &fakeOrders{}
	h := New(Deps{Gateway: &fakeGateway{}, Orders: orders, Logger: discard})

	rec := do(t, h.CreateOrder, http.MethodPost, "/", `{"amount":49900,"merchantUserId":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if len(orders.pending) != 1 || orders.pending[0] != "txn-1" {
		t.Errorf("pending orders = %v", orders.pending)
	}

	rec = do(t, h.CreateOrder, http.MethodPost, "/", `{"merchantUserId":"u1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero amount status = %d", rec.Code)
	}
}

func TestGatewayFailure(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{err: &payment.GatewayError{StatusCode: 401, Body: json.RawMessage(`{"code":"UNAUTHORIZED"}`)}}
	h := New(Deps{Gateway: gw, Orders: &fakeOrders{}, Logger: discard})

	r := chi.NewRouter()
	r.Get("/orders/{txnId}", h.GetOrderStatus)
	req := httptest.NewRequest(http.MethodGet, "/orders/txn-9", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway || errorCode(t, rec) != "GATEWAY_ERROR" {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetOrderStatus(t *testing.T) {
	t.Parallel()

	h := New(Deps{Gateway: &fakeGateway{}, Orders: &fakeOrders{}, Logger: discard})
	r := chi.NewRouter()
	r.Get("/orders/{txnId}", h.GetOrderStatus)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/txn-9", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"txn":"txn-9"}` {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestPaymentWebhook(t *testing.T) {
	t.Parallel()

	response := base64.StdEncoding.EncodeToString([]byte(`{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"txn-1"}}`))
	body := `{"response":"` + response + `"}`

	newHandler := func() (*Handler, *fakeOrders) {
		orders := &fakeOrders{}
		return New(Deps{Gateway: &fakeGateway{}, Orders: orders, SaltKey: "salt", SaltIndex: "1", Logger: discard}), orders
	}

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()

		h, orders := newHandler()
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
		req.Header.Set("X-VERIFY", payment.XVerify(response, "", "salt", "1"))
		rec := httptest.NewRecorder()
		h.PaymentWebhook(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
		}
		if len(orders.callbacks) != 1 || orders.callbacks[0].Data.MerchantTransactionID != "txn-1" {
			t.Errorf("callbacks = %+v", orders.callbacks)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()

		h, orders := newHandler()
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
		req.Header.Set("X-VERIFY", payment.XVerify(response, "", "wrong", "1"))
		rec := httptest.NewRecorder()
		h.PaymentWebhook(rec, req)

		if rec.Code != http.StatusUnauthorized || len(orders.callbacks) != 0 {
			t.Errorf("status = %d, callbacks = %d", rec.Code, len(orders.callbacks))
		}
	})
}

func TestHealthCheckStore(t *testing.T) {
	t.Parallel()

	down := New(Deps{Health: func(context.Context) error { return errors.New("down") }, Logger: discard})
	if rec := do(t, down.HealthCheckStore, http.MethodGet, "/health/store", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}

	up := New(Deps{Health: func(context.Context) error { return nil }, Logger: discard})
	if rec := do(t, up.HealthCheckStore, http.MethodGet, "/health/store", ""); rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}
}
