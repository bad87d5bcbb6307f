package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:     srv.URL,
		MerchantID:  "MERCHANT",
		SaltKey:     "salt",
		SaltIndex:   "1",
		CallbackURL: "https://example.test/payments/webhook",
		RatePerSec:  100,
	}, discard)
	c.newTxnID = func() string { return "txn-1" }
	return c
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	var got payRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != payPath {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var envelope struct {
			Request string `json:"request"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if want := XVerify(envelope.Request, payPath, "salt", "1"); r.Header.Get("X-VERIFY") != want {
			t.Errorf("X-VERIFY = %q, want %q", r.Header.Get("X-VERIFY"), want)
		}
		if r.Header.Get("X-MERCHANT-ID") != "MERCHANT" {
			t.Errorf("X-MERCHANT-ID = %q", r.Header.Get("X-MERCHANT-ID"))
		}
		raw, _ := base64.StdEncoding.DecodeString(envelope.Request)
		_ = json.Unmarshal(raw, &got)
		w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED"}`))
	})

	txnID, resp, err := c.CreateOrder(t.Context(), OrderRequest{Amount: 49900, MerchantUserID: "u1"})
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	if txnID != "txn-1" || string(resp) != `{"success":true,"code":"PAYMENT_INITIATED"}` {
		t.Errorf("CreateOrder() = %q, %s", txnID, resp)
	}
	if got.MerchantTransactionID != "txn-1" || got.Amount != 49900 || got.PaymentInstrument.Type != "PAY_PAGE" {
		t.Errorf("pay request = %+v", got)
	}
	if got.CallbackURL != "https://example.test/payments/webhook" {
		t.Errorf("callbackUrl = %q, want configured default", got.CallbackURL)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("gateway called for invalid order")
	})
	if _, _, err := c.CreateOrder(t.Context(), OrderRequest{MerchantUserID: "u1"}); err == nil {
		t.Error("CreateOrder(amount 0) error = nil")
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	const path = statusPath + "/MERCHANT/txn-9"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("path = %q", r.URL.Path)
		}
		if want := XVerify("", path, "salt", "1"); r.Header.Get("X-VERIFY") != want {
			t.Errorf("X-VERIFY = %q, want %q", r.Header.Get("X-VERIFY"), want)
		}
		w.Write([]byte(`{"code":"PAYMENT_SUCCESS"}`))
	})

	resp, err := c.GetStatus(t.Context(), "txn-9")
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	if string(resp) != `{"code":"PAYMENT_SUCCESS"}` {
		t.Errorf("GetStatus() = %s", resp)
	}
}

func TestGatewayError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad merchant", http.StatusUnauthorized)
	})

	_, err := c.GetStatus(t.Context(), "txn-9")
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GetStatus() error = %v, want 401 GatewayError", err)
	}
	var body string
	if err := json.Unmarshal(gerr.Body, &body); err != nil || body != "bad merchant\n" {
		t.Errorf("error body = %s", gerr.Body)
	}
}
