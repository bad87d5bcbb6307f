package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/landandplot/notifier/internal/api/respond"
	"github.com/landandplot/notifier/internal/payment"
)

// CreateOrder starts a gateway payment.
// @Summary Create a payment order
// @Description Signs and forwards a pay-page order to the payment gateway. Amount is in paise.
// @Tags payments
// @Accept json
// @Produce json
// @Param body body payment.OrderRequest true "Order"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 502 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/payments/orders [post]
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if !h.paymentsEnabled(w) {
		return
	}
	var req payment.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 || req.MerchantUserID == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "amount and merchantUserId are required")
		return
	}

	txnID, resp, err := h.gateway.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeGatewayError(w, "create order", err)
		return
	}
	if err := h.orders.SavePending(r.Context(), txnID, req.MerchantUserID, req.Amount); err != nil {
		h.logger.Error("failed to store pending order", "txn_id", txnID, "error", err)
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"merchantTransactionId": txnID,
		"gateway":               resp,
	})
}

// GetOrderStatus checks a transaction with the gateway.
// @Summary Get payment status
// @Description Returns the gateway's view of a merchant transaction.
// @Tags payments
// @Produce json
// @Param txnId path string true "Merchant transaction id"
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/v1/payments/orders/{txnId} [get]
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.paymentsEnabled(w) {
		return
	}
	resp, err := h.gateway.GetStatus(r.Context(), chi.URLParam(r, "txnId"))
	if err != nil {
		h.writeGatewayError(w, "get status", err)
		return
	}
	respond.WriteRawJSON(w, http.StatusOK, resp)
}

// PaymentWebhook receives server-to-server gateway callbacks.
// @Summary Payment gateway callback
// @Description Verifies the X-VERIFY signature over the base64 response field and records the order state.
// @Tags payments
// @Accept json
// @Produce json
// @Param X-VERIFY header string true "Gateway signature"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Router /payments/webhook [post]
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.paymentsEnabled(w) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Unreadable body")
		return
	}

	cb, err := payment.ParseCallback(r.Header.Get("X-VERIFY"), body, h.saltKey, h.saltIndex)
	if errors.Is(err, payment.ErrInvalidSignature) {
		h.logger.Warn("payment callback rejected", "remote", r.RemoteAddr)
		respond.WriteError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature verification failed")
		return
	}
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Malformed callback", err.Error())
		return
	}

	order, err := h.orders.ApplyCallback(r.Context(), cb)
	if err != nil {
		h.logger.Error("failed to record payment callback", "txn_id", cb.Data.MerchantTransactionID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Failed to record callback")
		return
	}
	h.logger.Info("Payment callback recorded",
		"txn_id", order.MerchantTransactionID,
		"state", order.State,
		"code", cb.Code)
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"received": true, "state": order.State})
}

func (h *Handler) paymentsEnabled(w http.ResponseWriter) bool {
	if h.gateway == nil || h.orders == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "PAYMENTS_DISABLED", "Payment gateway is not configured")
		return false
	}
	return true
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("payment gateway call failed", "op", op, "error", err)
	var gerr *payment.GatewayError
	if errors.As(err, &gerr) {
		respond.WriteErrorDetail(w, http.StatusBadGateway, "GATEWAY_ERROR", "Payment gateway rejected the request", string(gerr.Body))
		return
	}
	respond.WriteError(w, http.StatusBadGateway, "GATEWAY_ERROR", "Payment gateway unavailable")
}
