// Package handler provides HTTP handlers for all API endpoints.
// Handlers call the notification pipeline and the payment gateway directly;
// there is no service layer in between.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/landandplot/notifier/internal/api/respond"
	"github.com/landandplot/notifier/internal/notifications"
	"github.com/landandplot/notifier/internal/payment"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Notifier is the pipeline surface the handlers drive.
type Notifier interface {
	Handle(ctx context.Context, change notifications.DocumentChange) *notifications.Report
	SendNotification(ctx context.Context, notificationID string) (notifications.SendResult, error)
}

// Gateway is the payment provider client.
type Gateway interface {
	CreateOrder(ctx context.Context, in payment.OrderRequest) (string, json.RawMessage, error)
	GetStatus(ctx context.Context, txnID string) (json.RawMessage, error)
}

// Orders tracks payment orders.
type Orders interface {
	SavePending(ctx context.Context, txnID, merchantUserID string, amount int64) error
	ApplyCallback(ctx context.Context, cb payment.Callback) (payment.Order, error)
}

// Deps are the handler dependencies. Gateway and Orders may be nil when
// payments are not configured.
type Deps struct {
	Notifier  Notifier
	Gateway   Gateway
	Orders    Orders
	SaltKey   string
	SaltIndex string
	// Health checks the document store.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	notifier  Notifier
	gateway   Gateway
	orders    Orders
	saltKey   string
	saltIndex string
	health    func(ctx context.Context) error
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		notifier:  d.Notifier,
		gateway:   d.Gateway,
		orders:    d.Orders,
		saltKey:   d.SaltKey,
		saltIndex: d.SaltIndex,
		health:    d.Health,
		logger:    logger.With("component", "api"),
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Listing Notifier API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies document store connectivity.
// @Summary Document store health check
// @Description Verifies the configured document store is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("store health check failed", "error", err)
			respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "unhealthy",
				"store":     "disconnected",
				"error":     "Store connection check failed",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"store":     "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody decodes a size-limited JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Malformed JSON body", err.Error())
		return false
	}
	return true
}
