package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/landandplot/notifier/internal/api/respond"
	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/notifications"
)

// SendNotificationRequest is the body of a manual resend.
type SendNotificationRequest struct {
	NotificationID string `json:"notificationId"`
}

// SendNotification re-pushes a stored notification record.
// @Summary Resend a notification
// @Description Pushes an existing notification record to its owner's current devices.
// @Tags notifications
// @Accept json
// @Produce json
// @Param body body SendNotificationRequest true "Notification to resend"
// @Success 200 {object} notifications.SendResult
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/notifications/send [post]
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.notifier.SendNotification(r.Context(), req.NotificationID)
	switch {
	case errors.Is(err, notifications.ErrInvalidArgument):
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "notificationId is required")
		return
	case errors.Is(err, notifications.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Notification not found")
		return
	case err != nil:
		h.logger.Error("resend failed", "notification_id", req.NotificationID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Failed to send notification")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, res)
}

// ListingTriggerRequest delivers one listing change over HTTP.
type ListingTriggerRequest struct {
	DocumentID     string          `json:"documentId"`
	PreviousState  json.RawMessage `json:"previousState,omitempty"`
	NewState       json.RawMessage `json:"newState"`
	EventTimestamp string          `json:"eventTimestamp,omitempty"`
	EventID        string          `json:"eventId,omitempty"`
}

// toChange validates the request and converts it to a DocumentChange.
// A missing or null previousState marks a creation.
func (req ListingTriggerRequest) toChange() (notifications.DocumentChange, error) {
	id := strings.TrimSpace(req.DocumentID)
	if id == "" {
		return notifications.DocumentChange{}, errors.New("documentId is required")
	}
	if isNull(req.NewState) {
		return notifications.DocumentChange{}, errors.New("newState is required")
	}

	current, err := model.DecodeListing(id, req.NewState)
	if err != nil {
		return notifications.DocumentChange{}, err
	}
	change := notifications.DocumentChange{
		DocumentID: id,
		Current:    current,
		Version:    strings.TrimSpace(req.EventID),
	}
	if !isNull(req.PreviousState) {
		prev, err := model.DecodeListing(id, req.PreviousState)
		if err != nil {
			return notifications.DocumentChange{}, err
		}
		change.Previous = &prev
	}
	if req.EventTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.EventTimestamp)
		if err != nil {
			return notifications.DocumentChange{}, errors.New("eventTimestamp must be RFC 3339")
		}
		change.EventTimestamp = ts.UTC()
	}
	return change, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// TriggerListing runs the notification pipeline for one listing change.
// @Summary Deliver a listing change
// @Description Detects events between previousState and newState and fans notifications out synchronously. Omit previousState for a new listing. Redelivering the same eventId is idempotent.
// @Tags triggers
// @Accept json
// @Produce json
// @Param body body ListingTriggerRequest true "Listing change"
// @Success 200 {object} notifications.Report
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/triggers/listings [post]
func (h *Handler) TriggerListing(w http.ResponseWriter, r *http.Request) {
	var req ListingTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := req.toChange()
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	rep := h.notifier.Handle(r.Context(), change)
	respond.WriteJSONObject(w, http.StatusOK, rep)
}
