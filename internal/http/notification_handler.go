package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/notify"
	"github.com/fjod/go_cellar/pkg/logger"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

type NotificationHandler struct {
	hub *notify.Hub
	log *zap.Logger
}

func NewNotificationHandler(hub *notify.Hub, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{hub: hub, log: logger.OrNop(log)}
}

type AckRequestDTO struct {
	NotificationID int64 `json:"notificationId"`
}

type PushRequestDTO struct {
	UserID  int64                   `json:"userId"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Type    domain.NotificationType `json:"type"`
	LinkURL string                  `json:"linkUrl"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 50")
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		respondError(w, http.StatusBadRequest, "invalid_offset", "offset must not be negative")
		return
	}

	respondJSON(w, http.StatusOK, h.hub.List(userID, limit, offset))
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_notification_id", "id must be a positive integer")
		return
	}

	if err := h.hub.MarkRead(userID, id); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	h.hub.MarkAllRead(userID)
	w.WriteHeader(http.StatusNoContent)
}

// Ack records that the client received a pushed notification.
func (h *NotificationHandler) Ack(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AckRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.NotificationID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_notification_id", "notificationId must be positive")
		return
	}

	if err := h.hub.Ack(userID, req.NotificationID); err != nil {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Push creates a notification for any user. Admin only.
func (h *NotificationHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req PushRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID <= 0 || req.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "userId and title are required")
		return
	}
	switch req.Type {
	case "", domain.NotificationTypeOrder, domain.NotificationTypePromo, domain.NotificationTypeSystem:
	default:
		respondError(w, http.StatusBadRequest, "invalid_type", "type must be order, promo or system")
		return
	}

	n := h.hub.Push(req.UserID, domain.Notification{
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		LinkURL: req.LinkURL,
	})
	h.log.Info("notification pushed",
		zap.String("request_id", getRequestID(r.Context())),
		zap.Int64("user_id", req.UserID),
		zap.Int64("notification_id", n.ID))
	respondJSON(w, http.StatusCreated, n)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
