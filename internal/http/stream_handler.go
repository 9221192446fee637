package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/notify"
	"github.com/fjod/go_cellar/pkg/logger"
)

// StreamHandler serves the per-user SSE notification stream.
type StreamHandler struct {
	hub       *notify.Hub
	heartbeat time.Duration
	log       *zap.Logger
}

func NewStreamHandler(hub *notify.Hub, heartbeat time.Duration, log *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, heartbeat: heartbeat, log: logger.OrNop(log)}
}

// streamNotification is the push shape, which differs in casing from the
// listing endpoint.
type streamNotification struct {
	NotificationID int64                   `json:"notificationId"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	IsRead         bool                    `json:"isRead"`
	CreatedAt      time.Time               `json:"createdAt"`
	Type           domain.NotificationType `json:"type"`
	LinkURL        string                  `json:"linkUrl,omitempty"`
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	connID, ch, cancel := h.hub.Subscribe(userID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := h.log.With(zap.Int64("user_id", userID), zap.String("connection_id", connID))
	log.Info("stream opened")
	defer log.Info("stream closed")

	if err := writeEvent(w, "connected", map[string]string{"connectionId": connID}); err != nil {
		return
	}
	for _, n := range h.hub.Unacked(userID) {
		if err := writeEvent(w, "notification", toStream(n)); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-ch:
			if err := writeEvent(w, "notification", toStream(n)); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case t := <-ticker.C:
			if err := writeEvent(w, "heartbeat", map[string]int64{"ts": t.Unix()}); err != nil {
				log.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func toStream(n domain.Notification) streamNotification {
	return streamNotification{
		NotificationID: n.ID,
		Title:          n.Title,
		Message:        n.Message,
		IsRead:         n.IsRead,
		CreatedAt:      n.CreatedAt,
		Type:           n.Type,
		LinkURL:        n.LinkURL,
	}
}
