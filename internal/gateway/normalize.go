package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
)

// The gateway is inconsistent about field casing between its listing,
// its SSE payloads and older deployments. Every spelling is resolved here
// and nowhere else.
var (
	idKeys        = []string{"NotificationID", "notificationId", "notification_id", "id", "ID"}
	titleKeys     = []string{"Title", "title"}
	messageKeys   = []string{"Message", "message", "Content", "content"}
	isReadKeys    = []string{"IsRead", "isRead", "is_read"}
	createdAtKeys = []string{"CreatedAt", "createdAt", "created_at"}
	typeKeys      = []string{"Type", "type"}
	linkKeys      = []string{"linkUrl", "LinkURL", "link_url"}
)

// DecodeNotification maps a gateway notification payload in any of its
// known shapes onto domain.Notification.
func DecodeNotification(data []byte) (domain.Notification, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: notification payload: %v", domain.ErrValidation, err)
	}

	// SSE envelopes nest the notification under "data".
	if _, ok := first(fields, idKeys); !ok {
		if inner, ok := fields["data"]; ok && len(inner) > 0 && inner[0] == '{' {
			return DecodeNotification(inner)
		}
	}

	var n domain.Notification
	if raw, ok := first(fields, idKeys); ok {
		id, err := decodeID(raw)
		if err != nil {
			return domain.Notification{}, err
		}
		n.ID = id
	}
	n.Title = decodeString(fields, titleKeys)
	n.Message = decodeString(fields, messageKeys)
	n.Type = domain.NotificationType(decodeString(fields, typeKeys))
	n.LinkURL = decodeString(fields, linkKeys)
	if raw, ok := first(fields, isReadKeys); ok {
		n.IsRead = decodeTruthy(raw)
	}
	if ts := decodeString(fields, createdAtKeys); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			n.CreatedAt = t
		}
	}
	return n, nil
}

func first(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func decodeString(fields map[string]json.RawMessage, keys []string) string {
	raw, ok := first(fields, keys)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// decodeTruthy reads a read flag the way the web client does: false, 0 and
// "" are unread, other scalars are read. Other shapes are logged and
// treated as unread.
func decodeTruthy(raw json.RawMessage) bool {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("undecodable notification read flag", zap.ByteString("raw", raw), zap.Error(err))
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != ""
	default:
		zap.L().Warn("unexpected notification read flag", zap.ByteString("raw", raw))
		return false
	}
}

func decodeID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			return id, nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: notification id %s", domain.ErrValidation, string(raw))
}
