package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fjod/go_cellar/internal/domain"
)

type notificationList struct {
	Notifications []json.RawMessage `json:"notifications"`
	Total         int               `json:"total"`
	HasMore       bool              `json:"hasMore"`
}

type ackRequest struct {
	NotificationID int64 `json:"notificationId"`
}

func (c *Client) ListNotifications(ctx context.Context, limit, offset int) (*domain.NotificationPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var list notificationList
	if err := c.do(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}

	page := &domain.NotificationPage{
		Notifications: make([]domain.Notification, 0, len(list.Notifications)),
		Total:         list.Total,
		HasMore:       list.HasMore,
	}
	for _, raw := range list.Notifications {
		n, err := DecodeNotification(raw)
		if err != nil {
			return nil, err
		}
		page.Notifications = append(page.Notifications, n)
	}
	return page, nil
}

func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/read-all", nil, nil)
}

// Ack confirms delivery of a pushed notification.
func (c *Client) Ack(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: ack id %d", domain.ErrValidation, id)
	}
	return c.do(ctx, http.MethodPost, "/sse/stream/ack", ackRequest{NotificationID: id}, nil)
}
