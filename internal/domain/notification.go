package domain

import "time"

type NotificationType string

const (
	NotificationTypeOrder  NotificationType = "order"
	NotificationTypePromo  NotificationType = "promo"
	NotificationTypeSystem NotificationType = "system"
)

type Notification struct {
	ID        int64            `json:"NotificationID"`
	Title     string           `json:"Title"`
	Message   string           `json:"Message"`
	IsRead    bool             `json:"IsRead"`
	CreatedAt time.Time        `json:"CreatedAt"`
	Type      NotificationType `json:"Type"`
	LinkURL   string           `json:"linkUrl,omitempty"`
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"hasMore"`
}
