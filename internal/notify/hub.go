// Package notify stores per-user notifications for the reference gateway
// and fans live ones out to open SSE streams.
package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/logger"
)

const (
	// Retention is how long a notification is kept before cleanup drops it.
	Retention = 30 * 24 * time.Hour

	// CleanupInterval is how often the background cleanup runs.
	CleanupInterval = time.Hour

	subscriberBuffer = 16
)

var ErrNotFound = errors.New("notification not found")

type entry struct {
	n     domain.Notification
	acked bool
}

// Hub is an in-memory notification store with live subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	byUser map[int64][]*entry // newest first
	subs   map[int64]map[string]chan domain.Notification

	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	log         *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	h := &Hub{
		byUser:      make(map[int64][]*entry),
		subs:        make(map[int64]map[string]chan domain.Notification),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		log:         logger.OrNop(log),
	}

	h.wg.Add(1)
	go h.cleanupLoop()

	return h
}

func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCleanup) })
	h.wg.Wait()
}

func (h *Hub) cleanupLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.expire()
		case <-h.stopCleanup:
			return
		}
	}
}

// expire drops notifications older than Retention.
func (h *Hub) expire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-Retention)
	for userID, entries := range h.byUser {
		kept := entries[:0]
		for _, e := range entries {
			if e.n.CreatedAt.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(h.byUser, userID)
			continue
		}
		h.byUser[userID] = kept
	}
}

// Push stores n for userID, assigning id and timestamp, and delivers it to
// every open stream of that user. Slow streams miss the live copy and get it
// on their next connect as an unacked notification.
func (h *Hub) Push(userID int64, n domain.Notification) domain.Notification {
	h.mu.Lock()
	h.nextID++
	n.ID = h.nextID
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = h.now().UTC()
	}
	if n.Type == "" {
		n.Type = domain.NotificationTypeSystem
	}
	h.byUser[userID] = append([]*entry{{n: n}}, h.byUser[userID]...)

	subs := make([]chan domain.Notification, 0, len(h.subs[userID]))
	for _, ch := range h.subs[userID] {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			h.log.Warn("subscriber buffer full, dropping live notification",
				zap.Int64("user_id", userID), zap.Int64("notification_id", n.ID))
		}
	}
	return n
}

func (h *Hub) List(userID int64, limit, offset int) domain.NotificationPage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := h.byUser[userID]
	page := domain.NotificationPage{Notifications: []domain.Notification{}, Total: len(entries)}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return page
	}
	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	for _, e := range entries[offset:end] {
		page.Notifications = append(page.Notifications, e.n)
	}
	page.HasMore = end < len(entries)
	return page
}

func (h *Hub) MarkRead(userID, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.find(userID, id)
	if e == nil {
		return ErrNotFound
	}
	e.n.IsRead = true
	return nil
}

func (h *Hub) MarkAllRead(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.byUser[userID] {
		e.n.IsRead = true
	}
}

// Ack records delivery of id to the user's client.
func (h *Hub) Ack(userID, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.find(userID, id)
	if e == nil {
		return ErrNotFound
	}
	e.acked = true
	return nil
}

// Unacked returns notifications never acknowledged, oldest first.
func (h *Hub) Unacked(userID int64) []domain.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []domain.Notification
	entries := h.byUser[userID]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].acked {
			out = append(out, entries[i].n)
		}
	}
	return out
}

// Subscribe registers a live stream for userID. The returned cancel must be
// called when the stream ends.
func (h *Hub) Subscribe(userID int64) (string, <-chan domain.Notification, func()) {
	id := uuid.New().String()
	ch := make(chan domain.Notification, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]chan domain.Notification)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
}

func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) find(userID, id int64) *entry {
	for _, e := range h.byUser[userID] {
		if e.n.ID == id {
			return e
		}
	}
	return nil
}
