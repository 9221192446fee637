// Package notification keeps the storefront's notification list and unread
// count, merging paginated history with live pushes.
package notification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/logger"
)

const DefaultPageSize = 10

type Gateway interface {
	ListNotifications(ctx context.Context, limit, offset int) (*domain.NotificationPage, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	Ack(ctx context.Context, id int64) error
}

type Store struct {
	mu       sync.Mutex
	items    []domain.Notification
	unread   int
	offset   int
	hasMore  bool
	loads    int
	pageSize int
	// gen changes on every refresh and reset; a page fetched under an
	// older gen is dropped.
	gen      uint64

	gw    Gateway
	toast func(domain.Notification)
	log   *zap.Logger
}

type Option func(*Store)

func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithToast registers the callback that surfaces a live notification.
func WithToast(f func(domain.Notification)) Option {
	return func(s *Store) { s.toast = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

func NewStore(gw Gateway, opts ...Option) *Store {
	s := &Store{gw: gw, pageSize: DefaultPageSize, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Items() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads > 0
}

// FetchNotifications replaces the list with the first page. It always
// fetches, and a LoadMore still in flight is discarded.
func (s *Store) FetchNotifications(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.loads++
	s.mu.Unlock()
	defer s.end()

	page, err := s.gw.ListNotifications(ctx, s.pageSize, 0)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.items = append([]domain.Notification(nil), page.Notifications...)
	s.offset = len(page.Notifications)
	s.hasMore = len(page.Notifications) == s.pageSize
	s.unread = countUnread(s.items)
	return nil
}

// LoadMore appends the next page. It does nothing while a load is running
// or once the last page came back short.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || s.loads > 0 {
		s.mu.Unlock()
		return nil
	}
	s.loads++
	gen, offset := s.gen, s.offset
	s.mu.Unlock()
	defer s.end()

	page, err := s.gw.ListNotifications(ctx, s.pageSize, offset)
	if err != nil {
		return fmt.Errorf("load more notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	for _, n := range page.Notifications {
		if indexOf(s.items, n.ID) >= 0 {
			continue
		}
		s.items = append(s.items, n)
		if !n.IsRead {
			s.unread++
		}
	}
	s.offset += len(page.Notifications)
	s.hasMore = len(page.Notifications) == s.pageSize
	return nil
}

// Receive handles a live push: the notification goes to the top of the
// list, the toast fires and delivery is acknowledged. Ack failures are
// logged, never returned.
func (s *Store) Receive(ctx context.Context, n domain.Notification) {
	s.mu.Lock()
	known := indexOf(s.items, n.ID) >= 0 && n.ID > 0
	if !known {
		s.items = append([]domain.Notification{n}, s.items...)
		if !n.IsRead {
			s.unread++
		}
	}
	s.mu.Unlock()

	if !known && s.toast != nil {
		s.toast(n)
	}

	if n.ID <= 0 {
		logger.WithContext(ctx, s.log).Warn("skipping ack for notification without valid id", zap.Int64("id", n.ID))
		return
	}
	if err := s.gw.Ack(ctx, n.ID); err != nil {
		logger.WithContext(ctx, s.log).Warn("notification ack failed", zap.Int64("id", n.ID), zap.Error(err))
	}
}

// MarkAsRead flips the notification locally, then confirms with the
// gateway. A failed confirmation is returned but the local flip stays.
func (s *Store) MarkAsRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	if i := indexOf(s.items, id); i >= 0 && !s.items[i].IsRead {
		s.items[i].IsRead = true
		s.unread--
	}
	s.mu.Unlock()

	if err := s.gw.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return nil
}

func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].IsRead = true
	}
	s.unread = 0
	s.mu.Unlock()

	if err := s.gw.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// Reset empties the store, used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.unread = 0
	s.offset = 0
	s.hasMore = false
	s.gen++
}

func (s *Store) end() {
	s.mu.Lock()
	s.loads--
	s.mu.Unlock()
}

func indexOf(items []domain.Notification, id int64) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func countUnread(items []domain.Notification) int {
	n := 0
	for _, item := range items {
		if !item.IsRead {
			n++
		}
	}
	return n
}
