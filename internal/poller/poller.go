// Package poller consumes checkout events and turns them into cart
// clears and order notifications.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/logger"
)

const (
	eventTypeHeader   = "event_type"
	checkoutCompleted = "CheckoutCompleted"
	consumerGroup     = "storefront-gateway"
)

// readRetryDelay is the pause after a failed fetch.
var readRetryDelay = time.Second

// MessageReader is the subset of *kafka.Reader the poller uses. Offsets
// are committed explicitly so a message whose cart clear failed is
// delivered again.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID int64) error
}

type Notifier interface {
	Push(userID int64, n domain.Notification) domain.Notification
}

// CheckoutCompletedEvent is the outbox payload published on checkout.
// user_id arrives as a string from some producers and a number from others.
type CheckoutCompletedEvent struct {
	CheckoutID  string          `json:"checkout_id"`
	UserID      json.RawMessage `json:"user_id"`
	TotalAmount float64         `json:"total_amount"`
	Currency    string          `json:"currency"`
}

type Poller struct {
	reader   MessageReader
	carts    CartClearer
	notifier Notifier
	log      *zap.Logger

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// NewKafkaReader builds the reader for topic on brokers.
func NewKafkaReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  consumerGroup,
		MaxBytes: 10e6, // 10MB
	})
}

func NewPoller(reader MessageReader, carts CartClearer, notifier Notifier, log *zap.Logger) *Poller {
	return &Poller{
		reader:   reader,
		carts:    carts,
		notifier: notifier,
		log:      logger.OrNop(log),
		seen:     make(map[uuid.UUID]struct{}),
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.processMessage(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (p *Poller) processMessage(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("error reading message", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(readRetryDelay):
		}
		return
	}

	if t := header(m, eventTypeHeader); t != "" && t != checkoutCompleted {
		p.log.Debug("skipping event", zap.String("event_type", t))
		p.commit(ctx, m)
		return
	}

	err = p.handle(ctx, m.Value)
	var retry *retryableError
	if errors.As(err, &retry) {
		p.log.Warn("checkout event left uncommitted", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if err != nil {
		p.log.Warn("checkout event dropped", zap.Int64("offset", m.Offset), zap.Error(err))
	}
	p.commit(ctx, m)
}

func (p *Poller) commit(ctx context.Context, m kafka.Message) {
	if err := p.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		p.log.Warn("failed to commit message", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// retryableError marks a failure worth redelivering the message for.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (p *Poller) handle(ctx context.Context, value []byte) error {
	var event CheckoutCompletedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	checkoutID, err := uuid.Parse(event.CheckoutID)
	if err != nil {
		return fmt.Errorf("invalid checkout_id %q: %w", event.CheckoutID, err)
	}
	userID, err := parseUserID(event.UserID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	_, dup := p.seen[checkoutID]
	p.mu.Unlock()
	if dup {
		p.log.Info("checkout already processed, skipping", zap.String("checkout_id", checkoutID.String()))
		return nil
	}

	if err := p.carts.ClearCart(ctx, userID); err != nil {
		return &retryableError{fmt.Errorf("clear cart for user %d: %w", userID, err)}
	}

	p.mu.Lock()
	p.seen[checkoutID] = struct{}{}
	p.mu.Unlock()

	n := p.notifier.Push(userID, domain.Notification{
		Title:   "Order confirmed",
		Message: orderMessage(event),
		Type:    domain.NotificationTypeOrder,
		LinkURL: "/account/orders/" + checkoutID.String(),
	})
	p.log.Info("checkout completed",
		zap.String("checkout_id", checkoutID.String()),
		zap.Int64("user_id", userID),
		zap.Int64("notification_id", n.ID))
	return nil
}

func parseUserID(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user_id %s", raw)
	}
	return id, nil
}

func orderMessage(e CheckoutCompletedEvent) string {
	if e.TotalAmount <= 0 {
		return "Your order has been placed."
	}
	currency := e.Currency
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("Your order of %.2f %s has been placed.", e.TotalAmount, currency)
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
