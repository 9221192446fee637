package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cellar/internal/domain"
)

// MaxQuantity caps a single cart line.
const MaxQuantity = 99

// redisRepository keeps each cart as a hash of productID -> item JSON.
type redisRepository struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisRepository stores carts that expire after ttl of inactivity, with
// up to five minutes of jitter so abandoned carts do not expire together.
func NewRedisRepository(client *redis.Client, ttl time.Duration) CartRepository {
	return &redisRepository{client: client, baseTTL: ttl}
}

func (r *redisRepository) GetCart(ctx context.Context, userID int64) ([]domain.CartItem, error) {
	fields, err := r.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCartNotFound
	}

	items := make([]domain.CartItem, 0, len(fields))
	for _, raw := range fields {
		var item domain.CartItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("unmarshal cart item failed: %w", err)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (r *redisRepository) AddItem(ctx context.Context, userID int64, item domain.CartItem) error {
	key := cartKey(userID)
	field := strconv.FormatInt(item.ProductID, 10)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, field).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing domain.CartItem
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("unmarshal cart item failed: %w", err)
			}
			item.Quantity += existing.Quantity
		}
		if item.Quantity > MaxQuantity {
			item.Quantity = MaxQuantity
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal cart item failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, r.ttl())
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}
	return nil
}

func (r *redisRepository) UpdateItemQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	key := cartKey(userID)
	field := strconv.FormatInt(productID, 10)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}
		var item domain.CartItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return fmt.Errorf("unmarshal cart item failed: %w", err)
		}
		item.Quantity = quantity
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal cart item failed: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, r.ttl())
			return nil
		})
		return err
	}, key)
	if errors.Is(err, ErrItemNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	return nil
}

func (r *redisRepository) RemoveItem(ctx context.Context, userID, productID int64) error {
	n, err := r.client.HDel(ctx, cartKey(userID), strconv.FormatInt(productID, 10)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *redisRepository) DeleteCart(ctx context.Context, userID int64) error {
	n, err := r.client.Del(ctx, cartKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *redisRepository) ttl() time.Duration {
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	return r.baseTTL + jitter
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}
