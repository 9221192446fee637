// Package service holds the reference gateway's cart rules on top of the
// repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/repository"
	"github.com/fjod/go_cellar/pkg/logger"
)

var ErrInvalidQuantity = errors.New("quantity must be between 1 and 99")

type CartService struct {
	repo    repository.CartRepository
	catalog repository.Catalog
	sfg     singleflight.Group // collapses concurrent reads of one cart
	log     *zap.Logger
}

func NewCartService(repo repository.CartRepository, catalog repository.Catalog, log *zap.Logger) *CartService {
	return &CartService{
		repo:    repo,
		catalog: catalog,
		log:     logger.OrNop(log),
	}
}

// GetCart returns the user's items; a missing cart is an empty one.
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]domain.CartItem, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return s.load(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return domain.CloneItems(v.([]domain.CartItem)), nil
}

func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) ([]domain.CartItem, error) {
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return nil, err
	}

	item := domain.CartItem{ProductID: productID, Product: product, Quantity: quantity}
	if err := s.repo.AddItem(ctx, userID, item); err != nil {
		logger.WithContext(ctx, s.log).Error("repo add item failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return s.load(ctx, userID)
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID int64, quantity int) ([]domain.CartItem, error) {
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateItemQuantity(ctx, userID, productID, quantity); err != nil {
		if !errors.Is(err, repository.ErrItemNotFound) {
			logger.WithContext(ctx, s.log).Error("repo update item quantity failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil, err
	}
	return s.load(ctx, userID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) ([]domain.CartItem, error) {
	err := s.repo.RemoveItem(ctx, userID, productID)
	if err != nil && !errors.Is(err, repository.ErrItemNotFound) {
		logger.WithContext(ctx, s.log).Error("repo remove item failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	return s.load(ctx, userID)
}

func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	err := s.repo.DeleteCart(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		logger.WithContext(ctx, s.log).Error("repo delete cart failed", zap.Int64("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

func (s *CartService) load(ctx context.Context, userID int64) ([]domain.CartItem, error) {
	items, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return []domain.CartItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return items, nil
}

func validQuantity(q int) error {
	if q < 1 || q > repository.MaxQuantity {
		return ErrInvalidQuantity
	}
	return nil
}
