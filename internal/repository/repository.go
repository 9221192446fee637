// Package repository persists carts and resolves products for the
// reference gateway.
package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cellar/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrProductNotFound = errors.New("product not found")
)

type CartRepository interface {
	GetCart(ctx context.Context, userID int64) ([]domain.CartItem, error)
	// AddItem merges quantity into an existing line for the same product.
	AddItem(ctx context.Context, userID int64, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID, productID int64) error
	DeleteCart(ctx context.Context, userID int64) error
}

type Catalog interface {
	Product(ctx context.Context, productID int64) (domain.Product, error)
}
