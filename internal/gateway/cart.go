package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cellar/internal/domain"
)

type cartPayload struct {
	Items []domain.CartItem `json:"items"`
}

type addItemRequest struct {
	ProductID int64 `json:"ProductID"`
	Quantity  int   `json:"Quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"Quantity"`
}

func (c *Client) GetCart(ctx context.Context) ([]domain.CartItem, error) {
	var p cartPayload
	if err := c.do(ctx, http.MethodGet, "/cart", nil, &p); err != nil {
		return nil, err
	}
	if p.Items == nil {
		p.Items = []domain.CartItem{}
	}
	return p.Items, nil
}

// AddItem returns the authoritative cart when the gateway sends one, nil
// otherwise. The same holds for UpdateItem and RemoveItem.
func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) ([]domain.CartItem, error) {
	var p cartPayload
	err := c.do(ctx, http.MethodPost, "/cart/items", addItemRequest{ProductID: productID, Quantity: quantity}, &p)
	return p.Items, err
}

func (c *Client) UpdateItem(ctx context.Context, productID int64, quantity int) ([]domain.CartItem, error) {
	var p cartPayload
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/cart/items/%d", productID), updateQuantityRequest{Quantity: quantity}, &p)
	return p.Items, err
}

func (c *Client) RemoveItem(ctx context.Context, productID int64) ([]domain.CartItem, error) {
	var p cartPayload
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/cart/items/%d", productID), nil, &p)
	return p.Items, err
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/cart", nil, nil)
}
