package domain

// TaxRate is applied to the cart subtotal.
const TaxRate = 0.10

type Product struct {
	ID        int64   `json:"ProductID"`
	Name      string  `json:"Name"`
	SalePrice float64 `json:"SalePrice"`
	ImageURL  string  `json:"ImageURL,omitempty"`
	Category  string  `json:"Category,omitempty"`
}

// CartItem is a cart line. ProductID is the identity key and Product is the
// snapshot taken when the item was added, it may lag behind live prices.
type CartItem struct {
	ProductID int64   `json:"ProductID"`
	Product   Product `json:"Product"`
	Quantity  int     `json:"Quantity"`
}

// Summary is the derived view of a cart. It is never stored.
type Summary struct {
	Items    []CartItem `json:"items"`
	Subtotal float64    `json:"subtotal"`
	Tax      float64    `json:"tax"`
	Discount float64    `json:"discount"`
	Total    float64    `json:"total"`
}

// Summarize computes totals for items with the given promo rate (0 for none).
func Summarize(items []CartItem, promoRate float64) Summary {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Product.SalePrice * float64(item.Quantity)
	}
	tax := subtotal * TaxRate
	discount := subtotal * promoRate
	return Summary{
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal + tax - discount,
	}
}

// CloneItems returns a copy of items that shares no backing array.
func CloneItems(items []CartItem) []CartItem {
	if items == nil {
		return nil
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}
