package cart

import (
	"fmt"
	"strings"

	"github.com/fjod/go_cellar/internal/domain"
)

// promoRates maps a promo code to the share of the subtotal it discounts.
var promoRates = map[string]float64{
	"SAVE10": 0.10,
}

// ApplyPromo applies a promo code. An unknown code leaves the current
// discount in place and returns domain.ErrInvalidPromo.
func (s *Store) ApplyPromo(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := promoRates[code]; !ok {
		return fmt.Errorf("apply %q: %w", code, domain.ErrInvalidPromo)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.promo = code
	return nil
}

func (s *Store) Promo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promo
}
