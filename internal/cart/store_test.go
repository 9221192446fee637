package cart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cellar/internal/domain"
)

var (
	p1 = domain.Product{ID: 1, Name: "Chianti Classico", SalePrice: 100000}
	p2 = domain.Product{ID: 2, Name: "Islay Single Malt", SalePrice: 250000}
)

type mockGateway struct {
	m       sync.Mutex
	calls   []string
	err     error
	payload []domain.CartItem
	cart    []domain.CartItem

	// block, when set, holds every mutation until it is closed.
	block   chan struct{}
	started chan struct{}
}

func (g *mockGateway) record(call string) error {
	g.m.Lock()
	g.calls = append(g.calls, call)
	block, started, err := g.block, g.started, g.err
	g.m.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

func (g *mockGateway) GetCart(context.Context) ([]domain.CartItem, error) {
	g.m.Lock()
	defer g.m.Unlock()
	g.calls = append(g.calls, "get")
	if g.err != nil {
		return nil, g.err
	}
	return g.cart, nil
}

func (g *mockGateway) AddItem(_ context.Context, productID int64, quantity int) ([]domain.CartItem, error) {
	if err := g.record(fmt.Sprintf("add %d x%d", productID, quantity)); err != nil {
		return nil, err
	}
	return g.payload, nil
}

func (g *mockGateway) UpdateItem(_ context.Context, productID int64, quantity int) ([]domain.CartItem, error) {
	if err := g.record(fmt.Sprintf("update %d x%d", productID, quantity)); err != nil {
		return nil, err
	}
	return g.payload, nil
}

func (g *mockGateway) RemoveItem(_ context.Context, productID int64) ([]domain.CartItem, error) {
	if err := g.record(fmt.Sprintf("remove %d", productID)); err != nil {
		return nil, err
	}
	return g.payload, nil
}

func (g *mockGateway) ClearCart(context.Context) error {
	return g.record("clear")
}

func (g *mockGateway) Calls() []string {
	g.m.Lock()
	defer g.m.Unlock()
	return append([]string(nil), g.calls...)
}

func TestAddToCart_MergesByProduct(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	require.NoError(t, s.AddToCart(ctx, p1, 1))
	require.NoError(t, s.AddToCart(ctx, p1, 2))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ProductID)
	assert.Equal(t, 3, items[0].Quantity)

	sum := s.Summary()
	assert.InDelta(t, 300000, sum.Subtotal, 0.001)
	assert.InDelta(t, 30000, sum.Tax, 0.001)
	assert.InDelta(t, 330000, sum.Total, 0.001)
}

func TestAddToCart_RejectsNonPositiveQuantity(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)

	err := s.AddToCart(context.Background(), p1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, s.Items())
	assert.Empty(t, gw.Calls())
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, p1, 1))
	require.NoError(t, s.AddToCart(ctx, p2, 1))

	require.NoError(t, s.UpdateQuantity(ctx, p1.ID, 0))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, p2.ID, items[0].ProductID)
}

func TestUpdateQuantity_SetsValue(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, p1, 1))

	require.NoError(t, s.UpdateQuantity(ctx, p1.ID, 6))
	assert.Equal(t, 6, s.Items()[0].Quantity)
	assert.Equal(t, []string{"add 1 x1", "update 1 x6"}, gw.Calls())
}

func TestUpdateQuantity_AbsentItem(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)

	err := s.UpdateQuantity(context.Background(), 99, 2)
	assert.ErrorIs(t, err, domain.ErrItemNotInCart)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, gw.Calls())
}

func TestRemoveFromCart_Idempotent(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, p1, 1))

	require.NoError(t, s.RemoveFromCart(ctx, p1.ID))
	require.NoError(t, s.RemoveFromCart(ctx, p1.ID))
	require.NoError(t, s.RemoveFromCart(ctx, 12345))

	assert.Empty(t, s.Items())
	assert.Equal(t, []string{"add 1 x1", "remove 1"}, gw.Calls())
}

func TestClearCart_Idempotent(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, p1, 2))
	require.NoError(t, s.ApplyPromo("SAVE10"))

	require.NoError(t, s.ClearCart(ctx))
	require.NoError(t, s.ClearCart(ctx))

	assert.Empty(t, s.Items())
	assert.Empty(t, s.Promo())
	assert.Equal(t, []string{"add 1 x2", "clear"}, gw.Calls())
}

func TestSetItems_RoundTrip(t *testing.T) {
	s := NewStore(nil, nil)
	items := []domain.CartItem{
		{ProductID: 1, Product: p1, Quantity: 2},
		{ProductID: 2, Product: p2, Quantity: 1},
	}

	s.SetItems(items)
	assert.Equal(t, items, s.Items())

	items[0].Quantity = 50
	assert.Equal(t, 2, s.Items()[0].Quantity, "store keeps its own copy")
}

func TestSetItems_DropsZeroAndMergesDuplicates(t *testing.T) {
	s := NewStore(nil, nil)
	s.SetItems([]domain.CartItem{
		{ProductID: 1, Product: p1, Quantity: 2},
		{ProductID: 2, Product: p2, Quantity: 0},
		{Product: p1, Quantity: 1},
	})

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestGatewayFailure_RollsBack(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)
	ctx := context.Background()
	require.NoError(t, s.AddToCart(ctx, p1, 1))
	before := s.Items()

	gw.err = fmt.Errorf("%w: 503", domain.ErrNetwork)

	assert.ErrorIs(t, s.AddToCart(ctx, p1, 4), domain.ErrNetwork)
	assert.Equal(t, before, s.Items())

	assert.ErrorIs(t, s.UpdateQuantity(ctx, p1.ID, 9), domain.ErrNetwork)
	assert.Equal(t, before, s.Items())

	assert.ErrorIs(t, s.RemoveFromCart(ctx, p1.ID), domain.ErrNetwork)
	assert.Equal(t, before, s.Items())

	require.NoError(t, s.ApplyPromo("SAVE10"))
	assert.ErrorIs(t, s.ClearCart(ctx), domain.ErrNetwork)
	assert.Equal(t, before, s.Items())
	assert.Equal(t, "SAVE10", s.Promo())

	assert.False(t, s.IsUpdating())
}

func TestGatewayFailure_AuthRequiredIsDistinct(t *testing.T) {
	gw := &mockGateway{err: domain.ErrAuthRequired}
	s := NewStore(gw, nil)

	err := s.AddToCart(context.Background(), p1, 1)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.False(t, errors.Is(err, domain.ErrNetwork))
	assert.Empty(t, s.Items())
}

func TestGatewaySuccess_ReconcilesWithPayload(t *testing.T) {
	repriced := p1
	repriced.SalePrice = 90000
	gw := &mockGateway{payload: []domain.CartItem{{ProductID: 1, Product: repriced, Quantity: 1}}}
	s := NewStore(gw, nil)

	require.NoError(t, s.AddToCart(context.Background(), p1, 1))

	items := s.Items()
	require.Len(t, items, 1)
	assert.InDelta(t, 90000, items[0].Product.SalePrice, 0.001)
}

func TestIsUpdating_DuringGatewayCall(t *testing.T) {
	gw := &mockGateway{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewStore(gw, nil)

	done := make(chan error, 1)
	go func() { done <- s.AddToCart(context.Background(), p1, 1) }()

	<-gw.started
	assert.True(t, s.IsUpdating())
	assert.Len(t, s.Items(), 1, "optimistic item visible before confirmation")

	close(gw.block)
	require.NoError(t, <-done)
	assert.False(t, s.IsUpdating())
}

func TestHydrate(t *testing.T) {
	gw := &mockGateway{cart: []domain.CartItem{{ProductID: 2, Product: p2, Quantity: 4}}}
	s := NewStore(gw, nil)

	require.NoError(t, s.Hydrate(context.Background()))
	assert.Equal(t, gw.cart, s.Items())

	gw.err = domain.ErrAuthRequired
	assert.ErrorIs(t, s.Hydrate(context.Background()), domain.ErrAuthRequired)
	assert.Equal(t, gw.cart, s.Items(), "failed hydrate keeps the current cart")
}

func TestApplyPromo(t *testing.T) {
	s := NewStore(nil, nil)
	require.NoError(t, s.AddToCart(context.Background(), p1, 3))

	require.NoError(t, s.ApplyPromo("SAVE10"))
	sum := s.Summary()
	assert.InDelta(t, 30000, sum.Discount, 0.001)
	assert.InDelta(t, 300000, sum.Total, 0.001)

	err := s.ApplyPromo("FREEWINE")
	assert.ErrorIs(t, err, domain.ErrInvalidPromo)
	assert.InDelta(t, 30000, s.Summary().Discount, 0.001, "invalid code keeps the discount")
}

func TestReset(t *testing.T) {
	gw := &mockGateway{}
	s := NewStore(gw, nil)
	require.NoError(t, s.AddToCart(context.Background(), p1, 1))

	s.Reset()
	assert.Empty(t, s.Items())
	assert.Equal(t, []string{"add 1 x1"}, gw.Calls())
}

func TestStore_RandomSequencesKeepCartConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	products := []domain.Product{p1, p2, {ID: 3, SalePrice: 5000}, {ID: 4, SalePrice: 70000}}
	ctx := context.Background()

	for run := 0; run < 50; run++ {
		s := NewStore(nil, nil)
		for step := 0; step < 100; step++ {
			p := products[rng.Intn(len(products))]
			switch rng.Intn(3) {
			case 0:
				_ = s.AddToCart(ctx, p, rng.Intn(4))
			case 1:
				_ = s.UpdateQuantity(ctx, p.ID, rng.Intn(5)-1)
			case 2:
				_ = s.RemoveFromCart(ctx, p.ID)
			}

			seen := map[int64]bool{}
			for _, item := range s.Items() {
				require.False(t, seen[item.ProductID], "duplicate line for %d", item.ProductID)
				require.Greater(t, item.Quantity, 0)
				seen[item.ProductID] = true
			}
		}
	}
}
