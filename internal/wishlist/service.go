package wishlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/inventory"
)

// CartAdder is the part of the cart service a move needs.
type CartAdder interface {
	AddItem(ctx context.Context, userID, productID string, quantity int) (cart.View, error)
}

type Service struct {
	store    *Store
	products cart.ProductReader
	carts    CartAdder
	logger   *zap.Logger
	nowFunc  func() time.Time
}

func NewService(store *Store, products cart.ProductReader, carts CartAdder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		products: products,
		carts:    carts,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]Item, error) {
	return s.store.List(ctx, userID)
}

// Add saves an active product to the user's wishlist.
func (s *Service) Add(ctx context.Context, userID, productID string) (*Item, error) {
	p, err := s.products.Get(ctx, productID)
	if errors.Is(err, inventory.ErrProductNotFound) {
		return nil, cart.ErrProductNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if !p.IsActive {
		return nil, cart.ErrProductNotAvailable
	}

	it := Item{
		UserID:    userID,
		ProductID: p.ProductID,
		Name:      p.Name,
		Price:     p.EffectivePrice(),
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.store.Put(ctx, it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	return s.store.Delete(ctx, userID, productID)
}

// MoveToCart adds one unit of a wishlisted product to the cart and then drops
// the wishlist entry. A failed cart add leaves the wishlist untouched.
func (s *Service) MoveToCart(ctx context.Context, userID, productID string) (cart.View, error) {
	if _, err := s.store.Get(ctx, userID, productID); err != nil {
		return cart.View{}, err
	}
	view, err := s.carts.AddItem(ctx, userID, productID, 1)
	if err != nil {
		return cart.View{}, fmt.Errorf("move to cart: %w", err)
	}
	if err := s.store.Delete(ctx, userID, productID); err != nil && !errors.Is(err, ErrNotListed) {
		s.logger.Warn("wishlist entry kept after move to cart",
			zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
	}
	return view, nil
}
