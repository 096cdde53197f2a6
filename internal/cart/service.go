package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/inventory"
)

var (
	ErrProductNotAvailable = apperr.NotFound("product not available")
	ErrInvalidQuantity     = apperr.Validation("quantity must be at least 1")
)

// ProductReader is the part of the inventory ledger the cart needs.
type ProductReader interface {
	Get(ctx context.Context, productID string) (*inventory.Product, error)
}

// Service implements the cart operations on top of Store, keeping the
// Redis copy coherent. cache may be nil.
type Service struct {
	store    *Store
	products ProductReader
	cache    *Cache
	logger   *zap.Logger
	nowFunc  func() time.Time
	newID    func() string
}

func NewService(store *Store, products ProductReader, cache *Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		products: products,
		cache:    cache,
		logger:   logger,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	fill := false
	var gen int64
	if s.cache != nil {
		c, err := s.cache.Get(ctx, userID)
		if err == nil {
			return c.View(), nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cart cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		gen, err = s.cache.Generation(ctx, userID)
		if err != nil {
			s.logger.Warn("cart cache generation read failed", zap.String("user_id", userID), zap.Error(err))
		}
		fill = err == nil
	}

	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if fill {
		if _, err := s.cache.Fill(ctx, c, gen); err != nil {
			s.logger.Warn("cart cache fill failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return c.View(), nil
}

// AddItem adds quantity units of a product, merging into an existing line.
// The line keeps the price captured when it was first added.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (View, error) {
	if quantity < 1 {
		return View{}, ErrInvalidQuantity
	}
	p, err := s.activeProduct(ctx, productID)
	if err != nil {
		return View{}, err
	}

	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}

	if idx := c.findByProduct(productID); idx >= 0 {
		want := c.Items[idx].Quantity + quantity
		if want > p.Quantity {
			return View{}, inventory.ErrInsufficientStock
		}
		c.Items[idx].Quantity = want
	} else {
		if quantity > p.Quantity {
			return View{}, inventory.ErrInsufficientStock
		}
		if len(c.Items) >= MaxLines {
			return View{}, ErrTooManyItems
		}
		c.Items = append(c.Items, Item{
			ItemID:    s.newID(),
			ProductID: p.ProductID,
			Name:      p.Name,
			Quantity:  quantity,
			Price:     p.EffectivePrice(),
			AddedAt:   s.nowFunc().UTC(),
		})
	}

	return s.save(ctx, c)
}

// UpdateItemQuantity sets the quantity of one cart line.
func (s *Service) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (View, error) {
	if quantity < 1 {
		return View{}, ErrInvalidQuantity
	}
	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	idx := c.findByItem(itemID)
	if idx < 0 {
		return View{}, ErrItemNotFound
	}
	p, err := s.activeProduct(ctx, c.Items[idx].ProductID)
	if err != nil {
		return View{}, err
	}
	if quantity > p.Quantity {
		return View{}, inventory.ErrInsufficientStock
	}
	c.Items[idx].Quantity = quantity
	return s.save(ctx, c)
}

func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (View, error) {
	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	idx := c.findByItem(itemID)
	if idx < 0 {
		return View{}, ErrItemNotFound
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return s.save(ctx, c)
}

func (s *Service) Clear(ctx context.Context, userID string) (View, error) {
	c, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if c.IsEmpty() {
		return c.View(), nil
	}
	c.Items = nil
	return s.save(ctx, c)
}

// Invalidate drops the cached copy. Failures are logged; the entry expires on
// its own.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) save(ctx context.Context, c *Cart) (View, error) {
	if err := s.store.Save(ctx, c); err != nil {
		return View{}, fmt.Errorf("save cart: %w", err)
	}
	s.Invalidate(ctx, c.UserID)
	return c.View(), nil
}

func (s *Service) activeProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	p, err := s.products.Get(ctx, productID)
	if errors.Is(err, inventory.ErrProductNotFound) {
		return nil, ErrProductNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if !p.IsActive {
		return nil, ErrProductNotAvailable
	}
	return p, nil
}
