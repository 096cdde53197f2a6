package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store/dynamotest"
)

func TestSaveDetectsConcurrentWrite(t *testing.T) {
	db := dynamotest.New().CreateTable("carts", "user_id", "")
	s := NewStore(db, "carts")
	ctx := context.Background()

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Version)
	c.Items = append(c.Items, Item{ItemID: "i1", ProductID: "p1", Quantity: 1, Price: money.New(10)})
	require.NoError(t, s.Save(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	a, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	b, err := s.Get(ctx, "u1")
	require.NoError(t, err)

	a.Items[0].Quantity = 2
	require.NoError(t, s.Save(ctx, a))

	b.Items = nil
	assert.ErrorIs(t, s.Save(ctx, b), ErrCartChanged)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestSaveNewCartTwice(t *testing.T) {
	db := dynamotest.New().CreateTable("carts", "user_id", "")
	s := NewStore(db, "carts")
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Cart{UserID: "u1"}))
	assert.ErrorIs(t, s.Save(ctx, &Cart{UserID: "u1"}), ErrCartChanged)
}
