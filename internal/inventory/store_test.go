package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.DB) {
	t.Helper()
	db := dynamotest.New().CreateTable("products", "product_id", "")
	s := NewStore(db, "products")
	require.NoError(t, s.Put(context.Background(), Product{
		ProductID: "p1", Name: "Mug", Price: money.New(100), Quantity: 3, IsActive: true,
	}))
	return s, db
}

func TestAdjust(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.Adjust(ctx, "p1", -2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Quantity)

	_, err = s.Adjust(ctx, "p1", -2)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quantity, "failed adjust must not change stock")

	p, err = s.Adjust(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
}

func TestAdjustUnknownProduct(t *testing.T) {
	s, db := newTestStore(t)

	_, err := s.Adjust(context.Background(), "missing", -1)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	_, err = s.Adjust(context.Background(), "missing", 1)
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.Equal(t, 1, db.Count("products"))
}

func TestDecrementItemRequiresActiveProduct(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Product{ProductID: "p2", Name: "Old", Price: money.New(5), Quantity: 10}))

	_, err := db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.DecrementItem("p1", 1), s.DecrementItem("p2", 1)},
	})
	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, "ConditionalCheckFailed", aws.ToString(tce.CancellationReasons[1].Code))

	p1, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p1.Quantity)
}

func TestEffectivePriceAndAvailability(t *testing.T) {
	p := &Product{Price: money.New(100), DiscountPrice: money.New(80), Quantity: 2, IsActive: true}
	assert.True(t, p.EffectivePrice().Equal(money.New(80)))
	p.DiscountPrice = money.Zero
	assert.True(t, p.EffectivePrice().Equal(money.New(100)))

	assert.NoError(t, CheckAvailable(p, 2))
	assert.ErrorIs(t, CheckAvailable(p, 3), ErrInsufficientStock)
	p.IsActive = false
	assert.ErrorIs(t, CheckAvailable(p, 1), ErrProductUnavailable)
}
