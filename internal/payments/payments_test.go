package payments

import (
	"context"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store/dynamotest"
)

func newTestStore() (*Store, *dynamotest.DB) {
	db := dynamotest.New().CreateTable("payments", "transaction_id", "")
	return NewStore(db, "payments"), db
}

func rec(orderID string) Record {
	return Record{
		TransactionID: "pay_1",
		OrderID:       orderID,
		UserID:        "u1",
		Amount:        money.New(250),
		Currency:      "INR",
		PaymentMethod: orders.MethodRazorpay,
	}
}

func TestSuccessIsRecordedOnce(t *testing.T) {
	s, db := newTestStore()
	ctx := context.Background()

	item, err := s.SuccessItem(rec("o1"))
	require.NoError(t, err)
	_, err = db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{item}})
	require.NoError(t, err)
	require.NoError(t, s.RecordSuccess(ctx, rec("")))

	assert.Equal(t, 1, db.Count("payments"))
	got, err := s.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "o1", got.OrderID, "an empty order id must not clear the stored one")
	assert.True(t, got.Amount.Equal(money.New(250)))
}

func TestFailureNeverDowngradesSuccess(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	applied, err := s.RecordFailure(ctx, rec(""))
	require.NoError(t, err)
	assert.True(t, applied)
	got, err := s.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	require.NoError(t, s.RecordSuccess(ctx, rec("o1")))

	applied, err = s.RecordFailure(ctx, rec(""))
	require.NoError(t, err)
	assert.False(t, applied)
	got, err = s.Get(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
