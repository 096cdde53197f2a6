package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
)

const (
	UserIndex       = "user_id-index"
	GatewayRefIndex = "gateway_order_ref-index"
)

var (
	ErrOrderNotFound = apperr.NotFound("order not found")
	// ErrStatusMismatch is returned when a conditional status transition did
	// not find the expected current status.
	ErrStatusMismatch = apperr.Conflict("order status changed")
)

// NewOrderNumber returns a human-facing order number. ULIDs are unique
// without coordination and sort by creation time.
func NewOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func (s *Store) now() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

// PutItem builds the transaction participant that creates order. Timestamps
// are set when empty.
func (s *Store) PutItem(order *Order) (types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: store.String("attribute_not_exists(order_id)"),
		},
	}, nil
}

// Get fetches an order by order_id.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(orderID),
		ConsistentRead: store.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindByGatewayRef resolves the order a gateway order/intent belongs to.
func (s *Store) FindByGatewayRef(ctx context.Context, ref string) (*Order, error) {
	if ref == "" {
		return nil, ErrOrderNotFound
	}
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              store.String(GatewayRefIndex),
		KeyConditionExpression: store.String("gateway_order_ref = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
		},
		Limit: int32Ptr(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query by gateway ref: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrOrderNotFound
	}
	// the index projects keys only; read the full, consistent row
	var keyOnly struct {
		OrderID string `dynamodbav:"order_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &keyOnly); err != nil {
		return nil, fmt.Errorf("unmarshal order key: %w", err)
	}
	return s.Get(ctx, keyOnly.OrderID)
}

// ListByUser returns all of a user's orders, newest first, following query
// pages until the index is exhausted.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	in := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              store.String(UserIndex),
		KeyConditionExpression: store.String("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: store.Bool(false),
	}

	list := []Order{}
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query orders by user: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		list = append(list, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return list, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// SettleItem marks the order paid inside a transaction. The condition lets a
// pending or previously failed payment complete and rejects everything else,
// so a settled order is never settled twice.
func (s *Store) SettleItem(orderID, paymentRef, signature string) types.TransactWriteItem {
	values := map[string]types.AttributeValue{
		":completed": &types.AttributeValueMemberS{Value: string(PaymentCompleted)},
		":pending":   &types.AttributeValueMemberS{Value: string(PaymentPending)},
		":failed":    &types.AttributeValueMemberS{Value: string(PaymentFailed)},
		":pid":       &types.AttributeValueMemberS{Value: paymentRef},
		":ua":        &types.AttributeValueMemberS{Value: s.now()},
	}
	update := "SET payment_status = :completed, gateway_payment_id = :pid, updated_at = :ua"
	if signature != "" {
		update += ", gateway_signature = :sig"
		values[":sig"] = &types.AttributeValueMemberS{Value: signature}
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.tableName,
			Key:                       s.key(orderID),
			UpdateExpression:          &update,
			ConditionExpression:       store.String("attribute_exists(order_id) AND payment_status IN (:pending, :failed)"),
			ExpressionAttributeValues: values,
		},
	}
}

// StatusItem sets the fulfilment status (and tracking number when given)
// inside a transaction, conditional on the order existing.
func (s *Store) StatusItem(orderID string, status Status, trackingNumber string) types.TransactWriteItem {
	values := map[string]types.AttributeValue{
		":st": &types.AttributeValueMemberS{Value: string(status)},
		":ua": &types.AttributeValueMemberS{Value: s.now()},
	}
	update := "SET order_status = :st, updated_at = :ua"
	if trackingNumber != "" {
		update += ", tracking_number = :tn"
		values[":tn"] = &types.AttributeValueMemberS{Value: trackingNumber}
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.tableName,
			Key:                       s.key(orderID),
			UpdateExpression:          &update,
			ConditionExpression:       store.String("attribute_exists(order_id)"),
			ExpressionAttributeValues: values,
		},
	}
}

// UpdatePaymentStatus conditionally moves payment_status from expected to
// next. Returns ErrStatusMismatch if the condition failed.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID string, expected, next PaymentStatus) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(orderID),
		UpdateExpression:    store.String("SET payment_status = :new, updated_at = :ua"),
		ConditionExpression: store.String("attribute_exists(order_id) AND payment_status = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(next)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":ua":       &types.AttributeValueMemberS{Value: s.now()},
		},
	})
	if err != nil {
		if store.IsConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func int32Ptr(v int32) *int32 { return &v }
