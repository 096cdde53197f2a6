// Package tracking is the append-only log of order status transitions.
package tracking

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
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
)

const PlacedDescription = "Order has been received and is being processed"

var ErrInvalidStatus = apperr.Validation("invalid order status")

// Event is one entry of an order's tracking log. EventID is a ULID, so the
// sort key order is the creation order.
type Event struct {
	OrderID     string        `dynamodbav:"order_id" json:"order_id"` // PK
	EventID     string        `dynamodbav:"event_id" json:"event_id"` // SK
	Status      orders.Status `dynamodbav:"status" json:"status"`
	Description string        `dynamodbav:"description" json:"description"`
	CreatedAt   time.Time     `dynamodbav:"created_at" json:"created_at"`
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	orders    *orders.Store
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string, orderStore *orders.Store) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		orders:    orderStore,
		nowFunc:   time.Now,
	}
}

func (s *Store) newEvent(orderID string, status orders.Status, description string) Event {
	if description == "" {
		description = fmt.Sprintf("Order status updated to %s", status)
	}
	now := s.nowFunc().UTC()
	return Event{
		OrderID:     orderID,
		EventID:     ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Status:      status,
		Description: description,
		CreatedAt:   now,
	}
}

// EventItem builds a Put for a new tracking event, for callers that write
// the order in the same transaction.
func (s *Store) EventItem(orderID string, status orders.Status, description string) (types.TransactWriteItem, Event, error) {
	ev := s.newEvent(orderID, status, description)
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return types.TransactWriteItem{}, Event{}, fmt.Errorf("marshal tracking event: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: store.String("attribute_not_exists(event_id)"),
		},
	}, ev, nil
}

// Append records a status transition and applies it to the order in one
// transaction, so the order's status always matches its latest event.
func (s *Store) Append(ctx context.Context, orderID string, status orders.Status, description, trackingNumber string) (*Event, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	put, ev, err := s.EventItem(orderID, status, description)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			s.orders.StatusItem(orderID, status, trackingNumber),
			put,
		},
	})
	if err != nil {
		if codes, ok := store.CancellationCodes(err); ok && store.ConditionFailedAt(codes, 0) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, fmt.Errorf("append tracking event: %w", err)
	}
	return &ev, nil
}

// List returns an order's events oldest first.
func (s *Store) List(ctx context.Context, orderID string) ([]Event, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: store.String("order_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead:   store.Bool(true),
		ScanIndexForward: store.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query tracking events: %w", err)
	}
	events := make([]Event, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &events); err != nil {
		return nil, fmt.Errorf("unmarshal tracking events: %w", err)
	}
	return events, nil
}
