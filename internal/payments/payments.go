// Package payments is the ledger of gateway transactions, keyed by the
// gateway's transaction id so each payment is recorded once.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

var ErrPaymentNotFound = apperr.NotFound("payment not found")

// Record is one gateway transaction. OrderID is empty when the gateway
// reported the payment before it could be matched to an order.
type Record struct {
	TransactionID   string               `dynamodbav:"transaction_id" json:"transaction_id"` // PK
	OrderID         string               `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	UserID          string               `dynamodbav:"user_id,omitempty" json:"user_id,omitempty"`
	Amount          money.Amount         `dynamodbav:"amount" json:"amount"`
	Currency        string               `dynamodbav:"currency" json:"currency"`
	PaymentMethod   orders.PaymentMethod `dynamodbav:"payment_method" json:"payment_method"`
	Status          Status               `dynamodbav:"status" json:"status"`
	GatewayResponse string               `dynamodbav:"gateway_response,omitempty" json:"-"`
	CreatedAt       time.Time            `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time            `dynamodbav:"updated_at" json:"updated_at"`
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) key(txID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"transaction_id": &types.AttributeValueMemberS{Value: txID},
	}
}

func (s *Store) Get(ctx context.Context, txID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(txID),
		ConsistentRead: store.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrPaymentNotFound
	}
	var r Record
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &r, nil
}

type upsert struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// upsertExpr writes rec with the given status. Empty order/user ids leave any
// stored ids alone, and created_at is only set once.
func (s *Store) upsertExpr(rec Record, status Status) (upsert, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	amount, err := attributevalue.Marshal(rec.Amount)
	if err != nil {
		return upsert{}, fmt.Errorf("marshal amount: %w", err)
	}
	u := upsert{
		expr:  "SET #s = :status, amount = :amount, currency = :cur, payment_method = :pm, updated_at = :now, created_at = if_not_exists(created_at, :now)",
		names: map[string]string{"#s": "status"},
		values: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":amount": amount,
			":cur":    &types.AttributeValueMemberS{Value: rec.Currency},
			":pm":     &types.AttributeValueMemberS{Value: string(rec.PaymentMethod)},
			":now":    &types.AttributeValueMemberS{Value: now},
		},
	}
	if rec.OrderID != "" {
		u.expr += ", order_id = :oid"
		u.values[":oid"] = &types.AttributeValueMemberS{Value: rec.OrderID}
	}
	if rec.UserID != "" {
		u.expr += ", user_id = :uid"
		u.values[":uid"] = &types.AttributeValueMemberS{Value: rec.UserID}
	}
	if rec.GatewayResponse != "" {
		u.expr += ", gateway_response = :raw"
		u.values[":raw"] = &types.AttributeValueMemberS{Value: rec.GatewayResponse}
	}
	return u, nil
}

// SuccessItem records rec as successful inside a transaction. Re-recording a
// success is harmless: the record is keyed by transaction id.
func (s *Store) SuccessItem(rec Record) (types.TransactWriteItem, error) {
	u, err := s.upsertExpr(rec, StatusSuccess)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.tableName,
			Key:                       s.key(rec.TransactionID),
			UpdateExpression:          &u.expr,
			ExpressionAttributeNames:  u.names,
			ExpressionAttributeValues: u.values,
		},
	}, nil
}

// RecordSuccess is SuccessItem as a standalone write.
func (s *Store) RecordSuccess(ctx context.Context, rec Record) error {
	u, err := s.upsertExpr(rec, StatusSuccess)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(rec.TransactionID),
		UpdateExpression:          &u.expr,
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		return fmt.Errorf("record payment success: %w", err)
	}
	return nil
}

// RecordFailure records rec as failed unless it already succeeded. applied is
// false when an existing success was kept.
func (s *Store) RecordFailure(ctx context.Context, rec Record) (applied bool, err error) {
	u, err := s.upsertExpr(rec, StatusFailed)
	if err != nil {
		return false, err
	}
	u.values[":success"] = &types.AttributeValueMemberS{Value: string(StatusSuccess)}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(rec.TransactionID),
		UpdateExpression:          &u.expr,
		ConditionExpression:       store.String("attribute_not_exists(transaction_id) OR #s <> :success"),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		if store.IsConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("record payment failure: %w", err)
	}
	return true, nil
}
