package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
)

var (
	ErrProductNotFound    = apperr.NotFound("product not found")
	ErrProductUnavailable = apperr.Conflict("product unavailable")
	ErrInsufficientStock  = apperr.Conflict("insufficient stock")
)

// Store is the inventory ledger over the products table.
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

func (s *Store) key(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

// Get returns ErrProductNotFound when the product does not exist.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(productID),
		ConsistentRead: store.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrProductNotFound
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product row as-is. The catalog owns product creation; this is
// used for seeding and administration.
func (s *Store) Put(ctx context.Context, p Product) error {
	if p.Quantity < 0 {
		return apperr.Validation("quantity must not be negative")
	}
	p.UpdatedAt = s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// Adjust applies delta to the stock in a single conditional write. Negative
// deltas are only applied when enough stock remains; otherwise nothing changes
// and ErrInsufficientStock is returned.
func (s *Store) Adjust(ctx context.Context, productID string, delta int) (*Product, error) {
	cond := "attribute_exists(product_id)"
	values := map[string]types.AttributeValue{
		":d":  &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
		":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	if delta < 0 {
		cond += " AND quantity >= :need"
		values[":need"] = &types.AttributeValueMemberN{Value: strconv.Itoa(-delta)}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(productID),
		UpdateExpression:          store.String("SET quantity = quantity + :d, updated_at = :ua"),
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if store.IsConditionFailed(err) {
			// distinguish a missing product from short stock
			if _, gerr := s.Get(ctx, productID); gerr != nil {
				return nil, gerr
			}
			return nil, ErrInsufficientStock
		}
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Attributes, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// DecrementItem is the guarded decrement as a transaction participant. It
// fails the transaction when stock is short or the product was deactivated.
func (s *Store) DecrementItem(productID string, qty int) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 s.key(productID),
			UpdateExpression:    store.String("SET quantity = quantity - :q, updated_at = :ua"),
			ConditionExpression: store.String("quantity >= :q AND is_active = :active"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":      &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
				":active": &types.AttributeValueMemberBOOL{Value: true},
				":ua":     &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

// CheckAvailable reports why qty units of p cannot be sold, or nil.
func CheckAvailable(p *Product, qty int) error {
	if !p.IsActive {
		return ErrProductUnavailable
	}
	if qty > p.Quantity {
		return ErrInsufficientStock
	}
	return nil
}
