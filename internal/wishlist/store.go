package wishlist

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
	"github.com/imrishuroy/go-storefront-orderflow/internal/store"
)

var (
	ErrAlreadyListed = apperr.Conflict("product already in wishlist")
	ErrNotListed     = apperr.NotFound("wishlist item not found")
)

// Item is one saved product. The product id doubles as the item id.
type Item struct {
	UserID    string       `dynamodbav:"user_id" json:"-"`               // PK
	ProductID string       `dynamodbav:"product_id" json:"product_id"`   // SK
	Name      string       `dynamodbav:"name" json:"name"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
	CreatedAt time.Time    `dynamodbav:"created_at" json:"created_at"`
}

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) key(userID, productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":    &types.AttributeValueMemberS{Value: userID},
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

// Put adds it, failing with ErrAlreadyListed when the pair exists.
func (s *Store) Put(ctx context.Context, it Item) error {
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal wishlist item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: store.String("attribute_not_exists(product_id)"),
	})
	if store.IsConditionFailed(err) {
		return ErrAlreadyListed
	}
	if err != nil {
		return fmt.Errorf("put wishlist item: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, productID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(userID, productID),
		ConditionExpression: store.String("attribute_exists(product_id)"),
	})
	if store.IsConditionFailed(err) {
		return ErrNotListed
	}
	if err != nil {
		return fmt.Errorf("delete wishlist item: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, productID string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(userID, productID),
	})
	if err != nil {
		return nil, fmt.Errorf("get wishlist item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotListed
	}
	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal wishlist item: %w", err)
	}
	return &it, nil
}

// List returns the user's wishlist ordered by product id.
func (s *Store) List(ctx context.Context, userID string) ([]Item, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: store.String("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query wishlist: %w", err)
	}
	items := make([]Item, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal wishlist: %w", err)
	}
	return items, nil
}
