package cart

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
	ErrCartEmpty    = apperr.Validation("cart empty")
	ErrCartChanged  = apperr.Conflict("cart changed")
	ErrItemNotFound = apperr.NotFound("cart item not found")
	ErrTooManyItems = apperr.Validation(fmt.Sprintf("cart holds more than %d distinct items", MaxLines))
)

// Store persists carts, one row per user.
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

func (s *Store) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

// Get reads the cart with a consistent read. A user without a cart gets an
// empty cart at version 0.
func (s *Store) Get(ctx context.Context, userID string) (*Cart, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(userID),
		ConsistentRead: store.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if len(out.Item) == 0 {
		return &Cart{UserID: userID}, nil
	}
	var c Cart
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

// Save writes c if nobody else wrote the cart since it was read at
// c.Version. On success c.Version is advanced.
func (s *Store) Save(ctx context.Context, c *Cart) error {
	now := s.nowFunc().UTC()
	next := *c
	next.Version = c.Version + 1
	next.UpdatedAt = now
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.Items == nil {
		next.Items = []Item{}
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	input := &dyn.PutItemInput{TableName: &s.tableName, Item: item}
	if c.Version == 0 {
		input.ConditionExpression = store.String("attribute_not_exists(user_id)")
	} else {
		input.ConditionExpression = store.String("#ver = :v")
		input.ExpressionAttributeNames = map[string]string{"#ver": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.Version, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		if store.IsConditionFailed(err) {
			return ErrCartChanged
		}
		return fmt.Errorf("put cart: %w", err)
	}
	*c = next
	return nil
}

// ClearItem empties c inside a transaction, failing it if the cart moved past
// the version c was read at.
func (s *Store) ClearItem(c *Cart) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           &s.tableName,
			Key:                 s.key(c.UserID),
			UpdateExpression:    store.String("SET #items = :empty, #ver = #ver + :one, updated_at = :ua"),
			ConditionExpression: store.String("#ver = :v"),
			ExpressionAttributeNames: map[string]string{
				"#items": "items",
				"#ver":   "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
				":one":   &types.AttributeValueMemberN{Value: "1"},
				":v":     &types.AttributeValueMemberN{Value: strconv.FormatInt(c.Version, 10)},
				":ua":    &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}
