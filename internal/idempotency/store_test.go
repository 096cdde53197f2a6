package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-orderflow/internal/store/dynamotest"
)

func commit(ctx context.Context, db *dynamotest.DB, item types.TransactWriteItem) error {
	_, err := db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{item},
	})
	return err
}

func TestCreate_Get_MarkDone_MarkFailed(t *testing.T) {
	db := dynamotest.New().CreateTable("idempotency-table", "idempotency_key", "")
	s := NewStore(db, "idempotency-table", 48*time.Hour)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	ctx := context.Background()
	key := "test-key-1"
	orderID := "order-123"

	item, err := s.CreateItem(key, "user-1", orderID)
	if err != nil {
		t.Fatalf("CreateItem error: %v", err)
	}
	if err := commit(ctx, db, item); err != nil {
		t.Fatalf("first create error: %v", err)
	}

	// second create must cancel the transaction
	item2, _ := s.CreateItem(key, "user-1", "order-456")
	var tce *types.TransactionCanceledException
	if err := commit(ctx, db, item2); !errors.As(err, &tce) {
		t.Fatalf("expected TransactionCanceledException on duplicate create, got %v", err)
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.OrderID != orderID {
		t.Fatalf("order id mismatch: %s", rec.OrderID)
	}
	if rec.ExpiresAt != fixed.Add(48*time.Hour).Unix() {
		t.Fatalf("unexpected expires_at %d", rec.ExpiresAt)
	}

	if err := s.MarkDone(ctx, key, "{\"ok\":true}", 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusDone || rec.ResponseBody != "{\"ok\":true}" || rec.ResponseStatus != 201 {
		t.Fatalf("record not marked done: %+v", rec)
	}

	if err := s.MarkFailed(ctx, key, "failed-reason"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "failed-reason" {
		t.Fatalf("record not marked failed: %+v", rec)
	}
}

func TestGetMissingAndMarkUnknownKey(t *testing.T) {
	db := dynamotest.New().CreateTable("idempotency-table", "idempotency_key", "")
	s := NewStore(db, "idempotency-table", time.Hour)

	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
	if err := s.MarkDone(context.Background(), "nope", "{}", 200); err == nil {
		t.Fatalf("expected error marking an unknown key")
	}
	if db.Count("idempotency-table") != 0 {
		t.Fatalf("mark must not create records")
	}
}
