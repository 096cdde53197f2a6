// Package dynamotest is an in-memory DynamoDB for store tests. It evaluates
// condition, update and key expressions and applies TransactWriteItems
// atomically, so tests exercise the same expressions production sends.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type keySchema struct {
	pk, sk string
}

type table struct {
	key     keySchema
	items   map[string]map[string]types.AttributeValue
	indexes map[string]keySchema
}

// DB implements aws.DynamoDBAPI.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table
	fail   map[string]error
	// pending conflicts by table and item key
	conflicts map[string]func()

	TransactCalls int
	// QueryPageSize caps the items one Query returns, standing in for the
	// 1 MB page limit. Zero means unlimited.
	QueryPageSize int
}

func New() *DB {
	return &DB{tables: map[string]*table{}, fail: map[string]error{}, conflicts: map[string]func(){}}
}

// CreateTable registers a table; sk may be empty.
func (db *DB) CreateTable(name, pk, sk string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[name] = &table{
		key:     keySchema{pk: pk, sk: sk},
		items:   map[string]map[string]types.AttributeValue{},
		indexes: map[string]keySchema{},
	}
	return db
}

// CreateIndex registers a global secondary index on an existing table.
func (db *DB) CreateIndex(tableName, index, pk, sk string) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[tableName].indexes[index] = keySchema{pk: pk, sk: sk}
	return db
}

// FailNext makes the next call of op ("PutItem", "TransactWriteItems", ...)
// return err.
func (db *DB) FailNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[op] = err
}

// ConflictNext makes the next transaction that writes the given item fail
// with a TransactionConflict reason for it, as DynamoDB does when another
// transaction holds the item. then, if not nil, runs after the lock is
// released and before the failed call returns; it stands in for the
// transaction that won.
func (db *DB) ConflictNext(then func(), tableName string, keys ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[tableName]
	k, err := t.keyOf(t.keyFromStrings(keys))
	if err != nil {
		panic(err)
	}
	db.conflicts[tableName+"|"+k] = then
}

// Seed marshals v and stores it unconditionally.
func (db *DB) Seed(tableName string, v interface{}) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(tableName)
	if err != nil {
		return err
	}
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[k] = cloneItem(item)
	return nil
}

// Item returns a copy of the stored item, or nil.
func (db *DB) Item(tableName string, keys ...string) map[string]types.AttributeValue {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableName]
	if !ok {
		return nil
	}
	k, err := t.keyOf(t.keyFromStrings(keys))
	if err != nil {
		return nil
	}
	if item, ok := t.items[k]; ok {
		return cloneItem(item)
	}
	return nil
}

// Load unmarshals a stored item into out and reports whether it exists.
func (db *DB) Load(tableName string, out interface{}, keys ...string) (bool, error) {
	item := db.Item(tableName, keys...)
	if item == nil {
		return false, nil
	}
	return true, attributevalue.UnmarshalMap(item, out)
}

// Count returns the number of items in a table.
func (db *DB) Count(tableName string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

func (db *DB) table(name string) (*table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + name)}
	}
	return t, nil
}

func (db *DB) injected(op string) error {
	if err, ok := db.fail[op]; ok {
		delete(db.fail, op)
		return err
	}
	return nil
}

func scalar(v types.AttributeValue) (string, bool) {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + tv.Value, true
	case *types.AttributeValueMemberN:
		return "N:" + tv.Value, true
	case *types.AttributeValueMemberB:
		return fmt.Sprintf("B:%x", tv.Value), true
	}
	return "", false
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	pk, ok := scalar(item[t.key.pk])
	if !ok {
		return "", validationErr("missing key attribute " + t.key.pk)
	}
	if t.key.sk == "" {
		return pk, nil
	}
	sk, ok := scalar(item[t.key.sk])
	if !ok {
		return "", validationErr("missing key attribute " + t.key.sk)
	}
	return pk + "\x00" + sk, nil
}

func (t *table) keyFromStrings(keys []string) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{}
	if len(keys) > 0 {
		key[t.key.pk] = &types.AttributeValueMemberS{Value: keys[0]}
	}
	if t.key.sk != "" && len(keys) > 1 {
		key[t.key.sk] = &types.AttributeValueMemberS{Value: keys[1]}
	}
	return key
}

func (t *table) keyAttrs(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{t.key.pk: item[t.key.pk]}
	if t.key.sk != "" {
		out[t.key.sk] = item[t.key.sk]
	}
	return out
}

func validationErr(msg string) error {
	return fmt.Errorf("ValidationException: %s", msg)
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// current returns the stored item or an empty map; conditions see a missing
// item as one with no attributes.
func (t *table) current(k string) (map[string]types.AttributeValue, bool) {
	if item, ok := t.items[k]; ok {
		return item, true
	}
	return map[string]types.AttributeValue{}, false
}

func (db *DB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.injected("PutItem"); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	cur, _ := t.current(k)
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = cloneItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (db *DB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.injected("GetItem"); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.GetItemOutput{}
	if item, ok := t.items[k]; ok {
		out.Item = cloneItem(item)
	}
	return out, nil
}

func (db *DB) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.injected("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	cur, _ := t.current(k)
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next, err := t.updated(in.Key, cur, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = next

	out := &dynamodb.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = cloneItem(next)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = cloneItem(cur)
	}
	return out, nil
}

func (t *table) updated(key, cur map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	base := cloneItem(cur)
	for name, v := range key {
		base[name] = cloneAV(v)
	}
	next, err := applyUpdate(expr, names, values, base)
	if err != nil {
		return nil, err
	}
	for name, v := range key {
		next[name] = cloneAV(v)
	}
	return next, nil
}

func (db *DB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.injected("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	cur, existed := t.current(k)
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, k)
	out := &dynamodb.DeleteItemOutput{}
	if existed && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = cloneItem(cur)
	}
	return out, nil
}

func (db *DB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.injected("Query"); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	schema := t.key
	if in.IndexName != nil {
		s, ok := t.indexes[aws.ToString(in.IndexName)]
		if !ok {
			return nil, validationErr("unknown index " + aws.ToString(in.IndexName))
		}
		schema = s
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.items {
		if _, ok := item[schema.pk]; !ok {
			continue
		}
		if schema.sk != "" {
			if _, ok := item[schema.sk]; !ok {
				continue
			}
		}
		ok, err := evalCondition(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}

	sortKey := schema.sk
	if sortKey == "" {
		sortKey = t.key.sk
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareSortKey(matched[i][sortKey], matched[j][sortKey])
		if forward {
			return c < 0
		}
		return c > 0
	})
	if start := in.ExclusiveStartKey; len(start) > 0 {
		startKey, err := t.keyOf(start)
		if err != nil {
			return nil, err
		}
		for i, item := range matched {
			if k, _ := t.keyOf(item); k == startKey {
				matched = matched[i+1:]
				break
			}
		}
	}

	limit := len(matched)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	if db.QueryPageSize > 0 && db.QueryPageSize < limit {
		limit = db.QueryPageSize
	}
	var lastKey map[string]types.AttributeValue
	if limit > 0 && limit < len(matched) {
		last := matched[limit-1]
		lastKey = t.keyAttrs(last)
		lastKey[schema.pk] = last[schema.pk]
		if schema.sk != "" {
			lastKey[schema.sk] = last[schema.sk]
		}
	}
	matched = matched[:limit]

	out := &dynamodb.QueryOutput{Count: int32(len(matched)), LastEvaluatedKey: lastKey}
	for _, item := range matched {
		out.Items = append(out.Items, cloneItem(item))
	}
	return out, nil
}

func compareSortKey(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, _ := decimal.NewFromString(an.Value)
		y, _ := decimal.NewFromString(bn.Value)
		return x.Cmp(y)
	}
	as, _ := scalar(a)
	bs, _ := scalar(b)
	return strings.Compare(as, bs)
}

type pendingWrite struct {
	t      *table
	key    string
	item   map[string]types.AttributeValue
	remove bool
}

// TransactWriteItems checks every condition before applying any write. A
// failed check cancels the whole transaction with per-item reasons, in
// request order.
func (db *DB) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if then, err := db.conflict(in); err != nil {
		if then != nil {
			then()
		}
		return nil, err
	}
	return db.transact(ctx, in)
}

// conflict consumes a pending ConflictNext mark hit by in.
func (db *DB) conflict(in *dynamodb.TransactWriteItemsInput) (func(), error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.conflicts) == 0 {
		return nil, nil
	}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	hit := -1
	var then func()
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		var tableName string
		var key map[string]types.AttributeValue
		switch {
		case ti.Put != nil:
			tableName, key = aws.ToString(ti.Put.TableName), ti.Put.Item
		case ti.Update != nil:
			tableName, key = aws.ToString(ti.Update.TableName), ti.Update.Key
		case ti.Delete != nil:
			tableName, key = aws.ToString(ti.Delete.TableName), ti.Delete.Key
		case ti.ConditionCheck != nil:
			tableName, key = aws.ToString(ti.ConditionCheck.TableName), ti.ConditionCheck.Key
		}
		t, ok := db.tables[tableName]
		if !ok || hit >= 0 {
			continue
		}
		k, err := t.keyOf(key)
		if err != nil {
			continue
		}
		if fn, ok := db.conflicts[tableName+"|"+k]; ok {
			delete(db.conflicts, tableName+"|"+k)
			hit, then = i, fn
			reasons[i] = types.CancellationReason{
				Code:    aws.String("TransactionConflict"),
				Message: aws.String("Transaction is ongoing for the item"),
			}
		}
	}
	if hit < 0 {
		return nil, nil
	}
	db.TransactCalls++
	return then, &types.TransactionCanceledException{
		Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
		CancellationReasons: reasons,
	}
}

func (db *DB) transact(ctx context.Context, in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.TransactCalls++
	if err := db.injected("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, validationErr("transaction must contain 1 to 100 items")
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	writes := make([]pendingWrite, 0, len(in.TransactItems))
	seen := map[string]bool{}
	failed := false

	for i, ti := range in.TransactItems {
		var (
			tableName, cond, update string
			key, put                map[string]types.AttributeValue
			names                   map[string]string
			values                  map[string]types.AttributeValue
			remove                  bool
		)
		switch {
		case ti.Put != nil:
			tableName, cond, put = aws.ToString(ti.Put.TableName), aws.ToString(ti.Put.ConditionExpression), ti.Put.Item
			names, values = ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			tableName, cond, update, key = aws.ToString(ti.Update.TableName), aws.ToString(ti.Update.ConditionExpression), aws.ToString(ti.Update.UpdateExpression), ti.Update.Key
			names, values = ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.Delete != nil:
			tableName, cond, key, remove = aws.ToString(ti.Delete.TableName), aws.ToString(ti.Delete.ConditionExpression), ti.Delete.Key, true
			names, values = ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			tableName, cond, key = aws.ToString(ti.ConditionCheck.TableName), aws.ToString(ti.ConditionCheck.ConditionExpression), ti.ConditionCheck.Key
			names, values = ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, validationErr(fmt.Sprintf("transact item %d has no operation", i))
		}

		t, err := db.table(tableName)
		if err != nil {
			return nil, err
		}
		keySource := key
		if put != nil {
			keySource = put
		}
		k, err := t.keyOf(keySource)
		if err != nil {
			return nil, err
		}
		if seen[tableName+"|"+k] {
			return nil, validationErr("transaction cannot include multiple operations on one item")
		}
		seen[tableName+"|"+k] = true

		cur, _ := t.current(k)
		ok, err := evalCondition(cond, names, values, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Message: aws.String("The conditional request failed")}
			continue
		}
		reasons[i] = types.CancellationReason{Code: aws.String("None")}

		switch {
		case put != nil:
			writes = append(writes, pendingWrite{t: t, key: k, item: cloneItem(put)})
		case update != "":
			next, err := t.updated(t.keyAttrs(key), cur, update, names, values)
			if err != nil {
				return nil, err
			}
			writes = append(writes, pendingWrite{t: t, key: k, item: next})
		case remove:
			writes = append(writes, pendingWrite{t: t, key: k, remove: true})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.remove {
			delete(w.t.items, w.key)
			continue
		}
		w.t.items[w.key] = w.item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
