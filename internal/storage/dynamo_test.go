package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	logx "pierre/pkg/logx"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB API with a fixed
// hash key "scope" and range key "id". Scan and Query return pageSize items
// per call.
type fakeDynamo struct {
	mu       sync.Mutex
	order    []string
	items    map[string]map[string]types.AttributeValue
	pageSize int

	scans   int
	queries int
	failOn  string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func attrString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

func fakeKey(m map[string]types.AttributeValue) string {
	return attrString(m["scope"]) + "#" + attrString(m["id"])
}

func (f *fakeDynamo) fail(op string) error {
	if f.failOn == op {
		return &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
	}
	return nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: f.items[fakeKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("put"); err != nil {
		return nil, err
	}
	k := fakeKey(in.Item)
	if _, ok := f.items[k]; !ok {
		f.order = append(f.order, k)
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("delete"); err != nil {
		return nil, err
	}
	k := fakeKey(in.Key)
	delete(f.items, k)
	for i, o := range f.order {
		if o == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) page(start map[string]types.AttributeValue, match func(map[string]types.AttributeValue) bool) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	keys := append([]string(nil), f.order...)
	from := 0
	if len(start) > 0 {
		sk := fakeKey(start)
		for i, k := range keys {
			if k == sk {
				from = i + 1
				break
			}
		}
	}
	var out []map[string]types.AttributeValue
	for i := from; i < len(keys); i++ {
		it := f.items[keys[i]]
		if match != nil && !match(it) {
			continue
		}
		out = append(out, it)
		if len(out) == f.pageSize && i < len(keys)-1 {
			return out, map[string]types.AttributeValue{"scope": it["scope"], "id": it["id"]}
		}
	}
	return out, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("scan"); err != nil {
		return nil, err
	}
	f.scans++
	items, last := f.page(in.ExclusiveStartKey, nil)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("query"); err != nil {
		return nil, err
	}
	f.queries++
	attr := in.ExpressionAttributeNames["#p"]
	want := attrString(in.ExpressionAttributeValues[":p"])
	items, last := f.page(in.ExclusiveStartKey, func(it map[string]types.AttributeValue) bool {
		return attrString(it[attr]) == want
	})
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func testCodec() ItemCodec[testItem, testKey] {
	return ItemCodec[testItem, testKey]{
		EncodeItem: func(it testItem) (map[string]types.AttributeValue, error) {
			return attributevalue.MarshalMap(it)
		},
		EncodeKey: func(k testKey) (map[string]types.AttributeValue, error) {
			return attributevalue.MarshalMap(struct {
				Scope string `dynamodbav:"scope"`
				ID    int64  `dynamodbav:"id"`
			}{Scope: k.Scope, ID: k.ID})
		},
		DecodeItem: func(m map[string]types.AttributeValue) (testItem, error) {
			var it testItem
			err := attributevalue.UnmarshalMap(m, &it)
			return it, err
		},
	}
}

func newTestDynamoStore(t *testing.T, api DynamoAPI) *DynamoStore[testItem, testKey] {
	t.Helper()
	s, err := NewDynamoStore(api, DynamoConfig{Table: "processed_prs"}, testCodec(), logx.Nop())
	if err != nil {
		t.Fatalf("NewDynamoStore error: %v", err)
	}
	return s
}

func TestDynamoStoreCRUDWithPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := newFakeDynamo()
	s := newTestDynamoStore(t, api)

	for i := int64(1); i <= 5; i++ {
		if err := s.Create(ctx, testItem{ID: i, Scope: "PRJ/repo", Title: "t"}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("List = %d items, want 5", len(items))
	}
	if api.scans != 3 {
		t.Fatalf("scan calls = %d, want 3 pages", api.scans)
	}

	got, ok, err := s.Find(ctx, testKey{ID: 3, Scope: "PRJ/repo"})
	if err != nil || !ok || got.ID != 3 {
		t.Fatalf("Find = %+v ok:%v err:%v", got, ok, err)
	}
	if _, ok, err := s.Find(ctx, testKey{ID: 9, Scope: "PRJ/repo"}); err != nil || ok {
		t.Fatalf("Find(absent) = ok:%v err:%v", ok, err)
	}

	if err := s.Delete(ctx, testKey{ID: 3, Scope: "PRJ/repo"}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := s.Find(ctx, testKey{ID: 3, Scope: "PRJ/repo"}); ok {
		t.Fatal("item still present after Delete")
	}
}

func TestDynamoStorePartitionQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := newFakeDynamo()
	s := newTestDynamoStore(t, api)

	_ = s.Create(ctx, testItem{ID: 1, Scope: "PRJ/a"})
	_ = s.Create(ctx, testItem{ID: 2, Scope: "PRJ/b"})
	_ = s.Create(ctx, testItem{ID: 3, Scope: "PRJ/a"})

	items, err := s.ForPartition("scope", "PRJ/a").List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("partition List = %+v, want 2 items", items)
	}
	for _, it := range items {
		if it.Scope != "PRJ/a" {
			t.Fatalf("unexpected item from another partition: %+v", it)
		}
	}
	if api.queries == 0 || api.scans != 0 {
		t.Fatalf("queries=%d scans=%d, want Query only", api.queries, api.scans)
	}
}

func TestDynamoStoreWrapsAPIErrors(t *testing.T) {
	t.Parallel()
	api := newFakeDynamo()
	api.failOn = "put"
	s := newTestDynamoStore(t, api)

	err := s.Create(context.Background(), testItem{ID: 1, Scope: "PRJ/a"})
	if err == nil {
		t.Fatal("expected error")
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error %v does not unwrap to smithy.APIError", err)
	}
	if !strings.Contains(err.Error(), "ProvisionedThroughputExceededException") {
		t.Fatalf("error %q does not name the API code", err)
	}
}

func TestNewDynamoStoreValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewDynamoStore(newFakeDynamo(), DynamoConfig{}, testCodec(), logx.Nop()); err == nil {
		t.Fatal("expected error for missing table")
	}
	if _, err := NewDynamoStore[testItem, testKey](nil, DynamoConfig{Table: "t"}, testCodec(), logx.Nop()); err == nil {
		t.Fatal("expected error for nil client")
	}
}
