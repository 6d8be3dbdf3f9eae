package dynamo

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// fakeDynamo keeps items per table and understands the handful of condition
// expressions the stores issue.
type fakeDynamo struct {
	mu        sync.Mutex
	tables    map[string]map[string]item
	lastQuery *dynamodb.QueryInput
	queryOut  *dynamodb.QueryOutput
	beforePut func(in *dynamodb.PutItemInput)
	err       error
	puts      int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: map[string]map[string]item{}}
}

func keyOf(m item) string {
	var parts []string
	for _, name := range []string{"pk", "sk", "connectionId", "email"} {
		if v, ok := m[name].(*types.AttributeValueMemberS); ok {
			parts = append(parts, v.Value)
		}
	}
	return strings.Join(parts, "|")
}

func str(m item, name string) string {
	if v, ok := m[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func num(m item, name string) (int64, bool) {
	v, ok := m[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, _ := strconv.ParseInt(v.Value, 10, 64)
	return n, true
}

func (f *fakeDynamo) table(name string) map[string]item {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]item{}
		f.tables[name] = t
	}
	return t
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.beforePut != nil {
		f.beforePut(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := f.table(aws.ToString(in.TableName))
	k := keyOf(in.Item)
	existing, exists := t[k]

	switch cond := aws.ToString(in.ConditionExpression); {
	case cond == "attribute_not_exists(pk)":
		if exists {
			return nil, conditionFailed()
		}
	case strings.HasPrefix(cond, "attribute_not_exists(pk) OR"):
		if exists {
			now, _ := num(in.ExpressionAttributeValues, ":now")
			ttl, hasTTL := num(existing, "ttl")
			if !hasTTL || ttl > now {
				return nil, conditionFailed()
			}
		}
	case cond == "#status = :read":
		read := in.ExpressionAttributeValues[":read"].(*types.AttributeValueMemberS).Value
		if !exists || str(existing, "status") != read {
			return nil, conditionFailed()
		}
	}
	f.puts++
	t[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.table(aws.ToString(in.TableName))[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.table(aws.ToString(in.TableName)), keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = in
	if f.err != nil {
		return nil, f.err
	}
	if f.queryOut == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOut, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []item
	for _, it := range f.table(aws.ToString(in.TableName)) {
		if active, ok := it["isActive"].(*types.AttributeValueMemberBOOL); ok && !active.Value {
			continue
		}
		out = append(out, it)
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

var _ API = (*fakeDynamo)(nil)
