package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func orderEntry() ledger.Entry {
	return ledger.Entry{
		PartitionKey:   ledger.NamespaceOrder.Key("o1"),
		SortKey:        "ORDER_CREATED#1772366400000",
		RequesterEmail: "a@b.co",
		EventType:      "ORDER_CREATED",
		Payload:        json.RawMessage(`{"total":10}`),
		TTL:            ledger.ExpiresAt(fixedNow, 5*time.Minute),
	}
}

func TestLedgerStore_WriteOnce(t *testing.T) {
	fake := newFakeDynamo()
	store := NewLedgerStore(fake, DefaultTables())
	store.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, orderEntry(), ledger.WriteOnce))
	err := store.Append(ctx, orderEntry(), ledger.WriteOnce)
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))

	got, err := store.Get(ctx, orderEntry().PartitionKey, orderEntry().SortKey)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", got.RequesterEmail)
	assert.JSONEq(t, `{"total":10}`, string(got.Payload))

	require.NoError(t, store.Append(ctx, orderEntry(), ledger.Overwrite))
}

func TestLedgerStore_WriteOnceConcurrent(t *testing.T) {
	fake := newFakeDynamo()
	store := NewLedgerStore(fake, DefaultTables())
	store.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Append(ctx, orderEntry(), ledger.WriteOnce)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrConditionFailed):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), dup.Load())
}

func TestLedgerStore_ExpiredEntry(t *testing.T) {
	fake := newFakeDynamo()
	store := NewLedgerStore(fake, DefaultTables())
	store.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, orderEntry(), ledger.WriteOnce))

	store.now = func() time.Time { return fixedNow.Add(10 * time.Minute) }
	_, err := store.Get(ctx, orderEntry().PartitionKey, orderEntry().SortKey)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	require.NoError(t, store.Append(ctx, orderEntry(), ledger.WriteOnce), "expired key can be rewritten")
}

func TestLedgerStore_QueryByRequester(t *testing.T) {
	fake := newFakeDynamo()
	fake.queryOut = &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"pk":             &types.AttributeValueMemberS{Value: "order#o1"},
			"sk":             &types.AttributeValueMemberS{Value: "ORDER_CREATED#1"},
			"requesterEmail": &types.AttributeValueMemberS{Value: "a@b.co"},
			"createdAt":      &types.AttributeValueMemberS{Value: fixedNow.Format(time.RFC3339Nano)},
		}},
		LastEvaluatedKey: map[string]types.AttributeValue{
			"pk":             &types.AttributeValueMemberS{Value: "order#o1"},
			"sk":             &types.AttributeValueMemberS{Value: "ORDER_CREATED#1"},
			"requesterEmail": &types.AttributeValueMemberS{Value: "a@b.co"},
		},
	}
	store := NewLedgerStore(fake, DefaultTables())
	ctx := context.Background()

	page, err := store.QueryByRequester(ctx, ledger.RequesterQuery{Email: "a@b.co", EventType: "ORDER_CREATED"}, ledger.PageRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "order#o1", page.Entries[0].PartitionKey)
	require.NotEmpty(t, page.NextCursor)

	q := fake.lastQuery
	assert.Equal(t, "emailIndex", aws.ToString(q.IndexName))
	assert.Equal(t, "requesterEmail = :email AND begins_with(sk, :type)", aws.ToString(q.KeyConditionExpression))
	assert.Equal(t, "ORDER_CREATED#", q.ExpressionAttributeValues[":type"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, int32(1), aws.ToInt32(q.Limit))
	assert.Nil(t, q.ExclusiveStartKey)

	fake.queryOut = &dynamodb.QueryOutput{}
	page, err = store.QueryByRequester(ctx, ledger.RequesterQuery{Email: "a@b.co"}, ledger.PageRequest{Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "requesterEmail = :email", aws.ToString(fake.lastQuery.KeyConditionExpression))
	assert.Equal(t, "ORDER_CREATED#1", fake.lastQuery.ExclusiveStartKey["sk"].(*types.AttributeValueMemberS).Value)

	_, err = store.QueryByRequester(ctx, ledger.RequesterQuery{Email: "a@b.co"}, ledger.PageRequest{Cursor: "%%%"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func newTransaction(t *testing.T, id string) *invoice.ImportTransaction {
	t.Helper()
	tx, err := invoice.NewImportTransaction(id, "conn-1", "uploads/"+id+".csv", "req-1", fixedNow, fixedNow.Add(5*time.Minute))
	require.NoError(t, err)
	return tx
}

func TestTransactionRepository_Lifecycle(t *testing.T) {
	fake := newFakeDynamo()
	repo := NewTransactionRepository(fake, DefaultTables())
	repo.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTransaction(t, "t1")))
	assert.True(t, errors.Is(repo.Create(ctx, newTransaction(t, "t1")), shared.ErrConditionFailed))

	tx, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusURLIssued, tx.Status)

	puts := fake.puts
	_, err = repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))
	assert.Equal(t, puts, fake.puts, "rejected transition writes nothing")

	tx, err = repo.Transition(ctx, "t1", invoice.Cancellable, invoice.StatusCancelled)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, got.Status)
	assert.Equal(t, tx.ExpiresAt, got.ExpiresAt)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestTransactionRepository_LosesRace(t *testing.T) {
	fake := newFakeDynamo()
	repo := NewTransactionRepository(fake, DefaultTables())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTransaction(t, "t1")))

	// another writer moves the row between our read and our write
	fake.beforePut = func(in *dynamodb.PutItemInput) {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		for _, it := range fake.table(aws.ToString(in.TableName)) {
			it["status"] = &types.AttributeValueMemberS{Value: string(invoice.StatusFailed)}
		}
	}
	_, err := repo.Transition(ctx, "t1", []invoice.Status{invoice.StatusStarted}, invoice.StatusURLIssued)
	assert.True(t, errors.Is(err, shared.ErrConditionFailed))
}

func TestTransactionRepository_FindExpired(t *testing.T) {
	fake := newFakeDynamo()
	repo := NewTransactionRepository(fake, DefaultTables())
	ctx := context.Background()

	_, err := repo.FindExpired(ctx, invoice.StatusURLIssued, fixedNow, 10)
	require.NoError(t, err)

	q := fake.lastQuery
	assert.Equal(t, "statusIndex", aws.ToString(q.IndexName))
	assert.Equal(t, "#status = :status AND expiresAt < :before", aws.ToString(q.KeyConditionExpression))
	assert.Equal(t, "URL_ISSUED", q.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value)
	before, ok := q.ExpressionAttributeValues[":before"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1772366400", before.Value)
}

func TestConnectionDirectory(t *testing.T) {
	fake := newFakeDynamo()
	dir := NewConnectionDirectory(fake, DefaultTables(), time.Hour)
	ctx := context.Background()

	require.NoError(t, dir.Put(ctx, connection.Connection{ConnectionID: "c1", EstablishedAt: fixedNow}))
	got, err := dir.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(got.EstablishedAt))

	stored := fake.table("commerce-connections")["c1"]
	ttl, ok := num(stored, "ttl")
	require.True(t, ok)
	assert.Equal(t, fixedNow.Add(time.Hour).Unix(), ttl)

	require.NoError(t, dir.Delete(ctx, "c1"))
	require.NoError(t, dir.Delete(ctx, "c1"))
	_, err = dir.Get(ctx, "c1")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestBlockedUserRepository(t *testing.T) {
	fake := newFakeDynamo()
	repo := NewBlockedUserRepository(fake, DefaultTables())
	ctx := context.Background()

	active, err := identity.NewBlockedUser("Fraud@Example.com", identity.ReasonFraud, "ops", 0, "", fixedNow)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, active))

	lifted, err := identity.NewBlockedUser("old@example.com", "", "", time.Hour, "", fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	lifted.Active = false
	require.NoError(t, repo.Save(ctx, lifted))

	got, err := repo.FindByEmail(ctx, "FRAUD@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.ReasonFraud, got.Reason)
	assert.True(t, got.IsBlocked(fixedNow))

	list, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fraud@example.com", list[0].Email)

	require.NoError(t, repo.Delete(ctx, "fraud@example.com"))
	_, err = repo.FindByEmail(ctx, "fraud@example.com")
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError("op", nil))
	assert.True(t, errors.Is(storeError("op", conditionFailed()), shared.ErrConditionFailed))
	assert.True(t, errors.Is(storeError("op", &types.ProvisionedThroughputExceededException{}), shared.ErrTransientStore))
	assert.True(t, errors.Is(storeError("op", &smithy.GenericAPIError{Code: "ThrottlingException", Fault: smithy.FaultClient}), shared.ErrTransientStore))
	assert.True(t, errors.Is(storeError("op", errors.New("connection reset")), shared.ErrTransientStore))
	assert.Equal(t, context.Canceled, storeError("op", context.Canceled))

	validation := storeError("op", &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient})
	assert.False(t, shared.IsRetryable(validation))
}
