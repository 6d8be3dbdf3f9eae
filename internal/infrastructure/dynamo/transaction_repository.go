package dynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// transactionSortKey is the fixed sort key of a transaction's state item.
const transactionSortKey = "STATE"

type transactionItem struct {
	PK            string    `dynamodbav:"pk"`
	SK            string    `dynamodbav:"sk"`
	TransactionID string    `dynamodbav:"transactionId"`
	ConnectionID  string    `dynamodbav:"connectionId"`
	Status        string    `dynamodbav:"status"`
	ResourceKey   string    `dynamodbav:"resourceKey"`
	RequestID     string    `dynamodbav:"requestId,omitempty"`
	Reason        string    `dynamodbav:"reason,omitempty"`
	Processed     int       `dynamodbav:"processed"`
	Skipped       int       `dynamodbav:"skipped"`
	ExpiresAt     time.Time `dynamodbav:"expiresAt,unixtime"`
	CreatedAt     time.Time `dynamodbav:"createdAt"`
	UpdatedAt     time.Time `dynamodbav:"updatedAt"`
}

func transactionItemFromDomain(t *invoice.ImportTransaction) transactionItem {
	return transactionItem{
		PK:            t.PartitionKey(),
		SK:            transactionSortKey,
		TransactionID: t.TransactionID,
		ConnectionID:  t.ConnectionID,
		Status:        string(t.Status),
		ResourceKey:   t.ResourceKey,
		RequestID:     t.RequestID,
		Reason:        t.Reason,
		Processed:     t.Processed,
		Skipped:       t.Skipped,
		ExpiresAt:     t.ExpiresAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (i transactionItem) toDomain() *invoice.ImportTransaction {
	return &invoice.ImportTransaction{
		TransactionID: i.TransactionID,
		ConnectionID:  i.ConnectionID,
		Status:        invoice.Status(i.Status),
		ResourceKey:   i.ResourceKey,
		RequestID:     i.RequestID,
		Reason:        i.Reason,
		Processed:     i.Processed,
		Skipped:       i.Skipped,
		ExpiresAt:     i.ExpiresAt.UTC(),
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

// TransactionRepository implements invoice.TransactionRepository on the main
// table under the "transaction#" namespace. Transitions are optimistic: the
// item is read, the move validated in memory, and the write conditioned on
// the status that was read.
type TransactionRepository struct {
	client API
	tables Tables
	now    func() time.Time
}

// NewTransactionRepository creates a DynamoDB transaction repository.
func NewTransactionRepository(client API, tables Tables) *TransactionRepository {
	return &TransactionRepository{client: client, tables: tables, now: time.Now}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *invoice.ImportTransaction) error {
	item, err := attributevalue.MarshalMap(transactionItemFromDomain(tx))
	if err != nil {
		return shared.ErrValidation.Wrap(err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tables.Main),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	return storeError("create transaction "+tx.TransactionID, err)
}

func (r *TransactionRepository) Get(ctx context.Context, transactionID string) (*invoice.ImportTransaction, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tables.Main),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: ledger.NamespaceTransaction.Key(transactionID)},
			"sk": &types.AttributeValueMemberS{Value: transactionSortKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeError("get transaction", err)
	}
	if out.Item == nil {
		return nil, shared.ErrNotFound.Withf("transaction %s not found", transactionID)
	}
	var item transactionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, storeError("get transaction", err)
	}
	return item.toDomain(), nil
}

func (r *TransactionRepository) Transition(ctx context.Context, transactionID string, from []invoice.Status, to invoice.Status, mutations ...invoice.Mutation) (*invoice.ImportTransaction, error) {
	tx, err := r.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	read := tx.Status
	if err := tx.Apply(from, to, r.now(), mutations...); err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(transactionItemFromDomain(tx))
	if err != nil {
		return nil, shared.ErrValidation.Wrap(err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tables.Main),
		Item:                     item,
		ConditionExpression:      aws.String("#status = :read"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":read": &types.AttributeValueMemberS{Value: string(read)},
		},
	})
	if err != nil {
		return nil, storeError("transition transaction "+transactionID, err)
	}
	return tx, nil
}

func (r *TransactionRepository) FindExpired(ctx context.Context, status invoice.Status, before time.Time, limit int) ([]*invoice.ImportTransaction, error) {
	before = before.UTC()
	in := &dynamodb.QueryInput{
		TableName:                aws.String(r.tables.Main),
		IndexName:                aws.String(r.tables.StatusIndex),
		KeyConditionExpression:   aws.String("#status = :status AND expiresAt < :before"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
	}
	values, err := attributevalue.MarshalMap(map[string]any{
		":status": string(status),
		":before": attributevalue.UnixTime(before),
	})
	if err != nil {
		return nil, storeError("find expired transactions", err)
	}
	in.ExpressionAttributeValues = values
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := r.client.Query(ctx, in)
	if err != nil {
		return nil, storeError("find expired transactions", err)
	}
	var items []transactionItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, storeError("find expired transactions", err)
	}
	result := make([]*invoice.ImportTransaction, len(items))
	for i := range items {
		result[i] = items[i].toDomain()
	}
	return result, nil
}

var _ invoice.TransactionRepository = (*TransactionRepository)(nil)
