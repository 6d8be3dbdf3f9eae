package dynamo

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/ledger"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type ledgerItem struct {
	PK             string    `dynamodbav:"pk"`
	SK             string    `dynamodbav:"sk"`
	RequesterEmail string    `dynamodbav:"requesterEmail,omitempty"`
	EventType      string    `dynamodbav:"eventType,omitempty"`
	Payload        string    `dynamodbav:"payload,omitempty"`
	TTL            *int64    `dynamodbav:"ttl,omitempty"`
	CreatedAt      time.Time `dynamodbav:"createdAt"`
}

func (i ledgerItem) toDomain() ledger.Entry {
	e := ledger.Entry{
		PartitionKey:   i.PK,
		SortKey:        i.SK,
		RequesterEmail: i.RequesterEmail,
		EventType:      i.EventType,
		TTL:            i.TTL,
		CreatedAt:      i.CreatedAt,
	}
	if i.Payload != "" {
		e.Payload = []byte(i.Payload)
	}
	return e
}

// LedgerStore implements ledger.Store on the main table. Expired entries are
// filtered on read because DynamoDB removes TTL'd items lazily.
type LedgerStore struct {
	client API
	tables Tables
	now    func() time.Time
}

// NewLedgerStore creates a DynamoDB ledger store.
func NewLedgerStore(client API, tables Tables) *LedgerStore {
	return &LedgerStore{client: client, tables: tables, now: time.Now}
}

// Append puts entry. WriteOnce adds a condition that no live item holds the
// key, so an expired leftover can be replaced.
func (s *LedgerStore) Append(ctx context.Context, entry ledger.Entry, mode ledger.Mode) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	item, err := attributevalue.MarshalMap(ledgerItem{
		PK:             entry.PartitionKey,
		SK:             entry.SortKey,
		RequesterEmail: entry.RequesterEmail,
		EventType:      entry.EventType,
		Payload:        string(entry.Payload),
		TTL:            entry.TTL,
		CreatedAt:      entry.CreatedAt,
	})
	if err != nil {
		return shared.ErrValidation.Wrap(err)
	}

	in := &dynamodb.PutItemInput{TableName: aws.String(s.tables.Main), Item: item}
	if mode == ledger.WriteOnce {
		in.ConditionExpression = aws.String("attribute_not_exists(pk) OR (attribute_exists(#ttl) AND #ttl <= :now)")
		in.ExpressionAttributeNames = map[string]string{"#ttl": "ttl"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		}
	}
	if _, err := s.client.PutItem(ctx, in); err != nil {
		return storeError("ledger append "+entry.PartitionKey, err)
	}
	return nil
}

func (s *LedgerStore) Get(ctx context.Context, partitionKey, sortKey string) (ledger.Entry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Main),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: partitionKey},
			"sk": &types.AttributeValueMemberS{Value: sortKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return ledger.Entry{}, storeError("ledger get", err)
	}
	if out.Item == nil {
		return ledger.Entry{}, shared.ErrNotFound.Withf("ledger entry %s/%s not found", partitionKey, sortKey)
	}
	var item ledgerItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return ledger.Entry{}, storeError("ledger get", err)
	}
	e := item.toDomain()
	if e.Expired(s.now()) {
		return ledger.Entry{}, shared.ErrNotFound.Withf("ledger entry %s/%s expired", partitionKey, sortKey)
	}
	return e, nil
}

// QueryByRequester reads one page of the email index. Because the TTL filter
// runs after Limit is applied, a page may hold fewer entries than requested
// while still carrying a cursor.
func (s *LedgerStore) QueryByRequester(ctx context.Context, q ledger.RequesterQuery, page ledger.PageRequest) (ledger.Page, error) {
	page = page.Normalize()
	position, err := ledger.DecodeCursor(page.Cursor)
	if err != nil {
		return ledger.Page{}, err
	}

	keyCond := "requesterEmail = :email"
	values := map[string]types.AttributeValue{
		":email": &types.AttributeValueMemberS{Value: q.Email},
		":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
	}
	if prefix := q.SortKeyPrefix(); prefix != "" {
		keyCond += " AND begins_with(sk, :type)"
		values[":type"] = &types.AttributeValueMemberS{Value: prefix}
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Main),
		IndexName:                 aws.String(s.tables.EmailIndex),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String("attribute_not_exists(#ttl) OR #ttl > :now"),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(int32(page.Limit)),
	}
	if position != nil {
		in.ExclusiveStartKey = make(map[string]types.AttributeValue, len(position))
		for k, v := range position {
			in.ExclusiveStartKey[k] = &types.AttributeValueMemberS{Value: v}
		}
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return ledger.Page{}, storeError("ledger query", err)
	}

	var items []ledgerItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return ledger.Page{}, storeError("ledger query", err)
	}
	result := ledger.Page{Entries: make([]ledger.Entry, 0, len(items))}
	for _, it := range items {
		result.Entries = append(result.Entries, it.toDomain())
	}
	if len(out.LastEvaluatedKey) > 0 {
		next := make(map[string]string, len(out.LastEvaluatedKey))
		for k, v := range out.LastEvaluatedKey {
			if sv, ok := v.(*types.AttributeValueMemberS); ok {
				next[k] = sv.Value
			}
		}
		result.NextCursor = ledger.EncodeCursor(next)
	}
	return result, nil
}

var _ ledger.Store = (*LedgerStore)(nil)
