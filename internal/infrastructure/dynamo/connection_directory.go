package dynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type connectionItem struct {
	ConnectionID  string    `dynamodbav:"connectionId"`
	EstablishedAt time.Time `dynamodbav:"establishedAt"`
	TTL           int64     `dynamodbav:"ttl,omitempty"`
}

// ConnectionDirectory implements connection.Directory on the connections
// table. Rows optionally carry a TTL so abandoned channels age out.
type ConnectionDirectory struct {
	client API
	table  string
	ttl    time.Duration
}

// NewConnectionDirectory creates a directory; ttl <= 0 disables expiry.
func NewConnectionDirectory(client API, tables Tables, ttl time.Duration) *ConnectionDirectory {
	return &ConnectionDirectory{client: client, table: tables.Connections, ttl: ttl}
}

func (d *ConnectionDirectory) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"connectionId": &types.AttributeValueMemberS{Value: id}}
}

func (d *ConnectionDirectory) Put(ctx context.Context, conn connection.Connection) error {
	row := connectionItem{ConnectionID: conn.ConnectionID, EstablishedAt: conn.EstablishedAt}
	if d.ttl > 0 {
		row.TTL = conn.EstablishedAt.Add(d.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return shared.ErrValidation.Wrap(err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: item})
	return storeError("put connection", err)
}

func (d *ConnectionDirectory) Get(ctx context.Context, connectionID string) (connection.Connection, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(connectionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return connection.Connection{}, storeError("get connection", err)
	}
	if out.Item == nil {
		return connection.Connection{}, shared.ErrNotFound.Withf("connection %s not found", connectionID)
	}
	var row connectionItem
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return connection.Connection{}, storeError("get connection", err)
	}
	return connection.Connection{ConnectionID: row.ConnectionID, EstablishedAt: row.EstablishedAt}, nil
}

func (d *ConnectionDirectory) Delete(ctx context.Context, connectionID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(connectionID),
	})
	return storeError("delete connection", err)
}

var _ connection.Directory = (*ConnectionDirectory)(nil)
