package dynamo

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type blockedUserItem struct {
	Email     string     `dynamodbav:"email"`
	Reason    string     `dynamodbav:"reason"`
	BlockedBy string     `dynamodbav:"blockedBy"`
	BlockedAt time.Time  `dynamodbav:"blockedAt"`
	Active    bool       `dynamodbav:"isActive"`
	ExpiresAt *time.Time `dynamodbav:"expiresAt,omitempty"`
	Notes     string     `dynamodbav:"notes,omitempty"`
}

// BlockedUserRepository implements identity.BlockedUserRepository on the
// blocked-users table keyed by email.
type BlockedUserRepository struct {
	client API
	table  string
}

func NewBlockedUserRepository(client API, tables Tables) *BlockedUserRepository {
	return &BlockedUserRepository{client: client, table: tables.BlockedUsers}
}

func (r *BlockedUserRepository) Save(ctx context.Context, u *identity.BlockedUser) error {
	item, err := attributevalue.MarshalMap(blockedUserItem(*u))
	if err != nil {
		return shared.ErrValidation.Wrap(err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: item})
	return storeError("save blocked user", err)
}

func (r *BlockedUserRepository) FindByEmail(ctx context.Context, email string) (*identity.BlockedUser, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: identity.NormalizeEmail(email)},
		},
	})
	if err != nil {
		return nil, storeError("find blocked user", err)
	}
	if out.Item == nil {
		return nil, shared.ErrNotFound.Withf("%s is not blocked", email)
	}
	var row blockedUserItem
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, storeError("find blocked user", err)
	}
	u := identity.BlockedUser(row)
	return &u, nil
}

func (r *BlockedUserRepository) Delete(ctx context.Context, email string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: identity.NormalizeEmail(email)},
		},
	})
	return storeError("delete blocked user", err)
}

// ListActive scans the table. The block list is small and read by operators
// only, so a scan is acceptable.
func (r *BlockedUserRepository) ListActive(ctx context.Context) ([]*identity.BlockedUser, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(r.table),
		FilterExpression: aws.String("isActive = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
	var out []*identity.BlockedUser
	for {
		resp, err := r.client.Scan(ctx, in)
		if err != nil {
			return nil, storeError("list blocked users", err)
		}
		var rows []blockedUserItem
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &rows); err != nil {
			return nil, storeError("list blocked users", err)
		}
		for _, row := range rows {
			u := identity.BlockedUser(row)
			out = append(out, &u)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = resp.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.After(out[j].BlockedAt) })
	return out, nil
}

var _ identity.BlockedUserRepository = (*BlockedUserRepository)(nil)
