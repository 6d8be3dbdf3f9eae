// Package dynamo implements the ledger, transaction, connection and block
// list ports on DynamoDB tables.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// API is the subset of the DynamoDB client used by the stores.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Tables names the tables and indexes the stores use.
type Tables struct {
	// Main holds ledger entries and import transactions.
	Main string
	// EmailIndex is a GSI on Main keyed (requesterEmail, sk).
	EmailIndex string
	// StatusIndex is a GSI on Main keyed (status, expiresAt).
	StatusIndex  string
	Connections  string
	BlockedUsers string
}

// DefaultTables returns the table names used by the deployment templates.
func DefaultTables() Tables {
	return Tables{
		Main:         "commerce-main",
		EmailIndex:   "emailIndex",
		StatusIndex:  "statusIndex",
		Connections:  "commerce-connections",
		BlockedUsers: "commerce-blocked-users",
	}
}

// throttling error codes worth retrying
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"ThrottlingException":                    true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionConflictException":           true,
}

// storeError maps SDK errors onto the domain error kinds.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return shared.ErrConditionFailed.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("%s: table missing: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && !transientCodes[apiErr.ErrorCode()] && apiErr.ErrorFault() == smithy.FaultClient {
		return fmt.Errorf("%s: %w", op, err)
	}
	return shared.ErrTransientStore.Wrap(fmt.Errorf("%s: %w", op, err))
}
