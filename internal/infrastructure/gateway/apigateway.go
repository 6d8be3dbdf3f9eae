package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/connection"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// ManagementAPI is the subset of the API Gateway management client used.
type ManagementAPI interface {
	PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// APIGatewayPusher pushes to channels held by an API Gateway WebSocket API.
type APIGatewayPusher struct {
	client ManagementAPI
}

func NewAPIGatewayPusher(client ManagementAPI) *APIGatewayPusher {
	return &APIGatewayPusher{client: client}
}

// NewAPIGatewayPusherFromConfig targets the stage's management endpoint,
// e.g. https://{api-id}.execute-api.{region}.amazonaws.com/{stage}.
func NewAPIGatewayPusherFromConfig(cfg aws.Config, endpoint string) *APIGatewayPusher {
	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return NewAPIGatewayPusher(client)
}

func (p *APIGatewayPusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	_, err := p.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         payload,
	})
	if err == nil {
		return nil
	}
	var gone *types.GoneException
	if errors.As(err, &gone) {
		return shared.ErrChannelGone.Wrap(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var limit *types.LimitExceededException
	if errors.As(err, &limit) {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("post to connection: %w", err))
	}
	return fmt.Errorf("post to connection %s: %w", connectionID, err)
}

var _ connection.Pusher = (*APIGatewayPusher)(nil)
