package event

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// SNSPublisher is the subset of the SNS client the topic uses.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTopic publishes to an SNS topic. Subscriber-side filter policies and
// SQS subscriptions do the fan-out; ordering holds only on FIFO topics.
type SNSTopic struct {
	client   SNSPublisher
	topicARN string
}

// NewSNSTopic creates an SNS-backed topic.
func NewSNSTopic(client SNSPublisher, topicARN string) *SNSTopic {
	return &SNSTopic{client: client, topicARN: topicARN}
}

// Publish sends msg with its attributes as String message attributes and
// returns the SNS message id.
func (t *SNSTopic) Publish(ctx context.Context, msg Message) (string, error) {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(t.topicARN),
		Message:           aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	}
	if strings.HasSuffix(t.topicARN, ".fifo") && msg.OrderingKey != "" {
		input.MessageGroupId = aws.String(msg.OrderingKey)
		if msg.ID != "" {
			input.MessageDeduplicationId = aws.String(msg.ID)
		}
	}

	out, err := t.client.Publish(ctx, input)
	if err != nil {
		return "", shared.ErrPublish.Wrap(err)
	}
	return aws.ToString(out.MessageId), nil
}

// Close is a no-op; the SDK client holds no per-topic resources.
func (t *SNSTopic) Close() error { return nil }
