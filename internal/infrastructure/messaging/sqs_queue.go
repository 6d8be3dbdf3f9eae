package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue implements queue.Queue on an SQS queue. Receive counts come from
// ApproximateReceiveCount. The redrive policy on the queue itself should be
// disabled, since the consumer moves exhausted messages.
type SQSQueue struct {
	client   SQSAPI
	name     string
	queueURL string
	waitTime int32
}

// NewSQSQueue creates a queue bound to queueURL.
func NewSQSQueue(client SQSAPI, name, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, name: name, queueURL: queueURL, waitTime: 1}
}

func (q *SQSQueue) Name() string { return q.name }

func (q *SQSQueue) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	attrs := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", sqsError("send", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(min(max, 10)),
		WaitTimeSeconds:     q.waitTime,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, sqsError("receive", err)
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, fromSQS(m))
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, msg queue.Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	return sqsError("delete", err)
}

func (q *SQSQueue) Release(ctx context.Context, msg queue.Message, delay time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(delay / time.Second),
	})
	return sqsError("release", err)
}

// Peek receives messages and makes them visible again at once. SQS has no
// true peek: receive counts still increase.
func (q *SQSQueue) Peek(ctx context.Context, max int) ([]queue.Message, error) {
	msgs, err := q.Receive(ctx, max)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if err := q.Release(ctx, msgs[i], 0); err != nil {
			return nil, err
		}
		msgs[i].ReceiptHandle = ""
	}
	return msgs, nil
}

func fromSQS(m types.Message) queue.Message {
	msg := queue.Message{
		ID:            aws.ToString(m.MessageId),
		Body:          []byte(aws.ToString(m.Body)),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Attributes:    make(map[string]string, len(m.MessageAttributes)),
	}
	for k, v := range m.MessageAttributes {
		msg.Attributes[k] = aws.ToString(v.StringValue)
	}
	if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		msg.ReceiveCount = n
	}
	if ms, err := strconv.ParseInt(m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		msg.SentAt = time.UnixMilli(ms).UTC()
	}
	return msg
}

func sqsError(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "ReceiptHandleIsInvalid") {
		return shared.ErrConditionFailed.Wrap(fmt.Errorf("sqs %s: %w", op, err))
	}
	return shared.ErrTransientStore.Wrap(fmt.Errorf("sqs %s: %w", op, err))
}

var _ queue.Queue = (*SQSQueue)(nil)
