package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type fakeSQS struct {
	sent        []*sqs.SendMessageInput
	receive     *sqs.ReceiveMessageOutput
	deleted     []string
	visibility  map[string]int32
	deleteError error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if in.MaxNumberOfMessages > 10 {
		return nil, errors.New("InvalidParameterValue")
	}
	return f.receive, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.deleteError != nil {
		return nil, f.deleteError
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueue_ReceiveMapsSystemAttributes(t *testing.T) {
	client := &fakeSQS{receive: &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"orderId":"o1"}`),
		ReceiptHandle: aws.String("rh-1"),
		Attributes: map[string]string{
			"ApproximateReceiveCount": "3",
			"SentTimestamp":           "1700000000000",
		},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String("ORDER_CREATED")},
		},
	}}}}
	q := NewSQSQueue(client, "order-events", "https://sqs/order-events")

	msgs, err := q.Receive(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, 3, m.ReceiveCount)
	assert.Equal(t, "rh-1", m.ReceiptHandle)
	assert.Equal(t, "ORDER_CREATED", m.Attributes["eventType"])
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), m.SentAt)
	assert.True(t, queue.DefaultPolicy().Exhausted(m))
}

func TestSQSQueue_SendReleaseDelete(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "order-events", "https://sqs/order-events")
	ctx := context.Background()

	id, err := q.Send(ctx, []byte(`{}`), map[string]string{"messageId": "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "sqs-1", id)
	assert.Equal(t, "m-1", aws.ToString(client.sent[0].MessageAttributes["messageId"].StringValue))

	msg := queue.Message{ID: "m-1", ReceiptHandle: "rh-1"}
	require.NoError(t, q.Release(ctx, msg, 5*time.Second))
	assert.Equal(t, int32(5), client.visibility["rh-1"])

	require.NoError(t, q.Delete(ctx, msg))
	assert.Equal(t, []string{"rh-1"}, client.deleted)

	client.deleteError = errors.New("throttled")
	assert.True(t, errors.Is(q.Delete(ctx, msg), shared.ErrTransientStore))
}
