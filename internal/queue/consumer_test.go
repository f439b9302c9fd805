package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

type mockSQSClient struct {
	ReceiveMessageFunc func(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageFunc  func(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return m.ReceiveMessageFunc(ctx, params, optFns...)
}

func (m *mockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return m.DeleteMessageFunc(ctx, params, optFns...)
}

type stubHandler struct {
	bodies []string
	err    error
}

func (s *stubHandler) Process(_ context.Context, raw []byte) (*types.Result, error) {
	s.bodies = append(s.bodies, string(raw))
	if s.err != nil {
		return nil, s.err
	}
	return &types.Result{Status: types.StatusProcessed}, nil
}

func message(id, body, receipt string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		Body:          aws.String(body),
		ReceiptHandle: aws.String(receipt),
	}
}

func TestRunDeletesHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var deleted []string
	polls := 0
	client := &mockSQSClient{
		ReceiveMessageFunc: func(_ context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
			assert.Equal(t, "https://sqs.example/queue", *params.QueueUrl)
			polls++
			if polls > 1 {
				cancel()
				return nil, context.Canceled
			}
			return &sqs.ReceiveMessageOutput{
				Messages: []sqstypes.Message{
					message("m-1", `{"detail":{}}`, "r-1"),
					message("m-2", `{"detail":{}}`, "r-2"),
				},
			}, nil
		},
		DeleteMessageFunc: func(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
			deleted = append(deleted, aws.ToString(params.ReceiptHandle))
			return &sqs.DeleteMessageOutput{}, nil
		},
	}

	handler := &stubHandler{}
	c := NewConsumer(client, "https://sqs.example/queue", handler, telemetry.NewLogger("test"))

	err := c.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, handler.bodies, 2)
	assert.Equal(t, []string{"r-1", "r-2"}, deleted)
}

func TestRunLeavesFailedMessagesForRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	deleteCalled := false
	polls := 0
	client := &mockSQSClient{
		ReceiveMessageFunc: func(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
			polls++
			if polls > 1 {
				cancel()
				return nil, context.Canceled
			}
			return &sqs.ReceiveMessageOutput{
				Messages: []sqstypes.Message{message("m-1", `{"detail":{}}`, "r-1")},
			}, nil
		},
		DeleteMessageFunc: func(_ context.Context, _ *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
			deleteCalled = true
			return &sqs.DeleteMessageOutput{}, nil
		},
	}

	handler := &stubHandler{err: errors.New("store unavailable")}
	c := NewConsumer(client, "https://sqs.example/queue", handler, telemetry.NewLogger("test"))

	err := c.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, deleteCalled, "failed messages stay on the queue")
}

func TestRunStopsWhenContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &mockSQSClient{
		ReceiveMessageFunc: func(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
			t.Fatal("no poll after cancellation")
			return nil, nil
		},
	}

	c := NewConsumer(client, "https://sqs.example/queue", &stubHandler{}, telemetry.NewLogger("test"))

	err := c.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
}
