package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dropship-labs/fulfillment/internal/aws"
)

// Queue wraps the SQS job queue. Delayed dispatch (retry backoff) uses the
// queue's own DelaySeconds timer rather than blocking a worker.
type Queue struct {
	client   aws.SQSAPI
	queueURL string
}

func NewQueue(client aws.SQSAPI, queueURL string) *Queue {
	return &Queue{client: client, queueURL: queueURL}
}

// ReceivedMessage pairs a decoded job message with its delivery receipt.
type ReceivedMessage struct {
	Message       Message
	ReceiptHandle string
}

// Publish sends a job message, delivered no earlier than delay from now.
func (q *Queue) Publish(ctx context.Context, msg Message, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: awsString(string(body)),
	}
	if delay > 0 {
		input.DelaySeconds = int32(delay / time.Second)
	}
	input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
		"job_type": {
			DataType:    awsString("String"),
			StringValue: awsString(string(msg.Type)),
		},
		"order_id": {
			DataType:    awsString("String"),
			StringValue: awsString(msg.OrderID),
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages. Messages that fail to decode are
// deleted and skipped so one bad payload cannot wedge the queue.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]ReceivedMessage, error) {
	if max > 10 {
		max = 10 // SQS batch ceiling
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]ReceivedMessage, 0, len(out.Messages))
	for _, raw := range out.Messages {
		var msg Message
		if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
			_ = q.Delete(ctx, *raw.ReceiptHandle)
			continue
		}
		msgs = append(msgs, ReceivedMessage{Message: msg, ReceiptHandle: *raw.ReceiptHandle})
	}
	return msgs, nil
}

// Delete acknowledges a delivery.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
