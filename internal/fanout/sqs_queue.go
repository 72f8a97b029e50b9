package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue enqueues jobs on SQS for the fan-out lambda to drain.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("fanout: SQS client cannot be nil")
	}
	return newSQSQueueWithClient(client, queueURL)
}

func newSQSQueueWithClient(client sqsAPI, queueURL string) *SQSQueue {
	if queueURL == "" {
		panic("fanout: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Enqueue posts the job as a JSON message body.
func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("fanout: marshal job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tenant_id": {DataType: aws.String("String"), StringValue: aws.String(job.Snapshot.TenantID)},
			"reason":    {DataType: aws.String("String"), StringValue: aws.String(job.Reason)},
		},
	})
	if err != nil {
		return fmt.Errorf("fanout: failed to send SQS message: %w", err)
	}
	return nil
}

// DecodeJob parses a message body produced by Enqueue.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("fanout: decode job: %w", err)
	}
	if job.ID == "" || job.Snapshot.TenantID == "" {
		return Job{}, fmt.Errorf("fanout: decode job: missing id or tenant")
	}
	return job, nil
}

var _ Enqueuer = (*SQSQueue)(nil)
