package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dropship-labs/fulfillment/internal/aws"
)

// ErrAlreadyClaimed means another worker moved the job out of queued first;
// the duplicate delivery should be dropped.
var ErrAlreadyClaimed = errors.New("job already claimed")

// Store persists job rows in DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new queued job. The job id must be fresh.
func (s *Store) Create(ctx context.Context, job Job) error {
	now := s.nowFunc().UTC()
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(job_id)"),
	})
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// Get fetches a job by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var j Job
	if err := attributevalue.UnmarshalMap(out.Item, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}

// Claim atomically moves a job queued -> running. The conditional write makes
// the claim race-safe: of N workers holding the same delivery, exactly one
// wins and the rest get ErrAlreadyClaimed.
func (s *Store) Claim(ctx context.Context, job *Job) error {
	if job.Status != StatusQueued {
		return ErrAlreadyClaimed
	}
	claimed := *job
	claimed.Status = StatusRunning
	claimed.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(claimed)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("#s = :queued"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":queued": &types.AttributeValueMemberS{Value: string(StatusQueued)},
		},
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("claim job: %w", err)
	}
	*job = claimed
	return nil
}

// MarkDone finishes a running job, optionally noting why (e.g. a discarded
// stale result).
func (s *Store) MarkDone(ctx context.Context, job *Job, note string) error {
	return s.finish(ctx, job, StatusDone, note)
}

// MarkDead parks a job that will never be retried automatically.
func (s *Store) MarkDead(ctx context.Context, job *Job, note string) error {
	return s.finish(ctx, job, StatusDead, note)
}

func (s *Store) finish(ctx context.Context, job *Job, status Status, note string) error {
	finished := *job
	finished.Status = status
	finished.Note = note
	finished.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(finished)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("#s = :running"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running": &types.AttributeValueMemberS{Value: string(StatusRunning)},
		},
	})
	if err != nil {
		return fmt.Errorf("finish job (%s): %w", status, err)
	}
	*job = finished
	return nil
}

func awsString(s string) *string { return &s }
