package idempotency

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

// Store encapsulates idempotency operations against DynamoDB. Records expire
// via the table's TTL attribute; expiry never re-enables a completed action
// because the order's own status blocks it.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store. ttlWindow bounds record retention
// (e.g. 24*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// TableName exposes the backing table for callers that reserve keys inside a
// larger transaction.
func (s *Store) TableName() string {
	return s.tableName
}

// CompositeKey builds the scope-prefixed partition key.
func CompositeKey(scope, key string) string {
	return scope + "#" + key
}

// BuildReservationItem marshals an IN_PROGRESS record for use inside a
// TransactWriteItems call owned by another store.
func (s *Store) BuildReservationItem(scope, key string) (map[string]types.AttributeValue, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		Key:       CompositeKey(scope, key),
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttlWindow).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal reservation: %w", err)
	}
	return item, nil
}

// Reserve creates an IN_PROGRESS record if the key does not exist.
// Returns (true, nil) on a fresh reservation, (false, nil) when the record
// already exists (caller should Get to inspect it).
func (s *Store) Reserve(ctx context.Context, scope, key string) (bool, error) {
	item, err := s.BuildReservationItem(scope, key)
	if err != nil {
		return false, err
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return false, nil
		}
		return false, fmt.Errorf("put reservation: %w", err)
	}
	return true, nil
}

// Get retrieves a record by scoped key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, scope, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: CompositeKey(scope, key)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status DONE and stores the serialized op result for replay.
func (s *Store) MarkDone(ctx context.Context, scope, key, result string) error {
	return s.mark(ctx, scope, key, StatusDone, "result", result)
}

// MarkFailed marks the record FAILED with a diagnostic note; a later request
// with the same key may retake it and re-run the operation.
func (s *Store) MarkFailed(ctx context.Context, scope, key, note string) error {
	return s.mark(ctx, scope, key, StatusFailed, "note", note)
}

func (s *Store) mark(ctx context.Context, scope, key, status, payloadAttr, payload string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: CompositeKey(scope, key)},
		},
		UpdateExpression: awsString(fmt.Sprintf("SET #s = :status, %s = :payload, updated_at = :ua", payloadAttr)),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: status},
			":payload": &types.AttributeValueMemberS{Value: payload},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}

// Retake flips a FAILED record back to IN_PROGRESS so the operation can be
// retried. Returns (false, nil) when the record is not FAILED anymore, i.e.
// another caller won the retake.
func (s *Store) Retake(ctx context.Context, scope, key string) (bool, error) {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: CompositeKey(scope, key)},
		},
		UpdateExpression: awsString("SET #s = :inprogress, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
		},
		ConditionExpression: awsString("#s = :failed"),
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return false, nil
		}
		return false, fmt.Errorf("retake: %w", err)
	}
	return true, nil
}

func awsString(s string) *string { return &s }
