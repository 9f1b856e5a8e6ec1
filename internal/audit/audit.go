// Package audit appends immutable events for every order transition and
// external call outcome. Entries are never mutated or deleted.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/dropship-labs/fulfillment/internal/aws"
)

// Actor identifies who caused an audited event.
type Actor string

const (
	ActorSystem  Actor = "system"
	ActorUser    Actor = "user"
	ActorWebhook Actor = "webhook"
)

// Well-known actions.
const (
	ActionStatusChanged   = "status_changed"
	ActionPurchaseAttempt = "purchase.attempt"
	ActionForwardAttempt  = "forward.attempt"
	ActionWebhookReceived = "webhook.received"
)

// Entry is one append-only audit row.
type Entry struct {
	EntryID string            `dynamodbav:"entry_id"` // PK
	OrderID string            `dynamodbav:"order_id"`
	Actor   Actor             `dynamodbav:"actor"`
	Action  string            `dynamodbav:"action"`
	Meta    map[string]string `dynamodbav:"meta,omitempty"`
	TS      time.Time         `dynamodbav:"ts"`
}

// Store persists audit entries in DynamoDB.
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

// Append writes one entry, filling id and timestamp. The conditional put
// guards the append-only contract against id collisions.
func (s *Store) Append(ctx context.Context, orderID string, actor Actor, action string, meta map[string]string) error {
	entry := Entry{
		EntryID: uuid.NewString(),
		OrderID: orderID,
		Actor:   actor,
		Action:  action,
		Meta:    meta,
		TS:      s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(entry_id)"),
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByOrder returns all entries for an order, oldest first.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]Entry, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString("order-index"),
		KeyConditionExpression: awsString("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}

	entries := make([]Entry, 0, len(out.Items))
	for _, item := range out.Items {
		var e Entry
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TS.Before(entries[j].TS) })
	return entries, nil
}

func awsString(s string) *string { return &s }
