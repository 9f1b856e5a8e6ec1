package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dropship-labs/fulfillment/internal/aws"
)

// statusIndex is the GSI used to list orders by status.
const statusIndex = "status-index"

var (
	// ErrVersionConflict means the order changed between read and write; the
	// caller must re-read and retry the whole mutation.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrIdempotencyKeyExists means the creation idempotency key is already
	// bound to an order.
	ErrIdempotencyKeyExists = errors.New("idempotency key already exists")
)

// Store encapsulates operations on the orders table. All writes go through
// version-guarded conditional expressions so concurrent mutations of one
// order serialize.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotency atomically creates the order row and its creation
// idempotency reservation with a single TransactWriteItems call. The
// reservation item is built by the idempotency package and must carry the
// idempotency_key attribute. Returns ErrIdempotencyKeyExists when the key is
// already taken.
func (s *Store) CreateWithIdempotency(ctx context.Context, idempotencyTable string, reservation map[string]types.AttributeValue, order Order) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1

	orderItem, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                reservation,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderItem,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return ErrIdempotencyKeyExists
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Update persists the full order conditionally on the version the caller read.
// On success the stored version is incremented and o.Version is bumped to
// match; on a lost race it returns ErrVersionConflict and writes nothing.
func (s *Store) Update(ctx context.Context, o *Order) error {
	readVersion := o.Version
	o.Version = readVersion + 1
	o.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(*o)
	if err != nil {
		o.Version = readVersion
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", readVersion)},
		},
	})
	if err != nil {
		o.Version = readVersion
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrVersionConflict
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// List returns orders, optionally filtered by status. A status filter queries
// the status GSI; the unfiltered path scans. Results are sorted by creation
// time, oldest first.
func (s *Store) List(ctx context.Context, status Status) ([]Order, error) {
	var items []map[string]types.AttributeValue

	if status != "" {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              awsString(statusIndex),
			KeyConditionExpression: awsString("#s = :status"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("query status index: %w", err)
		}
		items = out.Items
	} else {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.tableName})
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		items = out.Items
	}

	orders := make([]Order, 0, len(items))
	for _, item := range items {
		var o Order
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func awsString(s string) *string { return &s }
