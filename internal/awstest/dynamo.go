// Package awstest provides small in-memory fakes for the narrow AWS client
// interfaces in internal/aws. They implement just enough of the DynamoDB
// expression surface for the stores in this repository; they are test
// helpers, not an emulator.
package awstest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoFake stores items per table keyed by the table's partition key value.
type DynamoFake struct {
	mu     sync.Mutex
	keys   map[string]string // table -> partition key attribute
	tables map[string]map[string]map[string]types.AttributeValue

	PutCalls      int
	UpdateCalls   int
	TransactCalls int
}

// NewDynamoFake builds a fake with the given table -> partition key mapping.
func NewDynamoFake(tableKeys map[string]string) *DynamoFake {
	keys := make(map[string]string, len(tableKeys))
	for t, k := range tableKeys {
		keys[t] = k
	}
	return &DynamoFake{
		keys:   keys,
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

// Item returns a stored item for assertions, or nil.
func (f *DynamoFake) Item(table, pk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table][pk]
}

// Items returns all items of a table.
func (f *DynamoFake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]types.AttributeValue, 0, len(f.tables[table]))
	for _, it := range f.tables[table] {
		out = append(out, it)
	}
	return out
}

func (f *DynamoFake) ensure(table string) map[string]map[string]types.AttributeValue {
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = map[string]map[string]types.AttributeValue{}
	}
	return f.tables[table]
}

func (f *DynamoFake) pkOf(table string, item map[string]types.AttributeValue) (string, bool) {
	attr, ok := f.keys[table]
	if !ok {
		return "", false
	}
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

var (
	notExistsRe = regexp.MustCompile(`^attribute_not_exists\((\w+)\)$`)
	equalityRe  = regexp.MustCompile(`^(#?\w+)\s*=\s*(:\w+)$`)
)

// evalCondition supports the two expression shapes the stores use:
// attribute_not_exists(<attr>) and <attr> = :value (possibly via #name).
func evalCondition(expr string, existing map[string]types.AttributeValue,
	names map[string]string, values map[string]types.AttributeValue) bool {

	expr = strings.TrimSpace(expr)
	if m := notExistsRe.FindStringSubmatch(expr); m != nil {
		if existing == nil {
			return true
		}
		_, present := existing[m[1]]
		return !present
	}
	if m := equalityRe.FindStringSubmatch(expr); m != nil {
		if existing == nil {
			return false
		}
		attr := m[1]
		if strings.HasPrefix(attr, "#") {
			attr = names[attr]
		}
		want, ok := values[m[2]]
		if !ok {
			return false
		}
		return attrEqual(existing[attr], want)
	}
	// Unknown expression shape: fail loudly by rejecting the write.
	return false
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

func (f *DynamoFake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++

	table := *params.TableName
	items := f.ensure(table)
	pk, ok := f.pkOf(table, params.Item)
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	if params.ConditionExpression != nil {
		if !evalCondition(*params.ConditionExpression, items[pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	items[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (f *DynamoFake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := *params.TableName
	pk, ok := f.pkOf(table, params.Key)
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	item, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (f *DynamoFake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++

	table := *params.TableName
	pk, ok := f.pkOf(table, params.Key)
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	item := f.tables[table][pk]
	if params.ConditionExpression != nil {
		if !evalCondition(*params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if item == nil {
		item = map[string]types.AttributeValue{}
		keyAttr := f.keys[table]
		item[keyAttr] = params.Key[keyAttr]
	}
	applySet(item, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	f.ensure(table)[pk] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

// applySet handles "SET a = :x, #b = :y" assignments.
func applySet(item map[string]types.AttributeValue, expr string,
	names map[string]string, values map[string]types.AttributeValue) {

	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "SET ")
	for _, clause := range strings.Split(expr, ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr := strings.TrimSpace(parts[0])
		if strings.HasPrefix(attr, "#") {
			attr = names[attr]
		}
		val := strings.TrimSpace(parts[1])
		if v, ok := values[val]; ok {
			item[attr] = v
		}
	}
}

func (f *DynamoFake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := *params.TableName
	var out []map[string]types.AttributeValue
	for _, item := range f.tables[table] {
		if params.KeyConditionExpression == nil ||
			evalCondition(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			out = append(out, item)
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *DynamoFake) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := *params.TableName
	var out []map[string]types.AttributeValue
	for _, item := range f.tables[table] {
		if params.FilterExpression == nil ||
			evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			out = append(out, item)
		}
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *DynamoFake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransactCalls++

	// First pass: evaluate every condition against current state.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		table := *p.TableName
		pk, ok := f.pkOf(table, p.Item)
		if !ok {
			return nil, &types.ResourceNotFoundException{}
		}
		if p.ConditionExpression != nil &&
			!evalCondition(*p.ConditionExpression, f.tables[table][pk], p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			reasons[i] = types.CancellationReason{Code: strptr("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Second pass: apply all puts.
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		table := *p.TableName
		pk, _ := f.pkOf(table, p.Item)
		f.ensure(table)[pk] = p.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func strptr(s string) *string { return &s }
