package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stickerlandia/printq/logger"
	"github.com/stickerlandia/printq/store"
)

const maxBatchAttempts = 5

// API is the subset of the DynamoDB client used by the store.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store implements store.Store on DynamoDB tables that use PK/SK as primary
// key and GSI1 (GSI1PK/GSI1SK) as secondary index.
type Store struct {
	client API
	logger logger.Logger
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(client API) *Store {
	if client == nil || reflect.ValueOf(client).IsNil() {
		panic("client is mandatory")
	}
	return &Store{
		client: client,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (s *Store) SetLogger(l logger.Logger) {
	s.logger = l
}

func (s *Store) Put(ctx context.Context, table string, item store.Item, conds ...store.Condition) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("marshalling item: %w", err)
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(table), Item: av}
	if cond, ok := condition(conds); ok {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return err
		}
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	_, err = s.client.PutItem(ctx, in)
	return mapError(err)
}

func (s *Store) Delete(ctx context.Context, table string, key store.Key) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       keyAttributes(key),
	})
	return mapError(err)
}

func (s *Store) Get(ctx context.Context, table string, key store.Key) (store.Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshal(out.Item)
}

func (s *Store) Query(ctx context.Context, in store.QueryInput) ([]store.Item, error) {
	pkAttr, _, err := store.IndexAttrs(in.Index)
	if err != nil {
		return nil, err
	}
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(pkAttr).Equal(expression.Value(in.Partition))).
		Build()
	if err != nil {
		return nil, err
	}
	qi := &dynamodb.QueryInput{
		TableName:                 aws.String(in.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!in.Descending),
	}
	if in.Index != "" {
		qi.IndexName = aws.String(in.Index)
	}
	if in.Limit > 0 {
		qi.Limit = aws.Int32(int32(in.Limit))
	}

	var items []store.Item
	p := dynamodb.NewQueryPaginator(s.client, qi)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, av := range page.Items {
			item, err := unmarshal(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if in.Limit > 0 && len(items) == in.Limit {
				return items, nil
			}
		}
	}
	return items, nil
}

func (s *Store) Scan(ctx context.Context, table string, filter ...store.Condition) ([]store.Item, error) {
	si := &dynamodb.ScanInput{TableName: aws.String(table)}
	if cond, ok := condition(filter); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, err
		}
		si.FilterExpression = expr.Filter()
		si.ExpressionAttributeNames = expr.Names()
		si.ExpressionAttributeValues = expr.Values()
	}

	var items []store.Item
	p := dynamodb.NewScanPaginator(s.client, si)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, av := range page.Items {
			item, err := unmarshal(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, in store.UpdateInput) (bool, error) {
	attrs := make([]string, 0, len(in.Set))
	for k := range in.Set {
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)
	var upd expression.UpdateBuilder
	for _, k := range attrs {
		upd = upd.Set(expression.Name(k), expression.Value(in.Set[k]))
	}
	conds := append([]store.Condition{{Attr: store.AttrPK, Value: in.Key.PK}}, in.Conditions...)
	cond, _ := condition(conds)

	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return false, err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(in.Table),
		Key:                       keyAttributes(in.Key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	err = mapError(err)
	if errors.Is(err, store.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []store.WriteOp) error {
	if len(ops) == 0 || len(ops) > store.MaxTransactItems {
		return fmt.Errorf("%w: %d operations", store.ErrTooManyItems, len(ops))
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		var ce *string
		var names map[string]string
		var values map[string]types.AttributeValue
		if cond, ok := condition(op.Conditions); ok {
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return err
			}
			ce, names, values = expr.Condition(), expr.Names(), expr.Values()
		}
		if op.Put != nil {
			av, err := attributevalue.MarshalMap(map[string]any(op.Put))
			if err != nil {
				return fmt.Errorf("marshalling item: %w", err)
			}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                 aws.String(op.Table),
				Item:                      av,
				ConditionExpression:       ce,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
			continue
		}
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(op.Table),
			Key:                       keyAttributes(*op.Delete),
			ConditionExpression:       ce,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}})
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return mapError(err)
}

// BatchDelete deletes the keys with one BatchWriteItem call, resubmitting
// unprocessed keys a bounded number of times.
func (s *Store) BatchDelete(ctx context.Context, table string, keys []store.Key) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > store.MaxBatchItems {
		return fmt.Errorf("%w: %d keys in one batch", store.ErrTooManyItems, len(keys))
	}
	requests := make([]types.WriteRequest, len(keys))
	for i, k := range keys {
		requests[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(k)}}
	}
	pending := map[string][]types.WriteRequest{table: requests}

	for attempt := 1; attempt <= maxBatchAttempts; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return mapError(err)
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		s.logger.Debug(fmt.Sprintf("batch delete on %s left %d unprocessed keys (attempt %d)", table, len(pending[table]), attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("batch delete on %s: %d keys left unprocessed", table, len(pending[table]))
}

func keyAttributes(k store.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		store.AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		store.AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

func unmarshal(av map[string]types.AttributeValue) (store.Item, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(av, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling item: %w", err)
	}
	return store.Normalize(store.Item(m)), nil
}

func condition(conds []store.Condition) (expression.ConditionBuilder, bool) {
	cbs := make([]expression.ConditionBuilder, 0, len(conds))
	for _, c := range conds {
		if c.NotExists {
			cbs = append(cbs, expression.AttributeNotExists(expression.Name(c.Attr)))
		} else {
			cbs = append(cbs, expression.Name(c.Attr).Equal(expression.Value(c.Value)))
		}
	}
	switch len(cbs) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return cbs[0], true
	default:
		return expression.And(cbs[0], cbs[1], cbs[2:]...), true
	}
}

// mapError translates rejected conditions into store.ErrConditionFailed.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", store.ErrConditionFailed, ccf.ErrorMessage())
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %s", store.ErrConditionFailed, tce.ErrorMessage())
			}
		}
	}
	return err
}
