package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-seat-broker/internal/domain"
)

// SeatRepo provides typed DynamoDB operations for the seats table. Commit also
// writes to the issuance log table so a transition lands in one transaction.
type SeatRepo struct {
	client    *dynamodb.Client
	tableName string
	logsTable string
}

func NewSeatRepo(client *dynamodb.Client, tableName, logsTable string) *SeatRepo {
	return &SeatRepo{client: client, tableName: tableName, logsTable: logsTable}
}

// Create stores a new unclaimed seat. It fails with ErrConflict if the seat id
// is taken.
func (r *SeatRepo) Create(ctx context.Context, s *domain.Seat) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal seat: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": fieldSeatID},
	})
	if isConditionFailure(err) {
		return fmt.Errorf("seat %s already exists: %w", s.SeatID, domain.ErrConflict)
	}
	return err
}

func (r *SeatRepo) Get(ctx context.Context, seatID string) (*domain.Seat, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldSeatID, seatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("seat not found: %w", domain.ErrNotFound)
	}
	var s domain.Seat
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByOrderItem resolves the seat bought by an order item. GSI reads are
// eventually consistent, so the seat itself is re-read with a consistent read.
func (r *SeatRepo) GetByOrderItem(ctx context.Context, orderItemID string) (*domain.Seat, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexOrderItem),
		KeyConditionExpression: aws.String("#oi = :oi"),
		ExpressionAttributeNames: map[string]string{
			"#oi": fieldOrderItemID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oi": &types.AttributeValueMemberS{Value: orderItemID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("no seat for order item: %w", domain.ErrNotFound)
	}
	sidAttr, ok := out.Items[0][fieldSeatID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("seat index item without %s", fieldSeatID)
	}
	return r.Get(ctx, sidAttr.Value)
}

// Commit applies a seat transition as one DynamoDB transaction. Any failed
// condition surfaces as ErrStaleWrite so the caller can reload and re-decide.
func (r *SeatRepo) Commit(ctx context.Context, tr domain.SeatTransition) error {
	items, err := r.transactItems(tr)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return staleOr(err, "commit seat "+tr.Prev.SeatID)
}

func (r *SeatRepo) transactItems(tr domain.SeatTransition) ([]types.TransactWriteItem, error) {
	guardNames := map[string]string{
		"#state": fieldState,
		"#count": fieldAttemptCount,
	}
	guardValues := map[string]types.AttributeValue{
		":prev_state": &types.AttributeValueMemberS{Value: string(tr.Prev.State)},
		":prev_count": &types.AttributeValueMemberN{Value: strconv.Itoa(tr.Prev.AttemptCount)},
	}
	guard := aws.String("#state = :prev_state AND #count = :prev_count")

	var items []types.TransactWriteItem
	if tr.SeatChanged() {
		item, err := attributevalue.MarshalMap(tr.Next)
		if err != nil {
			return nil, fmt.Errorf("marshal seat: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(r.tableName),
			Item:                      item,
			ConditionExpression:       guard,
			ExpressionAttributeNames:  guardNames,
			ExpressionAttributeValues: guardValues,
		}})
	} else {
		items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey(fieldSeatID, tr.Prev.SeatID),
			ConditionExpression:       guard,
			ExpressionAttributeNames:  guardNames,
			ExpressionAttributeValues: guardValues,
		}})
	}

	if tr.Append != nil {
		item, err := attributevalue.MarshalMap(tr.Append)
		if err != nil {
			return nil, fmt.Errorf("marshal issuance log entry: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(r.logsTable),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": fieldSeatID},
		}})
	}

	for _, e := range tr.Resolve {
		update, err := resolveUpdate(r.logsTable, e)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}
	return items, nil
}

// resolveUpdate closes a pending log entry. The write only succeeds while the
// entry is still pending, which makes every entry resolve at most once.
func resolveUpdate(table string, e domain.IssuanceLogEntry) (*types.Update, error) {
	fields := map[string]interface{}{
		fieldOutcome:    e.Outcome,
		fieldResolvedAt: resolvedAt(e),
	}
	if e.ResolutionNote != "" {
		fields[fieldResolutionNote] = e.ResolutionNote
	}
	ue, err := buildUpdateExpr(fields)
	if err != nil {
		return nil, err
	}
	ue.Names["#cur_outcome"] = fieldOutcome
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: string(domain.OutcomePending)}
	return &types.Update{
		TableName:                 aws.String(table),
		Key:                       attemptKey(e.SeatID, e.AttemptNumber),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#cur_outcome = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}, nil
}

func resolvedAt(e domain.IssuanceLogEntry) time.Time {
	if e.ResolvedAt != nil {
		return e.ResolvedAt.UTC()
	}
	return time.Now().UTC()
}
