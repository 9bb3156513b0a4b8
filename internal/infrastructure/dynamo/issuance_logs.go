package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-seat-broker/internal/domain"
)

// IssuanceLogRepo reads the append-only issuance log. Writes go through
// SeatRepo.Commit so they share a transaction with the seat.
type IssuanceLogRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewIssuanceLogRepo(client *dynamodb.Client, tableName string) *IssuanceLogRepo {
	return &IssuanceLogRepo{client: client, tableName: tableName}
}

func (r *IssuanceLogRepo) Get(ctx context.Context, seatID string, attempt int) (*domain.IssuanceLogEntry, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            attemptKey(seatID, attempt),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("issuance log entry not found: %w", domain.ErrNotFound)
	}
	var e domain.IssuanceLogEntry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListBySeat returns every entry of a seat in attempt order.
func (r *IssuanceLogRepo) ListBySeat(ctx context.Context, seatID string) ([]domain.IssuanceLogEntry, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#pk = :sid"),
		ExpressionAttributeNames: map[string]string{
			"#pk": fieldSeatID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: seatID},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.IssuanceLogEntry, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
