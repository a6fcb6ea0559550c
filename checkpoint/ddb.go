package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DDBCommitStore keeps the best-checkpoint pointer in DynamoDB. The update
// is a single conditional write, so several trainers sharing a run id (for
// example a resumed run racing a stale one) can never replace a better
// pointer with a worse one.
//
// Table schema:
//   - Partition key: run_id (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vqgo-checkpoints \
//	  --attribute-definitions AttributeName=run_id,AttributeType=S \
//	  --key-schema AttributeName=run_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	client    DDBClient
	tableName string
	runID     string
}

var _ CommitStore = (*DDBCommitStore)(nil)

// NewDDBCommitStore creates a commit store for runID in tableName.
func NewDDBCommitStore(client DDBClient, tableName, runID string) *DDBCommitStore {
	return &DDBCommitStore{
		client:    client,
		tableName: tableName,
		runID:     runID,
	}
}

// Commit implements CommitStore.
func (s *DDBCommitStore) Commit(ctx context.Context, p Pointer) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"run_id":     &types.AttributeValueMemberS{Value: s.runID},
			"path":       &types.AttributeValueMemberS{Value: p.Path},
			"epoch":      &types.AttributeValueMemberN{Value: strconv.Itoa(p.Epoch)},
			"loss":       &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Loss, 'g', -1, 64)},
			"updated_at": &types.AttributeValueMemberS{Value: p.UpdatedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(run_id) OR loss >= :loss"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":loss": &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Loss, 'g', -1, 64)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotImproved
		}
		return fmt.Errorf("checkpoint: commit to DynamoDB: %w", err)
	}
	return nil
}

// Latest implements CommitStore.
func (s *DDBCommitStore) Latest(ctx context.Context) (Pointer, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"run_id": &types.AttributeValueMemberS{Value: s.runID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Pointer{}, fmt.Errorf("checkpoint: read DynamoDB: %w", err)
	}
	if len(resp.Item) == 0 {
		return Pointer{}, ErrNoCommit
	}

	var p Pointer
	path, ok := resp.Item["path"].(*types.AttributeValueMemberS)
	if !ok {
		return Pointer{}, errors.New("checkpoint: invalid path attribute in DynamoDB")
	}
	p.Path = path.Value

	epoch, ok := resp.Item["epoch"].(*types.AttributeValueMemberN)
	if !ok {
		return Pointer{}, errors.New("checkpoint: invalid epoch attribute in DynamoDB")
	}
	if p.Epoch, err = strconv.Atoi(epoch.Value); err != nil {
		return Pointer{}, fmt.Errorf("checkpoint: parse epoch: %w", err)
	}

	loss, ok := resp.Item["loss"].(*types.AttributeValueMemberN)
	if !ok {
		return Pointer{}, errors.New("checkpoint: invalid loss attribute in DynamoDB")
	}
	if p.Loss, err = strconv.ParseFloat(loss.Value, 64); err != nil {
		return Pointer{}, fmt.Errorf("checkpoint: parse loss: %w", err)
	}

	if ts, ok := resp.Item["updated_at"].(*types.AttributeValueMemberS); ok {
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts.Value)
	}
	return p, nil
}
