package checkpoint

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDDBClient is an in-memory DynamoDB mock for testing. It understands
// the single condition expression DDBCommitStore issues.
type mockDDBClient struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue // run_id -> item
	failWith error
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	key := params.Item["run_id"].(*types.AttributeValueMemberS).Value
	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(run_id) OR loss >= :loss" {
		if cur, exists := m.items[key]; exists {
			stored, _ := strconv.ParseFloat(cur["loss"].(*types.AttributeValueMemberN).Value, 64)
			candidate, _ := strconv.ParseFloat(params.ExpressionAttributeValues[":loss"].(*types.AttributeValueMemberN).Value, 64)
			if !(stored >= candidate) {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
			}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	key := params.Key["run_id"].(*types.AttributeValueMemberS).Value
	if item, ok := m.items[key]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}
