package dynamodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

const (
	entityTypeBaseline = "REACTION_BASELINE"
	baselinePrefix     = "REACTION#"
)

// API is the slice of the DynamoDB client the snapshot store uses
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SnapshotStore keeps each viewer's last confirmed reaction aggregates in
// a single-table layout: PK VIEWER#<viewer>, SK REACTION#<TYPE>#<id>.
type SnapshotStore struct {
	client    API
	tableName string
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a store. A positive ttl sets the TTL attribute
// so stale baselines expire.
func NewSnapshotStore(client API, tableName string, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// baselineItem represents the DynamoDB item structure for a baseline
type baselineItem struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	EntityType       string `dynamodbav:"EntityType"`
	TargetType       string `dynamodbav:"TargetType"`
	TargetID         int64  `dynamodbav:"TargetID"`
	Likes            int    `dynamodbav:"Likes"`
	Dislikes         int    `dynamodbav:"Dislikes"`
	Viewer           string `dynamodbav:"Viewer"`
	ViewerReactionID *int64 `dynamodbav:"ViewerReactionID,omitempty"`
	UpdatedAt        string `dynamodbav:"UpdatedAt"`
	TTL              int64  `dynamodbav:"TTL,omitempty"`
}

func viewerKey(viewerID string) string {
	return "VIEWER#" + viewerID
}

func targetKey(target valueobjects.ReactionTarget) string {
	return fmt.Sprintf("%s%s#%d", baselinePrefix, target.Type, target.ID.Int64())
}

// LoadBaselines returns every stored baseline of the viewer
func (s *SnapshotStore) LoadBaselines(ctx context.Context, viewerID string) (map[valueobjects.ReactionTarget]entities.ReactionState, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(viewerKey(viewerID))).
		And(expression.KeyBeginsWith(expression.Key("SK"), baselinePrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build baseline query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	baselines := make(map[valueobjects.ReactionTarget]entities.ReactionState)
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query baselines: %w", err)
		}

		for _, raw := range result.Items {
			var item baselineItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
			}
			target, state, ok := item.toState()
			if !ok {
				s.logger.Warn("Skipping unreadable baseline",
					zap.String("viewerID", viewerID),
					zap.String("sk", item.SK),
				)
				continue
			}
			baselines[target] = state
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return baselines, nil
}

// SaveBaseline upserts one baseline
func (s *SnapshotStore) SaveBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget, state entities.ReactionState) error {
	now := s.now()
	item := baselineItem{
		PK:         viewerKey(viewerID),
		SK:         targetKey(target),
		EntityType: entityTypeBaseline,
		TargetType: string(target.Type),
		TargetID:   target.ID.Int64(),
		Likes:      state.Likes,
		Dislikes:   state.Dislikes,
		Viewer:     string(state.Viewer),
		UpdatedAt:  now.Format(time.RFC3339),
	}
	if state.ViewerReactionID != nil {
		id := state.ViewerReactionID.Int64()
		item.ViewerReactionID = &id
	}
	if s.ttl > 0 {
		item.TTL = now.Add(s.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

// DeleteBaseline drops the baseline of a deleted target
func (s *SnapshotStore) DeleteBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: viewerKey(viewerID)},
			"SK": &types.AttributeValueMemberS{Value: targetKey(target)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

func (item baselineItem) toState() (valueobjects.ReactionTarget, entities.ReactionState, bool) {
	if !strings.HasPrefix(item.SK, baselinePrefix) {
		return valueobjects.ReactionTarget{}, entities.ReactionState{}, false
	}
	targetType, err := valueobjects.ParseTargetType(item.TargetType)
	if err != nil {
		return valueobjects.ReactionTarget{}, entities.ReactionState{}, false
	}
	viewer := valueobjects.ReactionKind(item.Viewer)
	switch viewer {
	case valueobjects.ReactionNone, valueobjects.ReactionLike, valueobjects.ReactionDislike:
	default:
		return valueobjects.ReactionTarget{}, entities.ReactionState{}, false
	}

	state := entities.ReactionState{Likes: item.Likes, Dislikes: item.Dislikes, Viewer: viewer}
	if item.ViewerReactionID != nil {
		id := valueobjects.EntityID(*item.ViewerReactionID)
		state.ViewerReactionID = &id
	}
	return valueobjects.NewReactionTarget(targetType, valueobjects.EntityID(item.TargetID)), state, true
}
