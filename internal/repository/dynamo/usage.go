// Package dynamo stores daily usage counters in a DynamoDB table keyed by
// PK=USER#<id> and SK=USAGE#<bucket>#<feature>.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/metering"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Counters outlive their day long enough for reporting, then expire.
const counterTTL = 35 * 24 * time.Hour

// dynamodbAPI is the subset of the DynamoDB client the store calls.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ db.UsageStore = (*UsageStore)(nil)

// UsageStore implements db.UsageStore on DynamoDB.
type UsageStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func NewUsageStore(api dynamodbAPI, tableName string) (*UsageStore, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &UsageStore{api: api, tableName: tableName, now: time.Now}, nil
}

func userPK(userID string) string {
	return "USER#" + userID
}

func bucketPrefix(bucket string) string {
	return "USAGE#" + bucket + "#"
}

func usageSK(bucket string, feature metering.Feature) string {
	return bucketPrefix(bucket) + string(feature)
}

func (s *UsageStore) key(userID string, feature metering.Feature, bucket string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: usageSK(bucket, feature)},
	}
}

func (s *UsageStore) ttl() string {
	return strconv.FormatInt(s.now().Add(counterTTL).Unix(), 10)
}

func (s *UsageStore) GetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID, feature, bucket),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: GetUsageCount: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	count, err := intAttr(out.Item, "count")
	if err != nil {
		return 0, fmt.Errorf("dynamo: GetUsageCount: %w", err)
	}
	return count, nil
}

// GetUsageCounts reads every counter of one bucket with a single query.
func (s *UsageStore) GetUsageCounts(ctx context.Context, userID, bucket string) (map[metering.Feature]int, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: bucketPrefix(bucket)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: GetUsageCounts: %w", err)
	}

	counts := make(map[metering.Feature]int, len(metering.Features))
	for _, f := range metering.Features {
		counts[f] = 0
	}
	for _, item := range out.Items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("dynamo: GetUsageCounts: %w", err)
		}
		f, err := metering.ParseFeature(strings.TrimPrefix(sk, bucketPrefix(bucket)))
		if err != nil {
			continue
		}
		count, err := intAttr(item, "count")
		if err != nil {
			return nil, fmt.Errorf("dynamo: GetUsageCounts: %w", err)
		}
		counts[f] = count
	}
	return counts, nil
}

// SetUsageCount replaces the counter item, last writer wins.
func (s *UsageStore) SetUsageCount(ctx context.Context, userID string, feature metering.Feature, bucket string, count int) error {
	if count < 0 {
		return fmt.Errorf("dynamo: usage count must not be negative, got %d", count)
	}

	item := s.key(userID, feature, bucket)
	item["userId"] = &types.AttributeValueMemberS{Value: userID}
	item["feature"] = &types.AttributeValueMemberS{Value: string(feature)}
	item["dateBucket"] = &types.AttributeValueMemberS{Value: bucket}
	item["count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(count)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: s.ttl()}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: SetUsageCount: %w", err)
	}
	return nil
}

// IncrementUsage uses an ADD update expression, which DynamoDB applies
// atomically and which creates the item when absent.
func (s *UsageStore) IncrementUsage(ctx context.Context, userID string, feature metering.Feature, bucket string) (int, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(userID, feature, bucket),
		UpdateExpression: aws.String("ADD #count :one SET userId = :user, feature = :feature, dateBucket = :bucket, updatedAt = :now, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#ttl":   "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":user":    &types.AttributeValueMemberS{Value: userID},
			":feature": &types.AttributeValueMemberS{Value: string(feature)},
			":bucket":  &types.AttributeValueMemberS{Value: bucket},
			":now":     &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
			":ttl":     &types.AttributeValueMemberN{Value: s.ttl()},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: IncrementUsage: %w", err)
	}
	count, err := intAttr(out.Attributes, "count")
	if err != nil {
		return 0, fmt.Errorf("dynamo: IncrementUsage: %w", err)
	}
	return count, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
