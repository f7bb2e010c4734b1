package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/aipulse/internal/model"
)

// fakeDynamo is an in-memory stand-in for the handful of DynamoDB calls the
// store makes. It understands only the expressions DynamoStore builds.
type fakeDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	throttle int
	puts     int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func attrString(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func rowKey(m map[string]types.AttributeValue) string {
	if pk, ok := m["pk"]; ok {
		return attrString(pk)
	}
	return attrString(m["source"]) + "|" + attrString(m["external_id"])
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.tables[aws.ToString(in.TableName)][rowKey(in.Key)]
	return &dynamodb.GetItemOutput{Item: row}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++
	if f.throttle > 0 {
		f.throttle--
		return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	}

	table := aws.ToString(in.TableName)
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	f.tables[table][rowKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := attrString(in.ExpressionAttributeValues[":source"])
	company := attrString(in.ExpressionAttributeValues[":company"])

	var rows []map[string]types.AttributeValue
	for _, row := range f.tables[aws.ToString(in.TableName)] {
		if attrString(row["source"]) != source {
			continue
		}
		if company != "" && attrString(row["company"]) != company {
			continue
		}
		rows = append(rows, row)
	}

	out := &dynamodb.QueryOutput{Count: int32(len(rows))}
	if in.Select != types.SelectCount {
		out.Items = rows
	}
	return out, nil
}

func TestDynamoStore_WritesExpiry(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, DynamoConfig{
		ItemsTable:    "NewsItems",
		SnapshotTable: "Snapshots",
		Options:       Options{Now: func() time.Time { return baseTime }},
	})

	_, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "hn-1", model.CompanyOther, 0))
	require.NoError(t, err)

	row := fake.tables["NewsItems"]["HackerNews|hn-1"]
	require.NotNil(t, row)

	expires, ok := row["expires_at"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1749988800", expires.Value) // baseTime + 14 days

	require.NoError(t, s.UpsertSnapshot(ctx, model.TrendSnapshot{}))
	snap := fake.tables["Snapshots"][latestSnapshotKey]
	require.NotNil(t, snap)
	assert.Contains(t, snap, "expires_at")
}

func TestDynamoStore_RetriesThrottledWrites(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.throttle = 2
	s := NewDynamoStore(fake, DynamoConfig{
		ItemsTable:    "NewsItems",
		SnapshotTable: "Snapshots",
		RetryBackoff:  time.Millisecond,
	})

	_, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "hn-1", model.CompanyOther, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, fake.puts)

	count, err := s.GetCount(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDynamoStore_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.throttle = 10
	s := NewDynamoStore(fake, DynamoConfig{
		ItemsTable:    "NewsItems",
		SnapshotTable: "Snapshots",
		RetryBackoff:  time.Millisecond,
	})

	_, err := s.UpsertOne(ctx, newsItem(model.SourceHackerNews, "hn-1", model.CompanyOther, 0))
	require.Error(t, err)
	assert.True(t, isThrottled(err))
	assert.Equal(t, maxPutRetries+1, fake.puts)
}

func TestIsThrottled(t *testing.T) {
	assert.True(t, isThrottled(&types.ProvisionedThroughputExceededException{}))
	assert.True(t, isThrottled(&types.RequestLimitExceeded{}))
	assert.False(t, isThrottled(errors.New("boom")))
	assert.False(t, isThrottled(nil))
}
