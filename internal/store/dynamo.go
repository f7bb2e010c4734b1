package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abdulachik/aipulse/internal/model"
)

const (
	// latestSnapshotKey is the partition key of the single snapshot row.
	latestSnapshotKey = "latest"

	maxPutRetries       = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConfig holds configuration for the DynamoDB store.
//
// The items table uses "source" as partition key and "external_id" as sort
// key. The snapshot table has a single string partition key "pk". Both tables
// are expected to have TTL enabled on "expires_at".
type DynamoConfig struct {
	ItemsTable    string
	SnapshotTable string
	Options       Options
	// RetryBackoff is the first wait after a throttled write; it doubles on
	// every retry.
	RetryBackoff time.Duration
}

// DynamoStore persists items in DynamoDB, partitioned by source.
type DynamoStore struct {
	client DynamoAPI
	cfg    DynamoConfig
}

var _ Store = (*DynamoStore)(nil)

// dynamoItem is the attribute layout of one item row.
type dynamoItem struct {
	Source      string            `dynamodbav:"source"`
	ExternalID  string            `dynamodbav:"external_id"`
	ID          string            `dynamodbav:"id"`
	Title       string            `dynamodbav:"title"`
	URL         string            `dynamodbav:"url"`
	Description string            `dynamodbav:"description,omitempty"`
	Score       int               `dynamodbav:"score"`
	Author      string            `dynamodbav:"author,omitempty"`
	Company     string            `dynamodbav:"company"`
	Tags        []string          `dynamodbav:"tags"`
	PublishedAt time.Time         `dynamodbav:"published_at"`
	FetchedAt   time.Time         `dynamodbav:"fetched_at"`
	Metadata    map[string]string `dynamodbav:"metadata"`
	TTL         int               `dynamodbav:"ttl"`
	ExpiresAt   int64             `dynamodbav:"expires_at"`
}

type dynamoSnapshot struct {
	PK             string                `dynamodbav:"pk"`
	ID             string                `dynamodbav:"id"`
	Timestamp      time.Time             `dynamodbav:"timestamp"`
	SourceCounts   map[string]int        `dynamodbav:"source_counts"`
	CompanyCounts  map[string]int        `dynamodbav:"company_counts"`
	TrendingTopics []model.TrendingTopic `dynamodbav:"trending_topics"`
	TTL            int                   `dynamodbav:"ttl"`
	ExpiresAt      int64                 `dynamodbav:"expires_at"`
}

// NewDynamoClient builds a DynamoDB client for region. A non-empty endpoint
// overrides the service endpoint, e.g. for DynamoDB Local.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewDynamoStore creates a store over an existing client.
func NewDynamoStore(client DynamoAPI, cfg DynamoConfig) *DynamoStore {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &DynamoStore{client: client, cfg: cfg}
}

func itemKey(source model.Source, externalID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"source":      &types.AttributeValueMemberS{Value: string(source)},
		"external_id": &types.AttributeValueMemberS{Value: externalID},
	}
}

func (d *DynamoStore) UpsertOne(ctx context.Context, item model.NewsItem) (model.NewsItem, error) {
	existing, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.cfg.ItemsTable),
		Key:                  itemKey(item.Source, item.ExternalID),
		ProjectionExpression: aws.String("id"),
	})
	if err != nil {
		return model.NewsItem{}, fmt.Errorf("get existing item: %w", err)
	}
	if id, ok := existing.Item["id"].(*types.AttributeValueMemberS); ok && id.Value != "" {
		item.ID = id.Value
	}

	item = prepare(item, d.cfg.Options.now())

	av, err := attributevalue.MarshalMap(toDynamoItem(item))
	if err != nil {
		return model.NewsItem{}, fmt.Errorf("marshal item: %w", err)
	}

	if err := d.putItem(ctx, d.cfg.ItemsTable, av); err != nil {
		return model.NewsItem{}, fmt.Errorf("put item: %w", err)
	}

	return item, nil
}

func (d *DynamoStore) UpsertMany(ctx context.Context, items []model.NewsItem) error {
	return upsertAll(ctx, items, d.cfg.Options.concurrency(), func(ctx context.Context, item model.NewsItem) error {
		_, err := d.UpsertOne(ctx, item)
		return err
	})
}

// GetItems queries the relevant partitions, merges them and pages in memory.
func (d *DynamoStore) GetItems(ctx context.Context, page, pageSize int, f Filter) ([]model.NewsItem, error) {
	var all []model.NewsItem
	for _, source := range d.partitions(f) {
		items, err := d.queryPartition(ctx, source, f.Company)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}

	sortNewest(all)
	return pageOf(all, page, pageSize), nil
}

func (d *DynamoStore) GetCount(ctx context.Context, f Filter) (int, error) {
	total := 0
	for _, source := range d.partitions(f) {
		input := d.partitionQuery(source, f.Company)
		input.Select = types.SelectCount

		paginator := dynamodb.NewQueryPaginator(d.client, input)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return 0, fmt.Errorf("count %s items: %w", source, err)
			}
			total += int(out.Count)
		}
	}
	return total, nil
}

func (d *DynamoStore) GetLatestSnapshot(ctx context.Context) (*model.TrendSnapshot, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.cfg.SnapshotTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: latestSnapshotKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec dynamoSnapshot
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	snap := fromDynamoSnapshot(rec)
	return &snap, nil
}

func (d *DynamoStore) UpsertSnapshot(ctx context.Context, s model.TrendSnapshot) error {
	s = prepareSnapshot(s, d.cfg.Options.now())

	av, err := attributevalue.MarshalMap(toDynamoSnapshot(s))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := d.putItem(ctx, d.cfg.SnapshotTable, av); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *DynamoStore) Close() error {
	return nil
}

func (d *DynamoStore) partitions(f Filter) []model.Source {
	if f.Source != "" {
		return []model.Source{f.Source}
	}
	return model.AllSources()
}

func (d *DynamoStore) partitionQuery(source model.Source, company model.Company) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.cfg.ItemsTable),
		KeyConditionExpression: aws.String("#source = :source"),
		ExpressionAttributeNames: map[string]string{
			"#source": "source",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":source": &types.AttributeValueMemberS{Value: string(source)},
		},
	}
	if company != "" {
		input.FilterExpression = aws.String("#company = :company")
		input.ExpressionAttributeNames["#company"] = "company"
		input.ExpressionAttributeValues[":company"] = &types.AttributeValueMemberS{Value: string(company)}
	}
	return input
}

func (d *DynamoStore) queryPartition(ctx context.Context, source model.Source, company model.Company) ([]model.NewsItem, error) {
	var items []model.NewsItem

	paginator := dynamodb.NewQueryPaginator(d.client, d.partitionQuery(source, company))
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s items: %w", source, err)
		}

		var recs []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal %s items: %w", source, err)
		}
		for _, rec := range recs {
			items = append(items, fromDynamoItem(rec))
		}
	}
	return items, nil
}

func toDynamoItem(n model.NewsItem) dynamoItem {
	return dynamoItem{
		Source:      string(n.Source),
		ExternalID:  n.ExternalID,
		ID:          n.ID,
		Title:       n.Title,
		URL:         n.URL,
		Description: n.Description,
		Score:       n.Score,
		Author:      n.Author,
		Company:     string(n.Company),
		Tags:        n.Tags,
		PublishedAt: n.PublishedAt,
		FetchedAt:   n.FetchedAt,
		Metadata:    n.Metadata,
		TTL:         n.TTL,
		ExpiresAt:   n.FetchedAt.Add(time.Duration(n.TTL) * time.Second).Unix(),
	}
}

func fromDynamoItem(r dynamoItem) model.NewsItem {
	n := model.NewsItem{
		ID:          r.ID,
		ExternalID:  r.ExternalID,
		Source:      model.Source(r.Source),
		Title:       r.Title,
		URL:         r.URL,
		Description: r.Description,
		Score:       r.Score,
		Author:      r.Author,
		Company:     model.Company(r.Company),
		Tags:        r.Tags,
		PublishedAt: r.PublishedAt.UTC(),
		FetchedAt:   r.FetchedAt.UTC(),
		Metadata:    r.Metadata,
		TTL:         r.TTL,
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.Metadata == nil {
		n.Metadata = map[string]string{}
	}
	return n
}

func toDynamoSnapshot(s model.TrendSnapshot) dynamoSnapshot {
	rec := dynamoSnapshot{
		PK:             latestSnapshotKey,
		ID:             s.ID,
		Timestamp:      s.Timestamp,
		SourceCounts:   make(map[string]int, len(s.SourceCounts)),
		CompanyCounts:  make(map[string]int, len(s.CompanyCounts)),
		TrendingTopics: s.TrendingTopics,
		TTL:            s.TTL,
		ExpiresAt:      s.Timestamp.Add(time.Duration(s.TTL) * time.Second).Unix(),
	}
	for k, v := range s.SourceCounts {
		rec.SourceCounts[string(k)] = v
	}
	for k, v := range s.CompanyCounts {
		rec.CompanyCounts[string(k)] = v
	}
	return rec
}

func fromDynamoSnapshot(r dynamoSnapshot) model.TrendSnapshot {
	s := model.TrendSnapshot{
		ID:             r.ID,
		Timestamp:      r.Timestamp.UTC(),
		SourceCounts:   make(map[model.Source]int, len(r.SourceCounts)),
		CompanyCounts:  make(map[model.Company]int, len(r.CompanyCounts)),
		TrendingTopics: r.TrendingTopics,
		TTL:            r.TTL,
	}
	for k, v := range r.SourceCounts {
		s.SourceCounts[model.Source(k)] = v
	}
	for k, v := range r.CompanyCounts {
		s.CompanyCounts[model.Company(k)] = v
	}
	return s
}

// putItem writes one row, retrying with exponential backoff while DynamoDB
// reports throttling.
func (d *DynamoStore) putItem(ctx context.Context, table string, av map[string]types.AttributeValue) error {
	backoff := d.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item:      av,
		})
		if err == nil || !isThrottled(err) || attempt == maxPutRetries {
			return err
		}

		slog.Warn("dynamodb write throttled, retrying",
			"table", table,
			"attempt", attempt+1,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func isThrottled(err error) bool {
	var pte *types.ProvisionedThroughputExceededException
	var rle *types.RequestLimitExceeded
	return errors.As(err, &pte) || errors.As(err, &rle)
}
