package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	logx "pierre/pkg/logx"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ItemCodec converts records and keys to DynamoDB attribute maps.
type ItemCodec[T Keyed[K], K comparable] struct {
	EncodeItem func(T) (map[string]types.AttributeValue, error)
	EncodeKey  func(K) (map[string]types.AttributeValue, error)
	DecodeItem func(map[string]types.AttributeValue) (T, error)
}

type DynamoConfig struct {
	Table          string
	ConsistentRead bool
}

// DynamoStore keeps records in one DynamoDB table.
//
// Reads are eventually consistent unless ConsistentRead is set. PutItem is
// unconditional, so concurrent writers of one key both succeed.
type DynamoStore[T Keyed[K], K comparable] struct {
	api   DynamoAPI
	codec ItemCodec[T, K]
	cfg   DynamoConfig
	log   logx.Logger

	// When set, List queries a single partition instead of scanning.
	partitionAttr  string
	partitionValue string
}

func NewDynamoStore[T Keyed[K], K comparable](api DynamoAPI, cfg DynamoConfig, codec ItemCodec[T, K], log logx.Logger) (*DynamoStore[T, K], error) {
	if api == nil {
		return nil, errors.New("dynamodb store: nil client")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("dynamodb store: table is required")
	}
	if codec.EncodeItem == nil || codec.EncodeKey == nil || codec.DecodeItem == nil {
		return nil, errors.New("dynamodb store: codec functions are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DynamoStore[T, K]{api: api, codec: codec, cfg: cfg, log: log}, nil
}

// ForPartition returns a view whose List only reads items with attr = value.
// attr must be the table's hash key.
func (s *DynamoStore[T, K]) ForPartition(attr, value string) *DynamoStore[T, K] {
	cp := *s
	cp.partitionAttr = attr
	cp.partitionValue = value
	cp.log = s.log.With(logx.String("partition", value))
	return &cp
}

func (s *DynamoStore[T, K]) List(ctx context.Context) ([]T, error) {
	var out []T
	decode := func(items []map[string]types.AttributeValue) error {
		for _, raw := range items {
			it, err := s.codec.DecodeItem(raw)
			if err != nil {
				return fmt.Errorf("dynamodb decode: %w", err)
			}
			out = append(out, it)
		}
		return nil
	}

	if s.partitionAttr != "" {
		p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
			TableName:                 aws.String(s.cfg.Table),
			ConsistentRead:            aws.Bool(s.cfg.ConsistentRead),
			KeyConditionExpression:    aws.String("#p = :p"),
			ExpressionAttributeNames:  map[string]string{"#p": s.partitionAttr},
			ExpressionAttributeValues: map[string]types.AttributeValue{":p": &types.AttributeValueMemberS{Value: s.partitionValue}},
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, dynamoErr("query", err)
			}
			if err := decode(page.Items); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:      aws.String(s.cfg.Table),
		ConsistentRead: aws.Bool(s.cfg.ConsistentRead),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, dynamoErr("scan", err)
		}
		if err := decode(page.Items); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *DynamoStore[T, K]) Find(ctx context.Context, key K) (T, bool, error) {
	var zero T
	k, err := s.codec.EncodeKey(key)
	if err != nil {
		return zero, false, fmt.Errorf("dynamodb encode key: %w", err)
	}
	res, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            k,
		ConsistentRead: aws.Bool(s.cfg.ConsistentRead),
	})
	if err != nil {
		return zero, false, dynamoErr("get", err)
	}
	if len(res.Item) == 0 {
		return zero, false, nil
	}
	it, err := s.codec.DecodeItem(res.Item)
	if err != nil {
		return zero, false, fmt.Errorf("dynamodb decode: %w", err)
	}
	return it, true, nil
}

func (s *DynamoStore[T, K]) Create(ctx context.Context, item T) error {
	av, err := s.codec.EncodeItem(item)
	if err != nil {
		return fmt.Errorf("dynamodb encode: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.Table),
		Item:      av,
	})
	if err != nil {
		return dynamoErr("put", err)
	}
	return nil
}

func (s *DynamoStore[T, K]) Delete(ctx context.Context, key K) error {
	k, err := s.codec.EncodeKey(key)
	if err != nil {
		return fmt.Errorf("dynamodb encode key: %w", err)
	}
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.Table),
		Key:       k,
	})
	if err != nil {
		return dynamoErr("delete", err)
	}
	return nil
}

func dynamoErr(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("dynamodb %s (%s): %w", op, ae.ErrorCode(), err)
	}
	return fmt.Errorf("dynamodb %s: %w", op, err)
}

// DynamoClientConfig configures NewDynamoClient. Empty credentials fall back
// to the default AWS credential chain.
type DynamoClientConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	Secret    string
}

func NewDynamoClient(ctx context.Context, cfg DynamoClientConfig) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(cfg.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	if cfg.AccessKey != "" && cfg.Secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.Secret, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
