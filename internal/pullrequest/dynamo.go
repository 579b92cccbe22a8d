package pullrequest

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pierre/internal/storage"
)

// PartitionAttr is the hash key of the DynamoDB table; id is the range key.
const PartitionAttr = "scope"

type dynamoItem struct {
	Scope       string `dynamodbav:"scope"`
	ID          int64  `dynamodbav:"id"`
	Project     string `dynamodbav:"project"`
	Repo        string `dynamodbav:"repo"`
	Title       string `dynamodbav:"title,omitempty"`
	Link        string `dynamodbav:"link,omitempty"`
	ProcessedAt int64  `dynamodbav:"processed_at"` // epoch ms
}

type dynamoKey struct {
	Scope string `dynamodbav:"scope"`
	ID    int64  `dynamodbav:"id"`
}

// Codec maps pull requests to DynamoDB items keyed by (scope, id).
func Codec() storage.ItemCodec[PullRequest, Key] {
	return storage.ItemCodec[PullRequest, Key]{
		EncodeItem: func(p PullRequest) (map[string]types.AttributeValue, error) {
			k := p.Key()
			at := p.ProcessedAt
			if at.IsZero() {
				at = time.Now()
			}
			return attributevalue.MarshalMap(dynamoItem{
				Scope:       k.Scope().String(),
				ID:          k.ID,
				Project:     k.Project,
				Repo:        k.Repo,
				Title:       p.Title,
				Link:        p.Link,
				ProcessedAt: at.UnixMilli(),
			})
		},
		EncodeKey: func(k Key) (map[string]types.AttributeValue, error) {
			return attributevalue.MarshalMap(dynamoKey{Scope: k.Scope().String(), ID: k.ID})
		},
		DecodeItem: func(m map[string]types.AttributeValue) (PullRequest, error) {
			var it dynamoItem
			if err := attributevalue.UnmarshalMap(m, &it); err != nil {
				return PullRequest{}, err
			}
			p := PullRequest{ID: it.ID, Project: it.Project, Repo: it.Repo, Title: it.Title, Link: it.Link}
			if it.ProcessedAt > 0 {
				p.ProcessedAt = time.UnixMilli(it.ProcessedAt)
			}
			return p, nil
		},
	}
}

