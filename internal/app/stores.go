package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pierre/internal/config"
	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	"pierre/internal/storage"
	logx "pierre/pkg/logx"
)

type prStore = storage.Store[pullrequest.PullRequest, pullrequest.Key]

// stores hands out the record store for each scope.
type stores struct {
	driver string
	shared prStore
	dynamo *storage.DynamoStore[pullrequest.PullRequest, pullrequest.Key]
	prefs  *pullrequest.RepoPrefs
	close  func() error

	once     sync.Once
	closeErr error
}

func (s *stores) forScope(scope pipeline.Scope) prStore {
	if s.dynamo != nil {
		return s.dynamo.ForPartition(pullrequest.PartitionAttr, scope.String())
	}
	return s.shared
}

func (s *stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	s.once.Do(func() { s.closeErr = s.close() })
	return s.closeErr
}

// openStores opens the configured backend. SQL schemas are migrated here;
// a failure is fatal to startup.
func openStores(ctx context.Context, sc config.StorageConfig, log logx.Logger) (*stores, error) {
	driver := config.NormalizeDriver(sc.Driver)
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "memory":
		log.Warn("memory store: processed records are lost on restart")
		return &stores{driver: driver, shared: storage.NewMemStore[pullrequest.PullRequest, pullrequest.Key]()}, nil

	case "file":
		fst, err := storage.OpenFileStore[pullrequest.PullRequest, pullrequest.Key](strings.TrimSpace(sc.Path), log)
		if err != nil {
			return nil, err
		}
		return &stores{driver: driver, shared: fst, close: fst.Close}, nil

	case "sqlite", "postgres":
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return nil, err
		}
		db, err := storage.OpenSQL(ctx, storage.Config{
			Driver:      driver,
			Path:        strings.TrimSpace(sc.Path),
			DSN:         strings.TrimSpace(sc.DSN),
			BusyTimeout: busy,
		}, log)
		if err != nil {
			return nil, err
		}
		st, err := storage.NewSQLStore(db, pullrequest.Table(), log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := st.Initialize(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize %s store: %w", driver, err)
		}
		return &stores{driver: driver, shared: st, prefs: pullrequest.NewRepoPrefs(db), close: db.Close}, nil

	case "dynamodb":
		dc := sc.DynamoDB
		if dc == nil {
			return nil, errors.New("storage.dynamodb is required for driver dynamodb")
		}
		client, err := storage.NewDynamoClient(ctx, storage.DynamoClientConfig{
			Region:    dc.Region,
			Endpoint:  dc.Endpoint,
			AccessKey: dc.AccessKey,
			Secret:    dc.Secret,
		})
		if err != nil {
			return nil, err
		}
		ds, err := storage.NewDynamoStore(client, storage.DynamoConfig{
			Table:          dc.Table,
			ConsistentRead: dc.ConsistentRead,
		}, pullrequest.Codec(), log)
		if err != nil {
			return nil, err
		}
		return &stores{driver: driver, dynamo: ds}, nil
	}
	return nil, fmt.Errorf("storage.driver: unknown %q", sc.Driver)
}
