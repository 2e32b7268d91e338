package storage

import (
	"context"
	"encoding/base64"
	"regexp"
	"sync"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

const defaultCollection = "fx_store"

// CloverStore keeps one document per key. Values are base64 encoded since
// documents are persisted as JSON.
type CloverStore struct {
	db         *clover.DB
	logger     types.Logger
	config     *types.StorageConfig
	collection string
	mu         sync.Mutex
}

func NewCloverStore(logger types.Logger, config *types.StorageConfig) (*CloverStore, error) {
	var options []clover.Option
	if config.Path == "" {
		options = append(options, clover.InMemoryMode(true))
	}

	db, err := clover.Open(config.Path, options...)
	if err != nil {
		return nil, types.WrapError(err, "failed to open CloverDB")
	}

	store := &CloverStore{
		db:         db,
		logger:     logger,
		config:     config,
		collection: defaultCollection,
	}

	if params, ok := config.Config.(map[string]interface{}); ok {
		if name, ok := params["collection"].(string); ok && name != "" {
			store.collection = name
		}
	}

	exists, err := db.HasCollection(store.collection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check collection existence")
	}
	if !exists {
		if err = db.CreateCollection(store.collection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	return store, nil
}

func (c *CloverStore) Start() error {
	c.logger.Info("CloverDB opened",
		zap.String("path", c.config.Path),
		zap.String("collection", c.collection))
	return nil
}

func (c *CloverStore) Stop() error {
	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}
	return nil
}

func (c *CloverStore) IsRunning() bool { return true }

func (c *CloverStore) Get(_ context.Context, key string) ([]byte, error) {
	doc, err := c.db.Query(c.collection).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	if doc == nil {
		return nil, types.Errorf(types.ErrStorageKeyNotFound, "%s", key)
	}

	encoded, _ := doc.Get("value").(string)
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "decode %s: %v", key, err)
	}
	return value, nil
}

func (c *CloverStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := c.db.Query(c.collection).Where(clover.Field("key").Eq(key))
	if err := query.Delete(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("value", base64.StdEncoding.EncodeToString(value))

	if err := c.db.Insert(c.collection, doc); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(c.collection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	return nil
}

func (c *CloverStore) Keys(_ context.Context, prefix string) ([]string, error) {
	query := c.db.Query(c.collection)
	if prefix != "" {
		query = query.Where(clover.Field("key").Like("^" + regexp.QuoteMeta(prefix)))
	}

	docs, err := query.Sort(clover.SortOption{Field: "key", Direction: 1}).FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if key, ok := doc.Get("key").(string); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
