package metacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/internal/query"
	"github.com/pitabwire/tableview/model"
)

// Cache entry names.
const (
	EntryColumns       = "columns"
	EntryFilterOptions = "filter_options"
)

// defaultInstance scopes keys when no viewer instance id is set.
const defaultInstance = "default"

// Fetcher loads the cached values from the backend. *client.Client
// implements it.
type Fetcher interface {
	FetchColumnsConfig(ctx context.Context) (model.ColumnsConfig, error)
	FetchFilterOptions(ctx context.Context) (model.FilterOptions, error)
}

// Cache is a read-through cache of one viewer instance's column config and
// filter options. Store failures degrade to a fetch and are only logged.
type Cache struct {
	store    Store
	fetcher  Fetcher
	prefix   string
	instance string
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// Option customizes a Cache.
type Option func(*Cache)

// WithInstance scopes cache keys to one viewer instance.
func WithInstance(id string) Option {
	return func(c *Cache) { c.instance = id }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics enables hit/miss counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache over store that loads misses from fetcher.
func New(store Store, fetcher Fetcher, cfg config.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		fetcher:  fetcher,
		prefix:   cfg.KeyPrefix,
		instance: defaultInstance,
		ttl:      cfg.TTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FormatKey builds the store key of one entry: {prefix}{instance}:{entry}.
func FormatKey(prefix, instance, entry string) string {
	if instance == "" {
		instance = defaultInstance
	}
	return fmt.Sprintf("%s%s:%s", prefix, instance, entry)
}

func (c *Cache) key(entry string) string {
	return FormatKey(c.prefix, c.instance, entry)
}

// Columns returns the cached column config, fetching it on a miss.
func (c *Cache) Columns(ctx context.Context) (model.ColumnsConfig, error) {
	return load(ctx, c, EntryColumns, c.fetcher.FetchColumnsConfig)
}

// FilterOptions returns the cached filter options, fetching them on a miss.
func (c *Cache) FilterOptions(ctx context.Context) (model.FilterOptions, error) {
	return load(ctx, c, EntryFilterOptions, c.fetcher.FetchFilterOptions)
}

// Refresh fetches both entries and replaces the cached values. Nothing is
// replaced for an entry whose fetch fails.
func (c *Cache) Refresh(ctx context.Context) error {
	_, errCols := refresh(ctx, c, EntryColumns, c.fetcher.FetchColumnsConfig)
	_, errOpts := refresh(ctx, c, EntryFilterOptions, c.fetcher.FetchFilterOptions)
	return errors.Join(errCols, errOpts)
}

// Invalidate drops both entries.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.store.Delete(ctx, c.key(EntryColumns), c.key(EntryFilterOptions))
}

// Builder returns a query builder typed by the cached column config, without
// fetching. Before the config is cached the builder is permissive.
func (c *Cache) Builder(ctx context.Context) *query.Builder {
	cols, ok := lookup[model.ColumnsConfig](ctx, c, EntryColumns)
	if !ok {
		return query.NewBuilder(nil)
	}
	return query.NewBuilder(cols.Columns)
}

func load[T any](ctx context.Context, c *Cache, entry string, fetch func(context.Context) (T, error)) (T, error) {
	ctx, span := observability.StartCacheLookup(ctx, entry)
	if v, ok := lookup[T](ctx, c, entry); ok {
		observability.EndCacheLookup(span, true, nil)
		return v, nil
	}
	v, err := refresh(ctx, c, entry, fetch)
	observability.EndCacheLookup(span, false, err)
	return v, err
}

// lookup reads and decodes an entry, counting the hit or miss. Store errors
// and undecodable values count as misses.
func lookup[T any](ctx context.Context, c *Cache, entry string) (T, bool) {
	var v T
	logger := observability.RequestLogger(ctx, c.logger)
	key := c.key(entry)

	raw, found, err := c.store.Load(ctx, key)
	if err != nil {
		logger.Warn("metacache load failed", zap.String("key", key), zap.Error(err))
	}
	if err == nil && found {
		if err := json.Unmarshal(raw, &v); err == nil {
			c.recordHit(entry)
			logger.Debug("metacache hit", zap.String("key", key))
			return v, true
		}
		logger.Warn("metacache value undecodable, refetching", zap.String("key", key))
	}
	c.recordMiss(entry)
	return v, false
}

// refresh fetches an entry and replaces the cached value.
func refresh[T any](ctx context.Context, c *Cache, entry string, fetch func(context.Context) (T, error)) (T, error) {
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	key := c.key(entry)
	raw, err := json.Marshal(v)
	if err == nil {
		err = c.store.Save(ctx, key, raw, c.ttl)
	}
	if err != nil {
		observability.RequestLogger(ctx, c.logger).Warn("metacache save failed",
			zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (c *Cache) recordHit(entry string) {
	if c.metrics != nil {
		c.metrics.RecordMetaCacheHit(entry)
	}
}

func (c *Cache) recordMiss(entry string) {
	if c.metrics != nil {
		c.metrics.RecordMetaCacheMiss(entry)
	}
}
