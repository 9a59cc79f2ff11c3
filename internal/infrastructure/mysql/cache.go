package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"txwatch/internal/application"
	"txwatch/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	recordCacheVersionKey = "txwatch:records:version"
	recordCacheKeyPrefix  = "txwatch:records:v"
	defaultCacheTTL       = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository serves record queries from Redis, invalidating by
// version bump on every archive write.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) StoreRecords(ctx context.Context, records []domain.TransactionRecord) error {
	if err := r.Repository.StoreRecords(ctx, records); err != nil {
		return err
	}
	if len(records) > 0 {
		r.invalidateRecordCache(ctx)
	}
	return nil
}

func (r *CachedRepository) MarkRecordsChecked(ctx context.Context, marks []application.CheckedMark) error {
	if err := r.Repository.MarkRecordsChecked(ctx, marks); err != nil {
		return err
	}
	if len(marks) > 0 {
		r.invalidateRecordCache(ctx)
	}
	return nil
}

func (r *CachedRepository) StoreReceipts(ctx context.Context, receipts []application.FinalizedReceipt) error {
	if err := r.Repository.StoreReceipts(ctx, receipts); err != nil {
		return err
	}
	if len(receipts) > 0 {
		r.invalidateRecordCache(ctx)
	}
	return nil
}

func (r *CachedRepository) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.TransactionRecord, error) {
	if r.cache == nil {
		return r.Repository.QueryRecords(ctx, filter)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.QueryRecords(ctx, filter)
	}
	key := recordCacheKey(version, filter)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var records []domain.TransactionRecord
		if err := json.Unmarshal([]byte(cached), &records); err == nil {
			return records, nil
		}
	}

	records, err := r.Repository.QueryRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return records, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, recordCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidateRecordCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, recordCacheVersionKey).Err()
}

func recordCacheKey(version string, filter application.RecordQueryFilter) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(recordCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":chain=")
	if filter.ChainID != nil {
		b.WriteString(strconv.FormatUint(*filter.ChainID, 10))
	} else {
		b.WriteString("all")
	}
	b.WriteString(":hash=")
	if filter.Hash != "" {
		b.WriteString(filter.Hash)
	} else {
		b.WriteString("any")
	}
	b.WriteString(":pending=")
	if filter.Pending != nil {
		b.WriteString(strconv.FormatBool(*filter.Pending))
	} else {
		b.WriteString("any")
	}
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(normalizeLimit(filter.Limit)))
	return b.String()
}
