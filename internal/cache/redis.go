package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/models"
)

// ErrCacheMiss вердикта нет в кэше или он истек
var ErrCacheMiss = errors.New("verdict not cached")

const abnormalListKey = "abnormal_recordings"

// RedisCache кэш вердиктов записей
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создает новый Redis кэш
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func verdictKey(recordingID string) string {
	return fmt.Sprintf("verdict:%s", recordingID)
}

func counterKey(verdict analytics.RecordingVerdict) string {
	return fmt.Sprintf("verdict_count:%s", verdict)
}

// StoreVerdict сохраняет последний вердикт записи; аномальные записи
// дополнительно попадают в sorted set с более длительным TTL
func (r *RedisCache) StoreVerdict(ctx context.Context, rec *models.VerdictRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, verdictKey(rec.RecordingID), data, r.ttl)
	pipe.Incr(ctx, counterKey(rec.Verdict))

	if rec.Verdict == analytics.RecordingAbnormal {
		abnormalTTL := r.ttl * 24
		pipe.ZAdd(ctx, abnormalListKey, redis.Z{
			Score:  float64(rec.CreatedAt.Unix()),
			Member: rec.RecordingID,
		})
		pipe.Expire(ctx, abnormalListKey, abnormalTTL)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetVerdict возвращает закэшированный вердикт записи
func (r *RedisCache) GetVerdict(ctx context.Context, recordingID string) (*models.VerdictRecord, error) {
	data, err := r.client.Get(ctx, verdictKey(recordingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}

	var rec models.VerdictRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	return &rec, nil
}

// GetRecentAbnormal получает последние записи с аномальным вердиктом
func (r *RedisCache) GetRecentAbnormal(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	results, err := r.client.ZRevRange(ctx, abnormalListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get abnormal recordings: %w", err)
	}
	return results, nil
}

// GetCounter получает число вердиктов данного вида
func (r *RedisCache) GetCounter(ctx context.Context, verdict analytics.RecordingVerdict) (int64, error) {
	val, err := r.client.Get(ctx, counterKey(verdict)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats возвращает статистику пула соединений
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
