package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

// Redis keeps a capped list of gzip-compressed JSON records per feed key,
// newest at the head.
type Redis struct {
	client  *redis.Client
	history int
}

// OpenRedis connects using a redis:// or rediss:// URL.
func OpenRedis(ctx context.Context, dsn string, history int) (*Redis, error) {
	if dsn == "" {
		dsn = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, history), nil
}

func NewRedis(client *redis.Client, history int) *Redis {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Redis{client: client, history: history}
}

func redisKey(feedKey string) string { return "weatherfeed:snapshots:" + feedKey }

func (r *Redis) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	compressed, err := compress(val)
	if err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}
	key := redisKey(rec.FeedKey)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, compressed)
		pipe.LTrim(ctx, key, 0, int64(r.history-1))
		return nil
	})
	return err
}

func (r *Redis) LatestSnapshot(ctx context.Context, feedKey string) (*SnapshotRecord, error) {
	val, err := r.client.LIndex(ctx, redisKey(feedKey), 0).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(val)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Redis) ListSnapshots(ctx context.Context, feedKey string, limit int) ([]SnapshotRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	vals, err := r.client.LRange(ctx, redisKey(feedKey), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := decodeRecord([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func decodeRecord(data []byte) (SnapshotRecord, error) {
	var rec SnapshotRecord
	raw, err := decompress(data)
	if err != nil {
		return rec, fmt.Errorf("failed to decompress: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func compress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
