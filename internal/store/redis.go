package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devfleet/devfleet/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// RedisStore implements SnapshotStore on Redis. It is an alternative to the
// FileStore for setups where the control plane state should survive the
// machine (or be inspected remotely). Backups are kept as separate keys
// indexed by a list, trimmed to the retention count.
type RedisStore struct {
	client    *backend.Client
	prefix    string
	retention int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix (default "devfleet:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisRetention overrides the backup retention count.
func WithRedisRetention(n int) RedisOption {
	return func(s *RedisStore) {
		s.retention = n
	}
}

// NewRedisStore creates a RedisStore with its own client.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a RedisStore from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "devfleet:",
		retention: DefaultBackupRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) snapshotKey() string { return s.prefix + "snapshot" }
func (s *RedisStore) indexKey() string    { return s.prefix + "backups" }
func (s *RedisStore) backupKey(name string) string {
	return s.prefix + "backup:" + name
}

// Load retrieves the current snapshot.
func (s *RedisStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	val, err := s.client.Get(ctx, s.snapshotKey()).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, ErrNotFound
		}
		return nil, domain.Wrap(domain.CodeConfigError, err, "failed to load snapshot from redis")
	}
	return decodeSnapshot([]byte(val), s.snapshotKey())
}

// Save backs up the previous snapshot under a timestamped key and replaces
// the current one. SET is atomic on the Redis side, so concurrent Loads
// observe either the old or the new document.
func (s *RedisStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	prev, err := s.client.Get(ctx, s.snapshotKey()).Result()
	if err != nil && err != backend.Nil {
		return fmt.Errorf("failed to read previous snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	if err != backend.Nil {
		name := fmt.Sprintf("projects_%s.json", time.Now().UTC().Format(backupTimeLayout))
		pipe.Set(ctx, s.backupKey(name), prev, 0)
		pipe.LPush(ctx, s.indexKey(), name)
	}
	pipe.Set(ctx, s.snapshotKey(), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}

	return s.prune(ctx)
}

func (s *RedisStore) prune(ctx context.Context) error {
	retention := s.retention
	if retention <= 0 {
		retention = DefaultBackupRetention
	}
	evicted, err := s.client.LRange(ctx, s.indexKey(), int64(retention), -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list old backups: %w", err)
	}
	if len(evicted) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.LTrim(ctx, s.indexKey(), 0, int64(retention)-1)
	for _, name := range evicted {
		pipe.Del(ctx, s.backupKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to prune backups: %w", err)
	}
	return nil
}

// Backups lists retained backups, newest first.
func (s *RedisStore) Backups(ctx context.Context) ([]BackupInfo, error) {
	names, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	infos := make([]BackupInfo, 0, len(names))
	for _, name := range names {
		info := BackupInfo{Name: name}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, "projects_"), ".json")
		if t, err := time.Parse(backupTimeLayout, stamp); err == nil {
			info.CreatedAt = t.UTC()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Restore loads the named backup.
func (s *RedisStore) Restore(ctx context.Context, name string) (*domain.Snapshot, error) {
	val, err := s.client.Get(ctx, s.backupKey(name)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read backup %s: %w", name, err)
	}
	return decodeSnapshot([]byte(val), name)
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
