package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshotter saves and loads the persisted part of the relay state.
type Snapshotter interface {
	Save(ctx context.Context, snapshot domain.Snapshot) error
	// Load returns false when nothing was saved yet.
	Load(ctx context.Context) (domain.Snapshot, bool, error)
}

// NewSnapshotter picks the backend named in cfg.
func NewSnapshotter(cfg config.SnapshotConfig, pg *Postgres, rdb *Redis, logger *zap.Logger) (Snapshotter, error) {
	switch cfg.Backend {
	case config.SnapshotBackendFile, "":
		logger.Info("snapshot backend: file", zap.String("path", cfg.FilePath))
		return NewFileSnapshotter(cfg.FilePath), nil
	case config.SnapshotBackendPostgres:
		if !pg.Enabled() {
			return nil, errors.New("postgres snapshot backend requires POSTGRES_DSN")
		}
		logger.Info("snapshot backend: postgres")
		return NewPostgresSnapshotter(pg.PoolHandle()), nil
	case config.SnapshotBackendRedis:
		if !rdb.Enabled() {
			return nil, errors.New("redis snapshot backend requires a redis client")
		}
		logger.Info("snapshot backend: redis", zap.String("key", cfg.RedisKey))
		return NewRedisSnapshotter(rdb.Client, cfg.RedisKey), nil
	case config.SnapshotBackendNone:
		logger.Warn("snapshot backend disabled; state is lost on restart")
		return NoopSnapshotter{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// NoopSnapshotter discards every save.
type NoopSnapshotter struct{}

func (NoopSnapshotter) Save(context.Context, domain.Snapshot) error { return nil }

func (NoopSnapshotter) Load(context.Context) (domain.Snapshot, bool, error) {
	return domain.Snapshot{}, false, nil
}

// FileSnapshotter keeps the snapshot in a JSON file. Writes go to a
// temporary file that is renamed into place.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter returns a snapshotter writing to path.
func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path}
}

func (f *FileSnapshotter) Save(_ context.Context, snapshot domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

func (f *FileSnapshotter) Load(_ context.Context) (domain.Snapshot, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func encodeSnapshot(snapshot domain.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(normalize(snapshot), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return normalize(snapshot), nil
}

// normalize replaces nil collections so the encoded form always carries
// every key.
func normalize(s domain.Snapshot) domain.Snapshot {
	if s.BlacklistedUsers == nil {
		s.BlacklistedUsers = []string{}
	}
	if s.TicketLogs == nil {
		s.TicketLogs = map[string][]domain.ClosedRecord{}
	}
	if s.WelcomeTimestamps == nil {
		s.WelcomeTimestamps = map[string]time.Time{}
	}
	return s
}
