package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BaSui01/facesynth/types"
)

// SnapshotFile 快照文件名
const SnapshotFile = "best_model.json"

// FileStore 将快照以 JSON 写入目录，覆盖写
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore 创建文件快照存储，目录不存在时创建
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path 快照文件路径
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, SnapshotFile)
}

// SaveSnapshot 原子写: 写入临时文件后重命名
func (s *FileStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// LoadSnapshot 读取快照，不存在时返回 SNAPSHOT_MISSING
func (s *FileStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrSnapshotMissing, "snapshot file %s not found", s.Path())
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, types.Errorf(types.ErrAssetInvalid, "decode snapshot: %v", err).WithCause(err)
	}
	return &snap, nil
}
