package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/facesynth/types"
)

// =============================================================================
// 🗄️ 数据库模型
// =============================================================================

// RunModel 一次合成运行
type RunModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	Name          string `gorm:"size:255"`
	Descriptions  string `gorm:"type:text"`
	Prompt        string `gorm:"type:text"`
	Steps         int
	Status        string `gorm:"size:32;index"`
	BestIteration int
	BestScore     *float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RunModel) TableName() string { return "facesynth_runs" }

// RecordModel 质量历史行。非有限值存为 NULL。
type RecordModel struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"size:36;uniqueIndex:idx_run_iteration"`
	Iteration    int    `gorm:"uniqueIndex:idx_run_iteration"`
	ClipLoss     *float64
	L2Latent     *float64
	L2Param      *float64
	TotalLoss    *float64
	QualityScore *float64
	CreatedAt    time.Time
}

func (RecordModel) TableName() string { return "facesynth_quality_records" }

// SnapshotModel 每个运行一行的最佳快照
type SnapshotModel struct {
	RunID     string `gorm:"primaryKey;size:36"`
	Latent    string `gorm:"type:text"`
	Param     string `gorm:"type:text"`
	Iteration int
	Score     float64
	SavedAt   time.Time
}

func (SnapshotModel) TableName() string { return "facesynth_best_snapshots" }

// Migrate 自动迁移全部表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&RunModel{}, &RecordModel{}, &SnapshotModel{})
}

// =============================================================================
// 💾 DBStore
// =============================================================================

// 运行状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// DBStore 通过 gorm 把运行、历史和最佳快照镜像到 SQL
type DBStore struct {
	db    *gorm.DB
	runID string
}

// NewDBStore 创建绑定到 runID 的存储
func NewDBStore(db *gorm.DB, runID string) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if runID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "run id is required")
	}
	return &DBStore{db: db, runID: runID}, nil
}

// RunID 返回绑定的运行 ID
func (s *DBStore) RunID() string { return s.runID }

// StartRun 写入运行行
func (s *DBStore) StartRun(ctx context.Context, name, descriptions, prompt string, steps int) error {
	run := RunModel{
		ID:           s.runID,
		Name:         name,
		Descriptions: descriptions,
		Prompt:       prompt,
		Steps:        steps,
		Status:       RunStatusRunning,
	}
	return s.db.WithContext(ctx).Create(&run).Error
}

// FinishRun 更新运行状态与最佳结果
func (s *DBStore) FinishRun(ctx context.Context, status string, bestIteration int, bestScore float64) error {
	return s.db.WithContext(ctx).Model(&RunModel{}).
		Where("id = ?", s.runID).
		Updates(map[string]any{
			"status":         status,
			"best_iteration": bestIteration,
			"best_score":     finiteOrNil(bestScore),
		}).Error
}

// Run 读取运行行
func (s *DBStore) Run(ctx context.Context) (*RunModel, error) {
	var run RunModel
	if err := s.db.WithContext(ctx).First(&run, "id = ?", s.runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// AppendRecord 追加一条质量记录
func (s *DBStore) AppendRecord(ctx context.Context, r Record) error {
	row := RecordModel{
		RunID:        s.runID,
		Iteration:    r.Iteration,
		ClipLoss:     finiteOrNil(r.ClipLoss),
		L2Latent:     finiteOrNil(r.L2Latent),
		L2Param:      finiteOrNil(r.L2Param),
		TotalLoss:    finiteOrNil(r.TotalLoss),
		QualityScore: finiteOrNil(r.QualityScore),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Records 按迭代顺序读取全部记录。NULL 读回为 NaN。
func (s *DBStore) Records(ctx context.Context) ([]Record, error) {
	var rows []RecordModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", s.runID).
		Order("iteration ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			Iteration:    row.Iteration,
			ClipLoss:     orNaN(row.ClipLoss),
			L2Latent:     orNaN(row.L2Latent),
			L2Param:      orNaN(row.L2Param),
			TotalLoss:    orNaN(row.TotalLoss),
			QualityScore: orNaN(row.QualityScore),
		})
	}
	return out, nil
}

// SaveSnapshot 覆盖写当前运行的快照
func (s *DBStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	latent, err := json.Marshal(snap.Latent)
	if err != nil {
		return err
	}
	param, err := json.Marshal(snap.Param)
	if err != nil {
		return err
	}
	row := SnapshotModel{
		RunID:     s.runID,
		Latent:    string(latent),
		Param:     string(param),
		Iteration: snap.Iteration,
		Score:     snap.Score,
		SavedAt:   snap.SavedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// LoadSnapshot 读取当前运行的快照
func (s *DBStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var row SnapshotModel
	err := s.db.WithContext(ctx).First(&row, "run_id = ?", s.runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrSnapshotMissing, "no snapshot for run %s", s.runID)
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		RunID:     row.RunID,
		Iteration: row.Iteration,
		Score:     row.Score,
		SavedAt:   row.SavedAt,
	}
	if err := json.Unmarshal([]byte(row.Latent), &snap.Latent); err != nil {
		return nil, types.Errorf(types.ErrAssetInvalid, "decode latent: %v", err)
	}
	if err := json.Unmarshal([]byte(row.Param), &snap.Param); err != nil {
		return nil, types.Errorf(types.ErrAssetInvalid, "decode param: %v", err)
	}
	return snap, nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// =============================================================================
// 🔀 MultiStore
// =============================================================================

// MultiStore 写入全部存储，读取时返回第一个成功的结果
type MultiStore []SnapshotStore

func (m MultiStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var lastErr error = types.NewError(types.ErrSnapshotMissing, "no snapshot stores configured")
	for _, s := range m {
		snap, err := s.LoadSnapshot(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
