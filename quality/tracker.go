package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/facesynth/types"
)

// 评分权重
const (
	ClipWeight           = 0.6
	RegularizationWeight = 0.4
	RegularizationScale  = 0.1
)

// TimestampLayout 报告时间戳格式
const TimestampLayout = "2006-01-02 15:04:05"

// Record 单次迭代的指标，按 Iteration 严格递增追加
type Record struct {
	Iteration    int     `json:"iteration"`
	ClipLoss     float64 `json:"clip_loss"`
	L2Latent     float64 `json:"l2_latent"`
	L2Param      float64 `json:"l2_param"`
	TotalLoss    float64 `json:"total_loss"`
	QualityScore float64 `json:"quality_score"`
}

// Snapshot 最佳参数快照。Latent 和 Param 是独立副本。
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Latent    []float64 `json:"latent"`
	Param     []float64 `json:"param"`
	Iteration int       `json:"iteration"`
	Score     float64   `json:"score"`
	SavedAt   time.Time `json:"saved_at"`
}

// SnapshotStore 快照持久化，每次保存覆盖上一次
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// Score 计算质量分数
func Score(clipLoss, l2Latent, l2Param float64) float64 {
	return clipLoss*ClipWeight + (l2Latent+l2Param)*RegularizationWeight*RegularizationScale
}

// Finite 报告 v 是否为有限数
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// =============================================================================
// 📈 Tracker
// =============================================================================

// Tracker 在线最佳结果跟踪器
type Tracker struct {
	mu            sync.RWMutex
	history       []Record
	bestScore     float64
	bestIteration int
	best          *Snapshot
	store         SnapshotStore
	runID         string
	now           func() time.Time
	logger        *zap.Logger
}

// TrackerOption 配置 Tracker
type TrackerOption func(*Tracker)

// WithStore 设置快照存储，每次 SaveBestState 都会写入
func WithStore(s SnapshotStore) TrackerOption {
	return func(t *Tracker) { t.store = s }
}

// WithRunID 设置写入快照的运行 ID
func WithRunID(id string) TrackerOption {
	return func(t *Tracker) { t.runID = id }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker 创建跟踪器
func NewTracker(logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		bestScore: math.Inf(1),
		now:       time.Now,
		logger:    logger.With(zap.String("component", "quality")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Evaluate 记录一次迭代并返回是否为新的最佳结果。
// 非有限分数照常记录，但不会成为最佳。迭代号必须严格递增，
// 否则记录被丢弃。
func (t *Tracker) Evaluate(iteration int, clipLoss, l2Latent, l2Param, totalLoss float64) (isBest bool, score float64) {
	score = Score(clipLoss, l2Latent, l2Param)

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.history); n > 0 && iteration <= t.history[n-1].Iteration {
		t.logger.Warn("out-of-order iteration ignored",
			zap.Int("iteration", iteration),
			zap.Int("last", t.history[n-1].Iteration))
		return false, score
	}

	t.history = append(t.history, Record{
		Iteration:    iteration,
		ClipLoss:     clipLoss,
		L2Latent:     l2Latent,
		L2Param:      l2Param,
		TotalLoss:    totalLoss,
		QualityScore: score,
	})

	if !Finite(score) {
		t.logger.Warn("non-finite quality score",
			zap.Int("iteration", iteration),
			zap.Float64("clip_loss", clipLoss),
			zap.Float64("l2_latent", l2Latent),
			zap.Float64("l2_param", l2Param))
		return false, score
	}

	if score < t.bestScore {
		t.bestScore = score
		t.bestIteration = iteration
		return true, score
	}
	return false, score
}

// SaveBestState 复制当前参数作为最佳快照，并写入存储（若已配置）。
// 调用方在 Evaluate 返回 true 后调用。
func (t *Tracker) SaveBestState(ctx context.Context, latent, param []float64, iteration int) error {
	t.mu.Lock()
	snap := &Snapshot{
		RunID:     t.runID,
		Latent:    append([]float64(nil), latent...),
		Param:     append([]float64(nil), param...),
		Iteration: iteration,
		Score:     t.bestScore,
		SavedAt:   t.now(),
	}
	t.best = snap
	store := t.store
	t.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.SaveSnapshot(ctx, snap.clone()); err != nil {
		return fmt.Errorf("persist best snapshot: %w", err)
	}
	return nil
}

// LoadBest 返回最佳快照的副本。内存中没有时从存储读取，
// 但只接受本次运行（RunID 相同）写入的快照。
func (t *Tracker) LoadBest(ctx context.Context) (*Snapshot, error) {
	t.mu.RLock()
	best, store, runID := t.best, t.store, t.runID
	t.mu.RUnlock()

	if best != nil {
		return best.clone(), nil
	}
	if store == nil {
		return nil, types.NewError(types.ErrSnapshotMissing, "no best snapshot has been saved")
	}
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.RunID != runID {
		t.logger.Warn("ignoring best snapshot from another run",
			zap.String("run_id", runID),
			zap.String("snapshot_run_id", snap.RunID))
		return nil, types.Errorf(types.ErrSnapshotMissing, "no best snapshot saved by run %q", runID)
	}
	return snap, nil
}

// Best 返回当前最佳迭代与分数。尚无有限分数时 score 为 +Inf。
func (t *Tracker) Best() (iteration int, score float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bestIteration, t.bestScore
}

// History 返回历史记录副本
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// Latest 返回最后一条记录
func (t *Tracker) Latest() (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return Record{}, false
	}
	return t.history[len(t.history)-1], true
}

// =============================================================================
// 📝 Report
// =============================================================================

// FinalMetrics 最后一条记录的原始损失
type FinalMetrics struct {
	ClipLoss  float64 `json:"clip_loss"`
	L2Latent  float64 `json:"l2_latent"`
	L2Param   float64 `json:"l2_param"`
	TotalLoss float64 `json:"total_loss"`
}

// Report 结构化优化摘要
type Report struct {
	BestIteration int          `json:"best_iteration"`
	BestScore     float64      `json:"best_score"`
	FinalMetrics  FinalMetrics `json:"final_metrics"`
	Timestamp     string       `json:"timestamp"`
}

// Report 生成摘要。没有任何记录时返回错误。
func (t *Tracker) Report() (*Report, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.history) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "no iterations recorded")
	}
	last := t.history[len(t.history)-1]
	return &Report{
		BestIteration: t.bestIteration,
		BestScore:     t.bestScore,
		FinalMetrics: FinalMetrics{
			ClipLoss:  last.ClipLoss,
			L2Latent:  last.L2Latent,
			L2Param:   last.L2Param,
			TotalLoss: last.TotalLoss,
		},
		Timestamp: t.now().Format(TimestampLayout),
	}, nil
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Latent = append([]float64(nil), s.Latent...)
	c.Param = append([]float64(nil), s.Param...)
	return &c
}

// MarshalJSON 非有限值编码为 null
func (r Report) MarshalJSON() ([]byte, error) {
	type finalMetrics struct {
		ClipLoss  *float64 `json:"clip_loss"`
		L2Latent  *float64 `json:"l2_latent"`
		L2Param   *float64 `json:"l2_param"`
		TotalLoss *float64 `json:"total_loss"`
	}
	return json.Marshal(struct {
		BestIteration int          `json:"best_iteration"`
		BestScore     *float64     `json:"best_score"`
		FinalMetrics  finalMetrics `json:"final_metrics"`
		Timestamp     string       `json:"timestamp"`
	}{
		BestIteration: r.BestIteration,
		BestScore:     finiteOrNil(r.BestScore),
		FinalMetrics: finalMetrics{
			ClipLoss:  finiteOrNil(r.FinalMetrics.ClipLoss),
			L2Latent:  finiteOrNil(r.FinalMetrics.L2Latent),
			L2Param:   finiteOrNil(r.FinalMetrics.L2Param),
			TotalLoss: finiteOrNil(r.FinalMetrics.TotalLoss),
		},
		Timestamp: r.Timestamp,
	})
}

func finiteOrNil(v float64) *float64 {
	if !Finite(v) {
		return nil
	}
	return &v
}
