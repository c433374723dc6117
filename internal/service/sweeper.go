package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/postcard-capsule/internal/model"
	"github.com/d60-Lab/postcard-capsule/internal/repository"
	"github.com/d60-Lab/postcard-capsule/pkg/logger"
	"github.com/d60-Lab/postcard-capsule/pkg/monitor"
)

var tracer = otel.Tracer("github.com/d60-Lab/postcard-capsule/internal/service")

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "postcard",
		Name:      "sweeper_runs_total",
		Help:      "Time-lock sweeps by result.",
	}, []string{"result"}) // ok, error, skipped
	sweepUnlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "postcard",
		Name:      "sweeper_unlocks_total",
		Help:      "Per-postcard outcomes of time-lock sweeps.",
	}, []string{"result"}) // unlocked, noop, failed
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "postcard",
		Name:      "sweeper_duration_seconds",
		Help:      "Duration of a time-lock sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)

// SweeperConfig 扫描间隔、单批大小与单次超时
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
}

// SweepResult 单次扫描统计
type SweepResult struct {
	Scanned  int
	Unlocked int
	Skipped  int // 已被其它路径解锁
	Failed   int
}

// TimeLockSweeper 周期性解锁到期的时间锁明信片
type TimeLockSweeper struct {
	repo     repository.PostcardRepository
	unlocker unlocker
	cfg      SweeperConfig
	now      func() time.Time
	running  atomic.Bool
}

func NewTimeLockSweeper(repo repository.PostcardRepository, notifier Notifier, cfg SweeperConfig, opts ...Option) *TimeLockSweeper {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	o := buildOptions(opts)
	return &TimeLockSweeper{
		repo:     repo,
		unlocker: unlocker{repo: repo, notifier: notifier},
		cfg:      cfg,
		now:      o.now,
	}
}

// Start 立即扫描一次，之后按 Interval 周期扫描；返回停止函数，停止时等待进行中的扫描结束。
func (w *TimeLockSweeper) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.loop(stop)
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *TimeLockSweeper) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.runOnce(stop)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.runOnce(stop)
		}
	}
}

func (w *TimeLockSweeper) runOnce(stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	// 停止信号到来时让正在进行的查询尽快返回
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := w.SweepOnce(ctx)
	if err != nil {
		logger.Error("time-lock sweep failed", zap.Error(err))
		return
	}
	if res.Scanned > 0 {
		logger.Info("time-lock sweep done",
			zap.Int("scanned", res.Scanned),
			zap.Int("unlocked", res.Unlocked),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
}

// SweepOnce 按 (unlock_date, id) 游标分页，解锁所有 unlock_date <= now 的 LOCKED 明信片。
// 每条记录本轮只处理一次；单条失败只记录，留给下一轮；与正在进行的扫描重叠时返回 ErrSweepInProgress。
func (w *TimeLockSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !w.running.CompareAndSwap(false, true) {
		sweepRuns.WithLabelValues("skipped").Inc()
		return res, ErrSweepInProgress
	}
	defer w.running.Store(false)

	ctx, span := tracer.Start(ctx, "TimeLockSweeper.SweepOnce")
	defer span.End()
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := w.now().UTC()
	var after *repository.Cursor
	for {
		batch, err := w.repo.FindByStatus(ctx, model.PostcardStatusLocked, repository.StatusFilter{
			UnlockDueBefore: &now,
			After:           after,
			Limit:           w.cfg.BatchSize,
		})
		if err != nil {
			sweepRuns.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "query due postcards")
			monitor.CaptureError(err, map[string]string{"component": "sweeper"})
			return res, fmt.Errorf("query due postcards: %w", err)
		}

		for _, p := range batch {
			res.Scanned++
			ok, err := w.unlocker.unlock(ctx, p, now, "time")
			switch {
			case err != nil:
				res.Failed++
				sweepUnlocks.WithLabelValues("failed").Inc()
				logger.Warn("unlock postcard failed", zap.String("postcard_id", p.ID), zap.Error(err))
				monitor.CaptureError(err, map[string]string{"component": "sweeper", "postcard_id": p.ID})
			case ok:
				res.Unlocked++
				sweepUnlocks.WithLabelValues("unlocked").Inc()
			default:
				res.Skipped++
				sweepUnlocks.WithLabelValues("noop").Inc()
			}
		}

		// 游标越过本批所有记录（包括失败的），失败记录留到下一轮
		if len(batch) < w.cfg.BatchSize || ctx.Err() != nil {
			break
		}
		after = repository.CursorOf(batch[len(batch)-1])
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", res.Scanned),
		attribute.Int("sweep.unlocked", res.Unlocked),
		attribute.Int("sweep.failed", res.Failed),
	)
	sweepRuns.WithLabelValues("ok").Inc()
	return res, nil
}
