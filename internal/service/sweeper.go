// sweeper.go — фоновая очистка истёкших файлов.
//
// Каждый проход:
//  1. Удаляет записи с истёкшим сроком хранения вместе с blob
//  2. Удаляет завершённые WAL-транзакции
//  3. Удаляет старые записи журнала операций
//
// Запускается как горутина с периодическим тикером (FS_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики очистки
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_sweep_runs_total",
		Help: "Общее количество проходов очистки",
	})

	sweepPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_sweep_purged_total",
		Help: "Общее количество истёкших файлов, удалённых очисткой",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_sweep_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ErrSweepInProgress — ручной запуск во время выполняющегося прохода.
var ErrSweepInProgress = errors.New("очистка уже выполняется")

// Purger — удаление истёкших записей.
type Purger interface {
	PurgeExpired(ctx context.Context, asOf time.Time) (*PurgeResult, error)
}

// WALCleaner — удаление завершённых WAL-транзакций.
type WALCleaner interface {
	CleanFinished() (int, error)
}

// OplogPruner — удаление старых записей журнала операций.
type OplogPruner interface {
	PruneOperations(ctx context.Context, before time.Time) (int64, error)
}

// SweepResult — результат одного прохода очистки.
type SweepResult struct {
	// Purged — количество удалённых истёкших файлов
	Purged int `json:"purged"`
	// Errors — количество ошибок при обработке
	Errors int `json:"errors"`
	// WALCleaned — количество удалённых WAL-записей
	WALCleaned int `json:"wal_cleaned"`
	// OplogPruned — количество удалённых записей журнала операций
	OplogPruned int64 `json:"oplog_pruned"`
	// StartedAt — время начала прохода
	StartedAt time.Time `json:"started_at"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration"`
}

// SweeperConfig — параметры очистки.
type SweeperConfig struct {
	Interval time.Duration
	// OplogRetention — срок хранения журнала операций; 0 — не очищать
	OplogRetention time.Duration
}

// Sweeper — сервис фоновой очистки истёкших файлов.
type Sweeper struct {
	purger Purger
	wal    WALCleaner
	oplog  OplogPruner
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // защита от параллельного запуска прохода

	stateMu sync.Mutex
	last    *SweepResult
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper создаёт сервис очистки. wal и oplog могут быть nil.
func NewSweeper(purger Purger, wal WALCleaner, oplog OplogPruner, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		purger: purger,
		wal:    wal,
		oplog:  oplog,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sweeper")),
		now:    time.Now,
	}
}

// Start запускает фоновую горутину очистки.
// Вызывается один раз при старте приложения.
func (s *Sweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)

	s.stateMu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.stateMu.Unlock()

	go func() {
		defer close(done)
		s.run(sweepCtx)
	}()

	s.logger.Info("Очистка запущена",
		slog.String("interval", s.cfg.Interval.String()),
	)
}

// Stop останавливает фоновую очистку и дожидается завершения текущего прохода.
func (s *Sweeper) Stop() {
	s.stateMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.stateMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (s *Sweeper) run(ctx context.Context) {
	// Первый проход сразу после старта
	s.safeRunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRunOnce(ctx)
		}
	}
}

// safeRunOnce не даёт панике в проходе остановить цикл.
func (s *Sweeper) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Паника в проходе очистки", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	s.RunOnce(ctx)
}

// RunOnce выполняет один проход очистки.
// Параллельные вызовы выполняются последовательно.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(ctx)
}

// TriggerNow выполняет проход по запросу. Если проход уже выполняется,
// возвращает ErrSweepInProgress без ожидания.
func (s *Sweeper) TriggerNow(ctx context.Context) (*SweepResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()
	return s.sweep(ctx), nil
}

// LastResult возвращает результат последнего прохода или nil.
func (s *Sweeper) LastResult() *SweepResult {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.last == nil {
		return nil
	}
	res := *s.last
	return &res
}

func (s *Sweeper) sweep(ctx context.Context) *SweepResult {
	start := time.Now()
	now := s.now().UTC()
	result := &SweepResult{StartedAt: now}

	s.logger.Debug("Проход очистки начат")

	purge, err := s.purger.PurgeExpired(ctx, now)
	if purge != nil {
		result.Purged = purge.Purged
		result.Errors += purge.Failed
	}
	if err != nil {
		s.logger.Error("Ошибка удаления истёкших файлов", slog.String("error", err.Error()))
		result.Errors++
	}

	if s.wal != nil {
		cleaned, err := s.wal.CleanFinished()
		if err != nil {
			s.logger.Error("Ошибка очистки WAL", slog.String("error", err.Error()))
			result.Errors++
		}
		result.WALCleaned = cleaned
	}

	if s.oplog != nil && s.cfg.OplogRetention > 0 {
		pruned, err := s.oplog.PruneOperations(ctx, now.Add(-s.cfg.OplogRetention))
		if err != nil {
			s.logger.Error("Ошибка очистки журнала операций", slog.String("error", err.Error()))
			result.Errors++
		}
		result.OplogPruned = pruned
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepPurgedTotal.Add(float64(result.Purged))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.stateMu.Lock()
	last := *result
	s.last = &last
	s.stateMu.Unlock()

	s.logger.Info("Проход очистки завершён",
		slog.Int("purged", result.Purged),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int64("oplog_pruned", result.OplogPruned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}
