// health.go — обработчики health endpoints для Kubernetes.
package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/config"
	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

const (
	statusOK       = "ok"
	statusWarning  = "warning"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// pingTimeout — таймаут проверки хранилища метаданных.
const pingTimeout = 2 * time.Second

// Pinger — проверка доступности хранилища метаданных.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource — сводка по записям для проверки истёкших файлов.
type StatsSource interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

// SweepReporter — результат последнего прохода очистки.
type SweepReporter interface {
	LastResult() *service.SweepResult
}

// HealthConfig — директории и пороги проверки готовности.
// Нулевой порог отключает соответствующее предупреждение.
type HealthConfig struct {
	BlobDir          string
	WALDir           string
	DiskWarnPercent  int
	ExpiredWarnCount int
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version   string
	meta      Pinger
	stats     StatsSource
	sweeper   SweepReporter
	cfg       HealthConfig
	startedAt time.Time

	now       func() time.Time
	diskUsage func(path string) (DiskUsage, error)
}

// NewHealthHandler создаёт обработчик health endpoints.
// stats и sweeper могут быть nil.
func NewHealthHandler(meta Pinger, stats StatsSource, sweeper SweepReporter, cfg HealthConfig) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		meta:      meta,
		stats:     stats,
		sweeper:   sweeper,
		cfg:       cfg,
		startedAt: time.Now(),
		now:       time.Now,
		diskUsage: statDisk,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "fileshare",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Хранилище метаданных и blob-директория обязательны. Недоступный WAL,
// заполненный диск или накопившиеся истёкшие записи дают degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	metaCheck := h.checkMetastore(r.Context())
	blobCheck := checkWritable(h.cfg.BlobDir, "Директория blob недоступна для записи: ")
	walCheck := checkWritable(h.cfg.WALDir, "Директория WAL недоступна для записи: ")
	diskCheck := h.checkDisk()

	checks := map[string]any{
		"metastore": metaCheck,
		"blobs":     blobCheck,
		"wal":       walCheck,
		"disk":      diskCheck,
	}
	optional := []map[string]any{walCheck, diskCheck}
	if h.stats != nil {
		expiredCheck := h.checkExpired(r.Context())
		checks["expired"] = expiredCheck
		optional = append(optional, expiredCheck)
	}

	if metaCheck["status"] != statusOK || blobCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, c := range optional {
			if c["status"] != statusOK {
				overallStatus = statusDegraded
				break
			}
		}
	}

	if h.sweeper != nil {
		if last := h.sweeper.LastResult(); last != nil {
			checks["last_sweep"] = map[string]any{
				"started_at": last.StartedAt.Format(time.RFC3339),
				"purged":     last.Purged,
				"errors":     last.Errors,
			}
		}
	}

	now := h.now()
	writeJSON(w, httpStatus, map[string]any{
		"status":         overallStatus,
		"timestamp":      now.UTC().Format(time.RFC3339),
		"version":        h.version,
		"service":        "fileshare",
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"checks":         checks,
	})
}

// checkDisk сообщает ёмкость файловой системы под директорией blob.
func (h *HealthHandler) checkDisk() map[string]any {
	if h.cfg.BlobDir == "" {
		return map[string]any{"status": statusOK, "message": "Проверка не настроена"}
	}
	usage, err := h.diskUsage(h.cfg.BlobDir)
	if err != nil {
		return map[string]any{"status": statusWarning, "message": "Не удалось получить ёмкость диска: " + err.Error()}
	}

	percent := math.Round(usage.UsedPercent()*100) / 100
	status := statusOK
	if h.cfg.DiskWarnPercent > 0 && percent >= float64(h.cfg.DiskWarnPercent) {
		status = statusWarning
	}
	return map[string]any{
		"status":       status,
		"total_bytes":  usage.Total,
		"used_bytes":   usage.Used,
		"free_bytes":   usage.Available,
		"used_percent": percent,
	}
}

// checkExpired сообщает количество истёкших, но ещё не удалённых записей.
func (h *HealthHandler) checkExpired(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	stats, err := h.stats.Stats(ctx)
	if err != nil {
		return map[string]any{"status": statusWarning, "message": "Не удалось получить статистику: " + err.Error()}
	}

	status := statusOK
	if h.cfg.ExpiredWarnCount > 0 && stats.ExpiredFiles >= int64(h.cfg.ExpiredWarnCount) {
		status = statusWarning
	}
	return map[string]any{
		"status":        status,
		"expired_files": stats.ExpiredFiles,
		"total_files":   stats.TotalFiles,
	}
}

func (h *HealthHandler) checkMetastore(ctx context.Context) map[string]any {
	if h.meta == nil {
		return map[string]any{"status": statusFail, "message": "Хранилище метаданных не настроено"}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.meta.Ping(ctx); err != nil {
		return map[string]any{"status": statusFail, "message": "Хранилище метаданных недоступно: " + err.Error()}
	}
	return map[string]any{"status": statusOK}
}

// checkWritable проверяет директорию пробной записью.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{"status": statusOK, "message": "Проверка не настроена"}
	}
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{"status": statusFail, "message": failPrefix + err.Error()}
	}
	_ = os.Remove(testFile)
	return map[string]any{"status": statusOK}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
