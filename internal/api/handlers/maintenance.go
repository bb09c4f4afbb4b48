// maintenance.go — обработчик POST /api/v1/maintenance/cleanup.
// Делегирует внеочередной проход очистки в Sweeper.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/fileshare/internal/api/errors"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
)

// SweepTrigger — ручной запуск очистки.
type SweepTrigger interface {
	TriggerNow(ctx context.Context) (*service.SweepResult, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	sweeper SweepTrigger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper SweepTrigger) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper}
}

// cleanupResponse — тело ответа ручной очистки.
type cleanupResponse struct {
	Purged      int    `json:"purged"`
	Errors      int    `json:"errors"`
	WALCleaned  int    `json:"wal_cleaned"`
	OplogPruned int64  `json:"oplog_pruned"`
	StartedAt   string `json:"started_at"`
	DurationMs  int64  `json:"duration_ms"`
}

// Cleanup обрабатывает POST /api/v1/maintenance/cleanup.
// Выполняет синхронный проход очистки и возвращает результат.
// Если проход уже выполняется, возвращается 409 SWEEP_IN_PROGRESS.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.TriggerNow(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			apierrors.SweepInProgress(w, "Очистка уже выполняется, повторите запрос позже")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{
		Purged:      result.Purged,
		Errors:      result.Errors,
		WALCleaned:  result.WALCleaned,
		OplogPruned: result.OplogPruned,
		StartedAt:   result.StartedAt.Format(time.RFC3339),
		DurationMs:  result.Duration.Milliseconds(),
	})
}
