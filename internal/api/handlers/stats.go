// stats.go — сводная статистика и журнал операций.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/fileshare/internal/api/errors"
	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

const (
	defaultOperationsLimit = 50
	maxOperationsLimit     = 1000
)

// StatsProvider — источник статистики и журнала операций.
type StatsProvider interface {
	Stats(ctx context.Context) (*model.Stats, error)
	Operations(ctx context.Context, q model.OperationQuery) ([]model.Operation, error)
}

// StatsHandler — обработчик /api/v1/stats и /api/v1/operations.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler создаёт обработчик статистики.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.Stats(r.Context())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListOperations обрабатывает GET /api/v1/operations?limit=N&operation=TYPE.
func (h *StatsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := model.OperationQuery{Limit: defaultOperationsLimit}
	params := r.URL.Query()
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxOperationsLimit {
			apierrors.ValidationError(w, "limit должен быть целым числом от 1 до "+strconv.Itoa(maxOperationsLimit))
			return
		}
		q.Limit = n
	}
	if v := params.Get("operation"); v != "" {
		op, err := model.ParseOperationType(v)
		if err != nil {
			apierrors.ValidationError(w, "неизвестный тип операции: "+v)
			return
		}
		q.Operation = op
	}

	ops, err := h.provider.Operations(r.Context(), q)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	if ops == nil {
		ops = []model.Operation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": ops,
		"total": len(ops),
	})
}
