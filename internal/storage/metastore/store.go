// Пакет metastore — долговременное хранилище метаданных файлов.
// Единственный источник истины о том, какие файлы существуют,
// где лежат их blob и когда истекает срок хранения.
//
// Реализации: SQLiteStore (по умолчанию, один процесс) и
// PostgresStore (общая база для нескольких экземпляров).
package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// Store — интерфейс хранилища метаданных.
type Store interface {
	// Put сохраняет запись (insert-or-replace).
	Put(ctx context.Context, rec *model.FileRecord) error
	// Get возвращает запись по id или model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	// ListAll возвращает записи по uploaded_at DESC, id ASC.
	// limit <= 0 — без ограничения.
	ListAll(ctx context.Context, limit, offset int) ([]*model.FileRecord, error)
	// ListLive возвращает записи с expires_at > asOf в порядке ListAll.
	ListLive(ctx context.Context, asOf time.Time, limit, offset int) ([]*model.FileRecord, error)
	// ListExpired возвращает записи с expires_at < asOf по expires_at ASC.
	ListExpired(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error)
	// Delete удаляет запись и сообщает, существовала ли она.
	Delete(ctx context.Context, id string) (bool, error)
	// AggregateStats возвращает сводку и topN расширений по суммарному размеру.
	AggregateStats(ctx context.Context, asOf time.Time, topN int) (*model.Stats, error)

	// RecordOperation добавляет запись в журнал операций.
	RecordOperation(ctx context.Context, op model.Operation) error
	// ListOperations возвращает последние записи журнала, новые первыми.
	ListOperations(ctx context.Context, q model.OperationQuery) ([]model.Operation, error)
	// PruneOperations удаляет записи журнала старше before.
	PruneOperations(ctx context.Context, before time.Time) (int64, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы.
	Close() error
}

// Драйверы хранилища метаданных.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open открывает хранилище метаданных выбранного драйвера
// и применяет миграции.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Store, error) {
	switch driver {
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер метаданных %q", driver)
	}
}

// rowScanner — общий интерфейс строк database/sql и pgx.
type rowScanner interface {
	Scan(dest ...any) error
}

// expiredBound переводит asOf в границу для expires_at < bound.
// Время записей хранится в микросекундах, поэтому asOf с дробной
// частью округляется вверх: иначе запись, истёкшая для чтения,
// не попадёт в очистку.
func expiredBound(asOf time.Time) time.Time {
	bound := asOf.UTC().Truncate(time.Microsecond)
	if bound.Before(asOf) {
		bound = bound.Add(time.Microsecond)
	}
	return bound
}

// storageErr оборачивает ошибку драйвера в model.ErrStorage.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorage, op, err)
}

// validateForPut проверяет запись на границе хранилища.
func validateForPut(rec *model.FileRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: пустая запись", model.ErrStorage)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return nil
}
