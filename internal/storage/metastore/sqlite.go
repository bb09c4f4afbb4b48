package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go драйвер SQLite

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// sqliteColumns — столбцы таблицы files для SELECT-запросов.
const sqliteColumns = `id, display_name, stored_name, size_bytes, mime_type, extension,
	checksum, uploaded_at, expires_at, is_text_file`

// SQLiteStore — хранилище метаданных в файле SQLite.
// Запись сериализуется мьютексом, чтение идёт параллельно
// (journal_mode=WAL). Время хранится как Unix-микросекунды UTC.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// OpenSQLite открывает базу SQLite по пути path, применяет миграции
// и возвращает готовое хранилище.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := Migrate(DriverSQLite, path, logger); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к SQLite %s: %w", path, err)
	}

	logger.Info("Хранилище метаданных SQLite открыто", slog.String("path", path))
	return NewSQLite(db, logger), nil
}

// NewSQLite оборачивает уже открытое подключение. Миграции не применяются.
func NewSQLite(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "metastore"), slog.String("driver", DriverSQLite)),
	}
}

// Put сохраняет запись (INSERT ... ON CONFLICT DO UPDATE).
func (s *SQLiteStore) Put(ctx context.Context, rec *model.FileRecord) error {
	if err := validateForPut(rec); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO files (id, display_name, stored_name, size_bytes, mime_type, extension,
	checksum, uploaded_at, expires_at, is_text_file)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_name = excluded.display_name,
	stored_name  = excluded.stored_name,
	size_bytes   = excluded.size_bytes,
	mime_type    = excluded.mime_type,
	extension    = excluded.extension,
	checksum     = excluded.checksum,
	uploaded_at  = excluded.uploaded_at,
	expires_at   = excluded.expires_at,
	is_text_file = excluded.is_text_file`,
		rec.ID, rec.DisplayName, rec.StoredName, rec.SizeBytes, rec.MimeType, rec.Extension,
		rec.Checksum, rec.UploadedAt.UnixMicro(), rec.ExpiresAt.UnixMicro(), boolToInt(rec.IsTextFile),
	)
	if err != nil {
		return storageErr("сохранение записи "+rec.ID, err)
	}
	return nil
}

// Get возвращает запись по id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM files WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
		}
		return nil, storageErr("чтение записи "+id, err)
	}
	return rec, nil
}

// ListAll возвращает записи по uploaded_at DESC, id ASC.
func (s *SQLiteStore) ListAll(ctx context.Context, limit, offset int) ([]*model.FileRecord, error) {
	return s.query(ctx, "список записей",
		`SELECT `+sqliteColumns+` FROM files ORDER BY uploaded_at DESC, id ASC LIMIT ? OFFSET ?`,
		sqliteLimit(limit), max(offset, 0))
}

// ListLive возвращает неистёкшие записи.
func (s *SQLiteStore) ListLive(ctx context.Context, asOf time.Time, limit, offset int) ([]*model.FileRecord, error) {
	return s.query(ctx, "список актуальных записей",
		`SELECT `+sqliteColumns+` FROM files WHERE expires_at > ?
		ORDER BY uploaded_at DESC, id ASC LIMIT ? OFFSET ?`,
		asOf.UnixMicro(), sqliteLimit(limit), max(offset, 0))
}

// ListExpired возвращает записи с expires_at < asOf, старейшие первыми.
func (s *SQLiteStore) ListExpired(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error) {
	return s.query(ctx, "список истёкших записей",
		`SELECT `+sqliteColumns+` FROM files WHERE expires_at < ? ORDER BY expires_at ASC, id ASC`,
		expiredBound(asOf).UnixMicro())
}

// Delete удаляет запись. Возвращает false, если записи не было.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, storageErr("удаление записи "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("удаление записи "+id, err)
	}
	return n > 0, nil
}

// AggregateStats возвращает сводную статистику. Блокировку записи не берёт.
func (s *SQLiteStore) AggregateStats(ctx context.Context, asOf time.Time, topN int) (*model.Stats, error) {
	stats := &model.Stats{Extensions: []model.ExtensionStat{}}

	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(size_bytes), 0),
	COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN is_text_file <> 0 THEN 1 ELSE 0 END), 0)
FROM files`, asOf.UnixMicro()).Scan(&stats.TotalFiles, &stats.TotalSize, &stats.ExpiredFiles, &stats.TextFiles)
	if err != nil {
		return nil, storageErr("статистика", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT extension, COUNT(*), COALESCE(SUM(size_bytes), 0) AS total
FROM files GROUP BY extension ORDER BY total DESC, extension ASC LIMIT ?`, sqliteLimit(topN))
	if err != nil {
		return nil, storageErr("статистика по расширениям", err)
	}
	defer rows.Close()

	for rows.Next() {
		var es model.ExtensionStat
		if err := rows.Scan(&es.Extension, &es.Count, &es.TotalSize); err != nil {
			return nil, storageErr("статистика по расширениям", err)
		}
		stats.Extensions = append(stats.Extensions, es)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("статистика по расширениям", err)
	}
	return stats, nil
}

// RecordOperation добавляет запись в журнал операций.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op model.Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operation_logs (operation, file_id, details, created_at) VALUES (?, ?, ?, ?)`,
		string(op.Operation), op.FileID, op.Details, op.CreatedAt.UnixMicro())
	if err != nil {
		return storageErr("запись журнала операций", err)
	}
	return nil
}

// ListOperations возвращает последние q.Limit записей журнала,
// при заданном q.Operation только этого типа.
func (s *SQLiteStore) ListOperations(ctx context.Context, q model.OperationQuery) ([]model.Operation, error) {
	query := `SELECT id, operation, file_id, details, created_at FROM operation_logs`
	var args []any
	if q.Operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, string(q.Operation))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, sqliteLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("чтение журнала операций", err)
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var (
			op        model.Operation
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&op.ID, &kind, &op.FileID, &op.Details, &createdAt); err != nil {
			return nil, storageErr("чтение журнала операций", err)
		}
		op.Operation = model.OperationType(kind)
		op.CreatedAt = time.UnixMicro(createdAt).UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("чтение журнала операций", err)
	}
	return ops, nil
}

// PruneOperations удаляет записи журнала старше before.
func (s *SQLiteStore) PruneOperations(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM operation_logs WHERE created_at < ?`, before.UnixMicro())
	if err != nil {
		return 0, storageErr("очистка журнала операций", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Ping проверяет доступность базы.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает подключение.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var records []*model.FileRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}

func scanSQLiteRecord(row rowScanner) (*model.FileRecord, error) {
	var (
		rec                   model.FileRecord
		uploadedAt, expiresAt int64
		isText                int64
	)
	err := row.Scan(&rec.ID, &rec.DisplayName, &rec.StoredName, &rec.SizeBytes, &rec.MimeType,
		&rec.Extension, &rec.Checksum, &uploadedAt, &expiresAt, &isText)
	if err != nil {
		return nil, err
	}
	rec.UploadedAt = time.UnixMicro(uploadedAt).UTC()
	rec.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	rec.IsTextFile = isText != 0
	return &rec, nil
}

// sqliteLimit переводит "без ограничения" в LIMIT -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
