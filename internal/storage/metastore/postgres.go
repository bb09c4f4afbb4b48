package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// pgColumns — столбцы таблицы files для SELECT-запросов.
const pgColumns = `id, display_name, stored_name, size_bytes, mime_type, extension,
	checksum, uploaded_at, expires_at, is_text_file`

// PostgresStore — хранилище метаданных в PostgreSQL.
// Конфликтующие записи сериализует сама база (upsert по первичному ключу).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres создаёт пул подключений, применяет миграции
// и возвращает готовое хранилище.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	if err := Migrate(DriverPostgres, dsn, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.Int("port", int(poolCfg.ConnConfig.Port)),
		slog.String("database", poolCfg.ConnConfig.Database),
	)

	return NewPostgres(pool, logger), nil
}

// NewPostgres оборачивает готовый пул.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "metastore"), slog.String("driver", DriverPostgres)),
	}
}

// Put сохраняет запись (INSERT ... ON CONFLICT DO UPDATE).
func (s *PostgresStore) Put(ctx context.Context, rec *model.FileRecord) error {
	if err := validateForPut(rec); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO files (id, display_name, stored_name, size_bytes, mime_type, extension,
	checksum, uploaded_at, expires_at, is_text_file)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	stored_name  = EXCLUDED.stored_name,
	size_bytes   = EXCLUDED.size_bytes,
	mime_type    = EXCLUDED.mime_type,
	extension    = EXCLUDED.extension,
	checksum     = EXCLUDED.checksum,
	uploaded_at  = EXCLUDED.uploaded_at,
	expires_at   = EXCLUDED.expires_at,
	is_text_file = EXCLUDED.is_text_file`,
		rec.ID, rec.DisplayName, rec.StoredName, rec.SizeBytes, rec.MimeType, rec.Extension,
		rec.Checksum, rec.UploadedAt.UTC(), rec.ExpiresAt.UTC(), rec.IsTextFile,
	)
	if err != nil {
		return storageErr("сохранение записи "+rec.ID, err)
	}
	return nil
}

// Get возвращает запись по id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := scanPgRecord(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
		}
		return nil, storageErr("чтение записи "+id, err)
	}
	return rec, nil
}

// ListAll возвращает записи по uploaded_at DESC, id ASC.
func (s *PostgresStore) ListAll(ctx context.Context, limit, offset int) ([]*model.FileRecord, error) {
	return s.query(ctx, "список записей",
		`SELECT `+pgColumns+` FROM files ORDER BY uploaded_at DESC, id ASC LIMIT $1 OFFSET $2`,
		pgLimit(limit), max(offset, 0))
}

// ListLive возвращает неистёкшие записи.
func (s *PostgresStore) ListLive(ctx context.Context, asOf time.Time, limit, offset int) ([]*model.FileRecord, error) {
	return s.query(ctx, "список актуальных записей",
		`SELECT `+pgColumns+` FROM files WHERE expires_at > $1
		ORDER BY uploaded_at DESC, id ASC LIMIT $2 OFFSET $3`,
		asOf.UTC(), pgLimit(limit), max(offset, 0))
}

// ListExpired возвращает записи с expires_at < asOf, старейшие первыми.
func (s *PostgresStore) ListExpired(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error) {
	return s.query(ctx, "список истёкших записей",
		`SELECT `+pgColumns+` FROM files WHERE expires_at < $1 ORDER BY expires_at ASC, id ASC`,
		expiredBound(asOf))
}

// Delete удаляет запись. Возвращает false, если записи не было.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, storageErr("удаление записи "+id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AggregateStats возвращает сводную статистику.
func (s *PostgresStore) AggregateStats(ctx context.Context, asOf time.Time, topN int) (*model.Stats, error) {
	stats := &model.Stats{Extensions: []model.ExtensionStat{}}

	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(size_bytes), 0)::BIGINT,
	COUNT(*) FILTER (WHERE expires_at <= $1),
	COUNT(*) FILTER (WHERE is_text_file)
FROM files`, asOf.UTC()).Scan(&stats.TotalFiles, &stats.TotalSize, &stats.ExpiredFiles, &stats.TextFiles)
	if err != nil {
		return nil, storageErr("статистика", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT extension, COUNT(*), COALESCE(SUM(size_bytes), 0)::BIGINT AS total
FROM files GROUP BY extension ORDER BY total DESC, extension ASC LIMIT $1`, pgLimit(topN))
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
func (s *PostgresStore) RecordOperation(ctx context.Context, op model.Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operation_logs (operation, file_id, details, created_at) VALUES ($1, $2, $3, $4)`,
		string(op.Operation), op.FileID, op.Details, op.CreatedAt.UTC())
	if err != nil {
		return storageErr("запись журнала операций", err)
	}
	return nil
}

// ListOperations возвращает последние q.Limit записей журнала,
// при заданном q.Operation только этого типа.
func (s *PostgresStore) ListOperations(ctx context.Context, q model.OperationQuery) ([]model.Operation, error) {
	query := `SELECT id, operation, file_id, details, created_at FROM operation_logs`
	args := []any{pgLimit(q.Limit)}
	if q.Operation != "" {
		query += ` WHERE operation = $2`
		args = append(args, string(q.Operation))
	}
	query += ` ORDER BY id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("чтение журнала операций", err)
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var (
			op   model.Operation
			kind string
		)
		if err := rows.Scan(&op.ID, &kind, &op.FileID, &op.Details, &op.CreatedAt); err != nil {
			return nil, storageErr("чтение журнала операций", err)
		}
		op.Operation = model.OperationType(kind)
		op.CreatedAt = op.CreatedAt.UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("чтение журнала операций", err)
	}
	return ops, nil
}

// PruneOperations удаляет записи журнала старше before.
func (s *PostgresStore) PruneOperations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM operation_logs WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, storageErr("очистка журнала операций", err)
	}
	return tag.RowsAffected(), nil
}

// Ping проверяет доступность PostgreSQL.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул подключений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var records []*model.FileRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
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

func scanPgRecord(row rowScanner) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := row.Scan(&rec.ID, &rec.DisplayName, &rec.StoredName, &rec.SizeBytes, &rec.MimeType,
		&rec.Extension, &rec.Checksum, &rec.UploadedAt, &rec.ExpiresAt, &rec.IsTextFile)
	if err != nil {
		return nil, err
	}
	rec.UploadedAt = rec.UploadedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

// pgLimit переводит "без ограничения" в LIMIT NULL.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
