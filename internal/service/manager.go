// manager.go — менеджер жизненного цикла файлов.
//
// Связывает хранилище метаданных и blob-хранилище: создание записей
// вместе с blob, чтение только актуальных записей, единый путь удаления
// для ручного, пакетного, папочного удаления и очистки истёкших файлов,
// сборка архивов папок и произвольных наборов файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/metastore"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/wal"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_uploads_total",
		Help: "Общее количество созданных записей по типу",
	}, []string{"kind"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_deletes_total",
		Help: "Общее количество попыток удаления по результату",
	}, []string{"result"})
)

// BlobStore — операции blob-хранилища, нужные менеджеру.
type BlobStore interface {
	Write(id, ext string, r io.Reader) (*blobstore.WriteResult, error)
	Open(storedName string) (*os.File, error)
	Delete(storedName string) error
	Exists(storedName string) bool
}

// ManagerConfig — параметры менеджера жизненного цикла.
type ManagerConfig struct {
	// TTL — срок хранения по умолчанию
	TTL time.Duration
	// MaxTTL — верхняя граница TTL, переданного при загрузке
	MaxTTL time.Duration
	// MaxDeleteBatch — максимальный размер пакета удаления
	MaxDeleteBatch int
	// MaxArchiveBatch — максимальный размер пакета архивации
	MaxArchiveBatch int
	// StatsTopN — количество расширений в статистике
	StatsTopN int
}

// UploadOptions — параметры загрузки.
type UploadOptions struct {
	// TTL — срок хранения; 0 — значение по умолчанию
	TTL time.Duration
}

// ListOptions — параметры выборки списка.
type ListOptions struct {
	IncludeExpired bool
	Limit          int
	Offset         int
}

// BatchResult — итог пакетной операции удаления.
type BatchResult struct {
	Deleted  int `json:"deleted"`
	NotFound int `json:"not_found"`
	Failed   int `json:"failed"`
	// FailedIDs — id записей, удаление которых завершилось ошибкой
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// PurgeResult — итог очистки истёкших записей.
type PurgeResult struct {
	// Purged — количество записей, удалённых этим вызовом
	Purged int
	// Failed — количество записей, удаление которых завершилось ошибкой
	Failed int
}

// Manager — менеджер жизненного цикла файлов.
type Manager struct {
	cfg      ManagerConfig
	meta     metastore.Store
	blobs    BlobStore
	wal      *wal.WAL
	cache    *RecordCache
	archiver *ArchiveBuilder
	logger   *slog.Logger

	// purgeMu — последовательное выполнение PurgeExpired
	purgeMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewManager создаёт менеджер жизненного цикла.
func NewManager(
	cfg ManagerConfig,
	meta metastore.Store,
	blobs BlobStore,
	walEngine *wal.WAL,
	cache *RecordCache,
	archiver *ArchiveBuilder,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		meta:     meta,
		blobs:    blobs,
		wal:      walEngine,
		cache:    cache,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "lifecycle")),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Upload сохраняет содержимое r под отображаемым именем displayName.
// Сначала пишется blob, затем метаданные; при ошибке записи метаданных
// blob удаляется до возврата ошибки.
func (m *Manager) Upload(ctx context.Context, r io.Reader, displayName string, opts UploadOptions) (*model.FileRecord, error) {
	name, err := model.NormalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	ttl, err := m.resolveTTL(opts.TTL)
	if err != nil {
		return nil, err
	}

	return m.create(ctx, r, createParams{
		displayName: name,
		extension:   model.ExtensionOf(name),
		mimeType:    model.MimeTypeOf(name),
		ttl:         ttl,
		op:          model.OpUpload,
	})
}

// SaveText сохраняет текст content как файл с суффиксом .txt.
func (m *Manager) SaveText(ctx context.Context, name, content string) (*model.FileRecord, error) {
	normalized, err := model.NormalizeDisplayName(name)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("%w: текст не в кодировке UTF-8", model.ErrValidation)
	}

	return m.create(ctx, strings.NewReader(content), createParams{
		displayName: model.ForceTextName(normalized),
		extension:   model.TextExtension,
		mimeType:    model.TextMimeType,
		ttl:         m.cfg.TTL,
		isText:      true,
		op:          model.OpSaveText,
	})
}

type createParams struct {
	displayName string
	extension   string
	mimeType    string
	ttl         time.Duration
	isText      bool
	op          model.OperationType
}

// create — общий путь создания записи: WAL → blob → метаданные → commit.
func (m *Manager) create(ctx context.Context, r io.Reader, p createParams) (*model.FileRecord, error) {
	id := m.newID()
	storedName := model.StoredNameFor(id, p.extension)

	tx, err := m.wal.Begin(wal.OpBlobCreate, id, storedName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}

	res, err := m.blobs.Write(id, p.extension, r)
	if err != nil {
		m.rollbackTx(tx.TransactionID)
		m.logger.Error("Ошибка записи blob",
			slog.String("file_id", id),
			slog.String("display_name", p.displayName),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	uploadedAt := m.now().UTC().Truncate(time.Microsecond)
	rec := &model.FileRecord{
		ID:          id,
		DisplayName: p.displayName,
		StoredName:  res.StoredName,
		SizeBytes:   res.Size,
		MimeType:    p.mimeType,
		Extension:   p.extension,
		Checksum:    res.Checksum,
		UploadedAt:  uploadedAt,
		ExpiresAt:   uploadedAt.Add(p.ttl),
		IsTextFile:  p.isText,
	}

	if err := m.meta.Put(ctx, rec); err != nil {
		// Метаданные не записаны: blob удаляется вместе с транзакцией
		if delErr := m.blobs.Delete(res.StoredName); delErr != nil {
			m.logger.Error("Ошибка удаления blob после сбоя записи метаданных",
				slog.String("file_id", id),
				slog.String("stored_name", res.StoredName),
				slog.String("error", delErr.Error()),
			)
		}
		m.rollbackTx(tx.TransactionID)
		m.logger.Error("Ошибка записи метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := m.wal.Commit(tx.TransactionID); err != nil {
		m.logger.Warn("Ошибка фиксации WAL-транзакции",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	m.cache.Set(rec)
	uploadsTotal.WithLabelValues(string(p.op)).Inc()
	m.recordOperation(ctx, p.op, id, rec.DisplayName)

	m.logger.Info("Файл сохранён",
		slog.String("file_id", id),
		slog.String("display_name", rec.DisplayName),
		slog.Int64("size", rec.SizeBytes),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

func (m *Manager) rollbackTx(txID string) {
	if err := m.wal.Rollback(txID); err != nil {
		m.logger.Warn("Ошибка отката WAL-транзакции",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) resolveTTL(override time.Duration) (time.Duration, error) {
	if override == 0 {
		return m.cfg.TTL, nil
	}
	if override < 0 {
		return 0, fmt.Errorf("%w: отрицательный TTL %s", model.ErrValidation, override)
	}
	// Время хранится с точностью до микросекунды
	if override < time.Microsecond {
		return 0, fmt.Errorf("%w: TTL %s меньше 1µs", model.ErrValidation, override)
	}
	if m.cfg.MaxTTL > 0 && override > m.cfg.MaxTTL {
		return 0, fmt.Errorf("%w: TTL %s превышает максимум %s", model.ErrValidation, override, m.cfg.MaxTTL)
	}
	return override, nil
}

// Get возвращает актуальную запись. Истёкшая запись и запись без blob —
// model.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, ok := m.cache.Get(id)
	if !ok {
		var err error
		rec, err = m.meta.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		m.cache.Set(rec)
	}

	if rec.IsExpired(m.now()) {
		return nil, fmt.Errorf("%w: срок хранения файла %s истёк", model.ErrNotFound, id)
	}
	if !m.blobs.Exists(rec.StoredName) {
		m.logger.Warn("Запись без blob",
			slog.String("file_id", id),
			slog.String("stored_name", rec.StoredName),
		)
		return nil, fmt.Errorf("%w: blob файла %s отсутствует", model.ErrNotFound, id)
	}
	return rec, nil
}

// Open возвращает актуальную запись и поток её содержимого.
// Вызывающий код обязан закрыть поток. Параллельное удаление
// не блокируется: проигравшая сторона получает model.ErrNotFound.
func (m *Manager) Open(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := m.blobs.Open(rec.StoredName)
	if err != nil {
		return nil, nil, err
	}
	return rec, f, nil
}

// List возвращает записи по uploaded_at DESC. По умолчанию только актуальные.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]*model.FileRecord, error) {
	if opts.IncludeExpired {
		return m.meta.ListAll(ctx, opts.Limit, opts.Offset)
	}

	records, err := m.meta.ListLive(ctx, m.now(), opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return m.withBlobs(records), nil
}

// ListRootFiles возвращает актуальные записи вне папок.
func (m *Manager) ListRootFiles(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := m.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}

	root := make([]*model.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec.Folder() == "" {
			root = append(root, rec)
		}
	}
	return root, nil
}

// ListFolders группирует актуальные записи по первому сегменту пути.
// Папки упорядочены по имени, файлы внутри — по uploaded_at DESC.
func (m *Manager) ListFolders(ctx context.Context) ([]model.Folder, error) {
	records, err := m.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var folders []model.Folder
	for _, rec := range records {
		name := rec.Folder()
		if name == "" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(folders)
			index[name] = i
			folders = append(folders, model.Folder{Name: name})
		}
		f := &folders[i]
		f.Files = append(f.Files, rec)
		f.TotalSize += rec.SizeBytes
		if rec.UploadedAt.After(f.LatestUpload) {
			f.LatestUpload = rec.UploadedAt
		}
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// Delete удаляет запись по id. Возвращает false, если записи не было
// или её удалил параллельный вызов.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := m.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			m.cache.Remove(id)
			deletesTotal.WithLabelValues("not_found").Inc()
			return false, nil
		}
		return false, err
	}
	return m.deleteRecord(ctx, rec, model.OpDelete)
}

// deleteRecord — единственный путь удаления: сначала blob, затем метаданные.
// Ошибка удаления blob логируется, метаданные удаляются в любом случае.
func (m *Manager) deleteRecord(ctx context.Context, rec *model.FileRecord, op model.OperationType) (bool, error) {
	if err := m.blobs.Delete(rec.StoredName); err != nil {
		m.logger.Error("Ошибка удаления blob, удаляем метаданные",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
			slog.String("error", err.Error()),
		)
	}

	existed, err := m.meta.Delete(ctx, rec.ID)
	m.cache.Remove(rec.ID)
	if err != nil {
		deletesTotal.WithLabelValues("error").Inc()
		m.logger.Error("Ошибка удаления метаданных",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	if !existed {
		deletesTotal.WithLabelValues("not_found").Inc()
		return false, nil
	}

	deletesTotal.WithLabelValues("deleted").Inc()
	m.recordOperation(ctx, op, rec.ID, rec.DisplayName)
	m.logger.Debug("Файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("display_name", rec.DisplayName),
		slog.String("operation", string(op)),
	)
	return true, nil
}

// DeleteBatch удаляет набор записей. Пустой пакет и пакет больше
// MaxDeleteBatch отклоняются до начала удаления.
func (m *Manager) DeleteBatch(ctx context.Context, ids []string) (*BatchResult, error) {
	if err := checkBatch(len(ids), m.cfg.MaxDeleteBatch); err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, id := range ids {
		existed, err := m.Delete(ctx, id)
		switch {
		case err != nil:
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
		case existed:
			result.Deleted++
		default:
			result.NotFound++
		}
	}
	return result, nil
}

// DeleteFolder удаляет все записи папки, включая истёкшие.
// Папка без записей — model.ErrNotFound.
func (m *Manager) DeleteFolder(ctx context.Context, folder string) (*BatchResult, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" || strings.ContainsAny(folder, `/\`) {
		return nil, fmt.Errorf("%w: некорректное имя папки %q", model.ErrValidation, folder)
	}

	records, err := m.meta.ListAll(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	matched := 0
	for _, rec := range records {
		if rec.Folder() != folder {
			continue
		}
		matched++
		existed, err := m.deleteRecord(ctx, rec, model.OpDelete)
		switch {
		case err != nil:
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, rec.ID)
		case existed:
			result.Deleted++
		default:
			result.NotFound++
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: папка %q", model.ErrNotFound, folder)
	}

	m.logger.Info("Папка удалена",
		slog.String("folder", folder),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// PurgeExpired удаляет записи с expires_at < asOf через общий путь удаления.
// Purged учитывает только записи, удалённые именно этим вызовом.
func (m *Manager) PurgeExpired(ctx context.Context, asOf time.Time) (*PurgeResult, error) {
	m.purgeMu.Lock()
	defer m.purgeMu.Unlock()

	expired, err := m.meta.ListExpired(ctx, asOf)
	if err != nil {
		return nil, err
	}

	result := &PurgeResult{}
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		existed, err := m.deleteRecord(ctx, rec, model.OpPurge)
		if err != nil {
			result.Failed++
			continue
		}
		if existed {
			result.Purged++
		}
	}

	if result.Purged > 0 || result.Failed > 0 {
		m.logger.Info("Истёкшие файлы удалены",
			slog.Int("count", result.Purged),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// BuildFolderArchive собирает архив актуальных файлов папки.
// Папка без актуальных файлов — model.ErrNotFound.
func (m *Manager) BuildFolderArchive(ctx context.Context, folder string) (*Archive, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return nil, fmt.Errorf("%w: имя папки не задано", model.ErrValidation)
	}

	records, err := m.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}

	var selected []*model.FileRecord
	for _, rec := range records {
		if rec.Folder() == folder {
			selected = append(selected, rec)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: папка %q", model.ErrNotFound, folder)
	}

	archive, err := m.archiver.Build(ctx, folder+".zip", selected)
	if err != nil {
		return nil, err
	}
	m.recordOperation(ctx, model.OpArchive, "", fmt.Sprintf("folder=%s entries=%d", folder, len(archive.Entries)))
	return archive, nil
}

// BuildBatchArchive собирает архив из набора id. Пакет больше
// MaxArchiveBatch отклоняется; неизвестные и истёкшие id пропускаются.
func (m *Manager) BuildBatchArchive(ctx context.Context, ids []string) (*Archive, error) {
	if err := checkBatch(len(ids), m.cfg.MaxArchiveBatch); err != nil {
		return nil, err
	}

	var selected []*model.FileRecord
	for _, id := range ids {
		rec, err := m.Get(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				m.logger.Debug("Файл пропущен при пакетной архивации", slog.String("file_id", id))
				continue
			}
			return nil, err
		}
		selected = append(selected, rec)
	}
	if len(selected) == 0 {
		return nil, model.ErrNothingToArchive
	}

	name := "files_" + m.now().UTC().Format("20060102_150405") + ".zip"
	archive, err := m.archiver.Build(ctx, name, selected)
	if err != nil {
		return nil, err
	}
	m.recordOperation(ctx, model.OpArchive, "", fmt.Sprintf("batch entries=%d", len(archive.Entries)))
	return archive, nil
}

// Stats возвращает сводную статистику хранилища.
func (m *Manager) Stats(ctx context.Context) (*model.Stats, error) {
	return m.meta.AggregateStats(ctx, m.now(), m.cfg.StatsTopN)
}

// Operations возвращает последние записи журнала операций.
func (m *Manager) Operations(ctx context.Context, q model.OperationQuery) ([]model.Operation, error) {
	return m.meta.ListOperations(ctx, q)
}

// RecoverPending завершает прерванные загрузки после рестарта:
// если метаданные записаны — транзакция фиксируется, иначе blob
// удаляется и транзакция откатывается.
func (m *Manager) RecoverPending(ctx context.Context) (int, error) {
	pending, err := m.wal.Pending()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range pending {
		_, err := m.meta.Get(ctx, entry.FileID)
		switch {
		case err == nil:
			if err := m.wal.Commit(entry.TransactionID); err != nil {
				m.logger.Error("Ошибка фиксации WAL-транзакции при восстановлении",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", err.Error()),
				)
				continue
			}
		case errors.Is(err, model.ErrNotFound):
			if err := m.blobs.Delete(entry.StoredName); err != nil {
				m.logger.Error("Ошибка удаления blob-сироты",
					slog.String("tx_id", entry.TransactionID),
					slog.String("stored_name", entry.StoredName),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := m.wal.Rollback(entry.TransactionID); err != nil {
				m.logger.Error("Ошибка отката WAL-транзакции",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", err.Error()),
				)
				continue
			}
		default:
			return recovered, err
		}

		recovered++
		m.logger.Info("WAL-транзакция восстановлена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
		)
	}
	return recovered, nil
}

// withBlobs отбрасывает записи, у которых нет blob на диске.
func (m *Manager) withBlobs(records []*model.FileRecord) []*model.FileRecord {
	live := records[:0]
	for _, rec := range records {
		if m.blobs.Exists(rec.StoredName) {
			live = append(live, rec)
			continue
		}
		m.logger.Warn("Запись без blob исключена из списка",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	}
	return live
}

// recordOperation пишет журнал операций. Ошибка не влияет на операцию.
func (m *Manager) recordOperation(ctx context.Context, op model.OperationType, fileID, details string) {
	err := m.meta.RecordOperation(ctx, model.Operation{
		Operation: op,
		FileID:    fileID,
		Details:   details,
		CreatedAt: m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("Ошибка записи журнала операций",
			slog.String("operation", string(op)),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

func checkBatch(n, limit int) error {
	if n == 0 {
		return fmt.Errorf("%w: пустой пакет", model.ErrValidation)
	}
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: размер пакета %d превышает максимум %d", model.ErrValidation, n, limit)
	}
	return nil
}
