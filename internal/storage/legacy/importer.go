// Пакет legacy — одноразовый импорт метаданных из старого формата
// metadata.json (объект id → запись) в хранилище метаданных.
// Выполняется при старте вне основного пути менеджера жизненного цикла.
// Повторный запуск безопасен: после успешного импорта файл
// переименовывается в metadata.json.imported.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// ImportedSuffix — суффикс, добавляемый к файлу после импорта.
const ImportedSuffix = ".imported"

// Record — запись старого формата. Неизвестные поля отклоняются.
type Record struct {
	ID            string `json:"id"`
	OriginalName  string `json:"original_name"`
	StoredName    string `json:"stored_name"`
	FilePath      string `json:"file_path"`
	FileSize      int64  `json:"file_size"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension"`
	UploadTime    string `json:"upload_time"`
	ExpireTime    string `json:"expire_time"`
	RelativePath  string `json:"relative_path"`
	IsTextFile    bool   `json:"is_text_file"`
}

// RecordWriter — получатель импортированных записей.
type RecordWriter interface {
	Put(ctx context.Context, rec *model.FileRecord) error
}

// BlobChecker — проверка наличия blob.
type BlobChecker interface {
	Exists(storedName string) bool
}

// Result — итог импорта.
type Result struct {
	Imported int
	// MissingBlob — записи без blob на диске
	MissingBlob int
	// Invalid — записи, не прошедшие проверку
	Invalid int
}

// Importer — импорт metadata.json.
type Importer struct {
	writer RecordWriter
	blobs  BlobChecker
	logger *slog.Logger
}

// NewImporter создаёт импортёр.
func NewImporter(writer RecordWriter, blobs BlobChecker, logger *slog.Logger) *Importer {
	return &Importer{
		writer: writer,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "legacy_import")),
	}
}

// Import читает path и сохраняет записи. Отсутствующий файл — не ошибка.
// Ошибка записи в хранилище прерывает импорт, файл остаётся на месте
// для повторной попытки при следующем старте.
func (im *Importer) Import(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{}, nil
		}
		return nil, fmt.Errorf("ошибка открытия %s: %w", path, err)
	}

	records, err := decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}

	result := &Result{}
	for key, lr := range records {
		rec, err := lr.toFileRecord(key)
		if err != nil {
			im.logger.Warn("Пропуск некорректной записи",
				slog.String("file_id", key),
				slog.String("error", err.Error()),
			)
			result.Invalid++
			continue
		}

		if !im.blobs.Exists(rec.StoredName) {
			im.logger.Warn("Пропуск записи без blob",
				slog.String("file_id", rec.ID),
				slog.String("stored_name", rec.StoredName),
			)
			result.MissingBlob++
			continue
		}

		if err := im.writer.Put(ctx, rec); err != nil {
			return result, fmt.Errorf("ошибка сохранения записи %s: %w", rec.ID, err)
		}
		result.Imported++
	}

	if err := os.Rename(path, path+ImportedSuffix); err != nil {
		return result, fmt.Errorf("ошибка переименования %s: %w", path, err)
	}

	im.logger.Info("Импорт metadata.json завершён",
		slog.Int("imported", result.Imported),
		slog.Int("missing_blob", result.MissingBlob),
		slog.Int("invalid", result.Invalid),
	)
	return result, nil
}

func decode(f *os.File) (map[string]Record, error) {
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var records map[string]Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// toFileRecord переводит запись старого формата в FileRecord.
func (lr Record) toFileRecord(key string) (*model.FileRecord, error) {
	id := lr.ID
	if id == "" {
		id = key
	}
	if id == "" || lr.StoredName == "" {
		return nil, fmt.Errorf("%w: не заданы id или stored_name", model.ErrValidation)
	}

	name := lr.RelativePath
	if name == "" {
		name = lr.OriginalName
	}
	displayName, err := model.NormalizeDisplayName(name)
	if err != nil {
		return nil, err
	}

	uploadedAt, err := ParseTimestamp(lr.UploadTime)
	if err != nil {
		return nil, fmt.Errorf("upload_time: %w", err)
	}
	expiresAt, err := ParseTimestamp(lr.ExpireTime)
	if err != nil {
		return nil, fmt.Errorf("expire_time: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(lr.FileExtension, "."))
	if ext == "" {
		ext = model.ExtensionOf(displayName)
	}

	rec := &model.FileRecord{
		ID:          id,
		DisplayName: displayName,
		StoredName:  lr.StoredName,
		SizeBytes:   lr.FileSize,
		MimeType:    lr.mimeType(displayName),
		Extension:   ext,
		UploadedAt:  uploadedAt,
		ExpiresAt:   expiresAt,
		IsTextFile:  lr.IsTextFile,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// mimeType возвращает сохранённый file_type, если это корректный
// media type. Иначе тип выводится так же, как при загрузке.
func (lr Record) mimeType(displayName string) string {
	if ft := strings.TrimSpace(lr.FileType); ft != "" {
		if _, _, err := mime.ParseMediaType(ft); err == nil && strings.Contains(ft, "/") {
			return ft
		}
	}
	if lr.IsTextFile {
		return model.TextMimeType
	}
	return model.MimeTypeOf(displayName)
}

// timestampLayouts — варианты ISO-8601, встречающиеся в старом формате.
// Время без зоны трактуется как локальное время процесса.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp разбирает ISO-8601 с зоной или без и возвращает UTC
// с точностью до микросекунд.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: пустая дата", model.ErrValidation)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: некорректная дата %q", model.ErrValidation, s)
}

// IsImported сообщает, был ли файл уже импортирован.
func IsImported(path string) bool {
	_, err := os.Stat(path + ImportedSuffix)
	return !errors.Is(err, os.ErrNotExist)
}
