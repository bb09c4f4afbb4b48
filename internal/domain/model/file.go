// Пакет model — доменные модели файлового обменника.
// FileRecord — единая структура метаданных файла, используется
// хранилищем метаданных, менеджером жизненного цикла и сборщиком архивов.
package model

import (
	"fmt"
	"time"
)

// FileRecord — метаданные одного сохранённого файла.
// Создаётся один раз вместе с blob и далее заменяется только целиком.
type FileRecord struct {
	// ID — уникальный идентификатор файла (UUID v4), первичный ключ
	ID string `json:"id"`

	// DisplayName — логическое имя файла, может содержать
	// относительный путь папки ("reports/q1.csv")
	DisplayName string `json:"display_name"`

	// StoredName — имя blob на диске: {id}.{ext}.
	// Наружу не отдаётся.
	StoredName string `json:"-"`

	// SizeBytes — размер содержимого в байтах
	SizeBytes int64 `json:"size_bytes"`

	// MimeType — MIME-тип, определённый по DisplayName при создании
	MimeType string `json:"mime_type"`

	// Extension — расширение без точки в нижнем регистре ("bin" по умолчанию)
	Extension string `json:"extension"`

	// Checksum — SHA-256 содержимого (hex)
	Checksum string `json:"checksum"`

	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// ExpiresAt — время истечения срока хранения: UploadedAt + TTL
	ExpiresAt time.Time `json:"expires_at"`

	// IsTextFile — запись создана через сохранение текста
	IsTextFile bool `json:"is_text_file"`
}

// IsExpired проверяет, истёк ли срок хранения файла на момент now.
// Запись с ExpiresAt == now уже считается истёкшей.
func (r *FileRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Folder возвращает имя папки (первый сегмент пути) или "" для файлов в корне.
func (r *FileRecord) Folder() string {
	return FolderOf(r.DisplayName)
}

// BaseName возвращает последний сегмент DisplayName.
func (r *FileRecord) BaseName() string {
	return BaseNameOf(r.DisplayName)
}

// PreviewKind возвращает тип предпросмотра по расширению.
func (r *FileRecord) PreviewKind() PreviewKind {
	return PreviewKindOf(r.Extension)
}

// TTL возвращает срок хранения записи.
func (r *FileRecord) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.UploadedAt)
}

// Validate проверяет запись на границе хранилища метаданных.
func (r *FileRecord) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: пустой id", ErrValidation)
	case r.DisplayName == "":
		return fmt.Errorf("%w: пустое имя файла (id=%s)", ErrValidation, r.ID)
	case r.StoredName == "":
		return fmt.Errorf("%w: пустое имя blob (id=%s)", ErrValidation, r.ID)
	case r.SizeBytes < 0:
		return fmt.Errorf("%w: отрицательный размер %d (id=%s)", ErrValidation, r.SizeBytes, r.ID)
	case r.UploadedAt.IsZero():
		return fmt.Errorf("%w: не задано время загрузки (id=%s)", ErrValidation, r.ID)
	case !r.ExpiresAt.After(r.UploadedAt):
		return fmt.Errorf("%w: expires_at должен быть позже uploaded_at (id=%s)", ErrValidation, r.ID)
	}
	return nil
}

// Folder — производная группировка записей по первому сегменту пути.
type Folder struct {
	// Name — имя папки
	Name string `json:"name"`
	// Files — записи папки в порядке uploaded_at по убыванию
	Files []*FileRecord `json:"files"`
	// TotalSize — суммарный размер файлов папки
	TotalSize int64 `json:"total_size"`
	// LatestUpload — время последней загрузки в папку
	LatestUpload time.Time `json:"latest_upload"`
}

// ExtensionStat — агрегат по одному расширению.
type ExtensionStat struct {
	Extension string `json:"extension"`
	Count     int64  `json:"count"`
	TotalSize int64  `json:"total_size"`
}

// Stats — сводная статистика хранилища.
type Stats struct {
	TotalFiles   int64           `json:"total_files"`
	TotalSize    int64           `json:"total_size"`
	ExpiredFiles int64           `json:"expired_files"`
	TextFiles    int64           `json:"text_files"`
	Extensions   []ExtensionStat `json:"extensions"`
}

// OperationType — тип операции в журнале операций.
type OperationType string

const (
	OpUpload   OperationType = "upload"
	OpSaveText OperationType = "save_text"
	OpDelete   OperationType = "delete"
	OpPurge    OperationType = "purge"
	OpArchive  OperationType = "archive"
	OpImport   OperationType = "import"
)

// ParseOperationType проверяет тип операции из внешнего ввода.
func ParseOperationType(s string) (OperationType, error) {
	switch t := OperationType(s); t {
	case OpUpload, OpSaveText, OpDelete, OpPurge, OpArchive, OpImport:
		return t, nil
	}
	return "", fmt.Errorf("%w: неизвестный тип операции %q", ErrValidation, s)
}

// OperationQuery — выборка из журнала операций.
// Пустой Operation означает все типы, Limit <= 0 без ограничения.
type OperationQuery struct {
	Operation OperationType
	Limit     int
}

// Operation — запись журнала операций.
type Operation struct {
	ID        int64         `json:"id"`
	Operation OperationType `json:"operation"`
	FileID    string        `json:"file_id,omitempty"`
	Details   string        `json:"details,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
