// Пакет wal — файловый журнал упреждающей записи для загрузок.
// Связывает запись blob и запись метаданных: если процесс упал между
// ними, при следующем старте незавершённая транзакция откатывается
// и blob-сирота удаляется.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в FS_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpBlobCreate — запись нового blob с последующей записью метаданных
	OpBlobCreate OperationType = "blob_create"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// FileID — идентификатор создаваемой записи
	FileID string `json:"file_id"`
	// StoredName — имя blob, который нужно удалить при откате
	StoredName string `json:"stored_name"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending транзакций
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// finished сообщает, завершена ли транзакция.
func (e *Entry) finished() bool {
	return e.Status == StatusCommitted || e.Status == StatusRolledBack
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
