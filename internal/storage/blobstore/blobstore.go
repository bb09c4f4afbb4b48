// Пакет blobstore — физическое хранение содержимого файлов на диске.
// Имя blob всегда {id}.{ext} и не зависит от пользовательского ввода.
// Запись streaming с подсчётом SHA-256 на лету.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// BlobStore — управление blob-файлами в одной директории.
type BlobStore struct {
	// dir — директория хранения blob (FS_BLOB_DIR)
	dir string
}

// WriteResult — результат записи blob на диск.
type WriteResult struct {
	// StoredName — имя blob в директории хранения
	StoredName string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт BlobStore. Создаёт директорию, если она не существует,
// и удаляет временные файлы, оставшиеся от прерванных записей.
func New(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию blob %s: %w", dir, err)
	}

	stale, _ := filepath.Glob(filepath.Join(dir, "*"+tmpSuffix))
	for _, p := range stale {
		_ = os.Remove(p)
	}

	return &BlobStore{dir: dir}, nil
}

// Write записывает данные из reader в blob {id}.{ext}.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Читатель никогда не видит частично записанный blob под итоговым именем.
// При ошибке temp файл удаляется, возвращается ошибка, оборачивающая model.ErrIO.
func (bs *BlobStore) Write(id, ext string, reader io.Reader) (*WriteResult, error) {
	storedName := model.StoredNameFor(id, ext)
	fullPath, err := bs.resolve(storedName)
	if err != nil {
		return nil, err
	}
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка создания временного файла: %v", model.ErrIO, err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка записи данных: %v", model.ErrIO, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка fsync: %v", model.ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка закрытия файла: %v", model.ErrIO, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: ошибка атомарного переименования: %v", model.ErrIO, err)
	}

	return &WriteResult{
		StoredName: storedName,
		Size:       size,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
// Отсутствующий blob — model.ErrNotFound.
func (bs *BlobStore) Open(storedName string) (*os.File, error) {
	fullPath, err := bs.resolve(storedName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", model.ErrNotFound, storedName)
		}
		return nil, fmt.Errorf("%w: ошибка открытия blob %s: %v", model.ErrIO, storedName, err)
	}

	return f, nil
}

// Delete удаляет blob. Отсутствие файла ошибкой не считается.
func (bs *BlobStore) Delete(storedName string) error {
	fullPath, err := bs.resolve(storedName)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: ошибка удаления blob %s: %v", model.ErrIO, storedName, err)
	}
	return nil
}

// Exists проверяет наличие blob на диске.
func (bs *BlobStore) Exists(storedName string) bool {
	fullPath, err := bs.resolve(storedName)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// Path возвращает абсолютный путь blob на диске.
func (bs *BlobStore) Path(storedName string) string {
	return filepath.Join(bs.dir, storedName)
}

// Dir возвращает путь к директории blob.
func (bs *BlobStore) Dir() string {
	return bs.dir
}

// resolve проверяет, что имя blob — одиночный сегмент без разделителей,
// и возвращает полный путь.
func (bs *BlobStore) resolve(storedName string) (string, error) {
	if storedName == "" || storedName == "." || storedName == ".." ||
		strings.ContainsAny(storedName, `/\`) || strings.ContainsRune(storedName, 0) {
		return "", fmt.Errorf("%w: некорректное имя blob %q", model.ErrValidation, storedName)
	}
	return filepath.Join(bs.dir, storedName), nil
}
