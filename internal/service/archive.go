// archive.go — сборка zip-архивов из blob выбранных записей.
//
// Архив пишется во временный файл в FS_TEMP_DIR и публикуется
// атомарным rename только после успешного завершения. При отмене
// контекста или ошибке временный файл удаляется.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

var (
	archivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_archives_total",
		Help: "Общее количество сборок архивов по результату",
	}, []string{"result"})

	archiveEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_archive_entries",
		Help:    "Количество файлов в собранном архиве",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
	})
)

// existsCheckLimit — параллельность предварительной проверки blob.
const existsCheckLimit = 8

// BlobReader — чтение blob для сборки архива.
type BlobReader interface {
	Open(storedName string) (*os.File, error)
	Exists(storedName string) bool
}

// Archive — собранный архив. Вызывающий код отдаёт файл и вызывает Remove.
type Archive struct {
	// Path — путь к файлу архива на диске
	Path string
	// Name — имя архива для скачивания
	Name string
	// Entries — пути файлов внутри архива в порядке добавления
	Entries []string
	// Skipped — id записей, пропущенных из-за отсутствия blob
	Skipped []string
	// Size — размер архива в байтах
	Size int64
}

// Remove удаляет файл архива.
func (a *Archive) Remove() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления архива %s: %w", a.Path, err)
	}
	return nil
}

// ArchiveBuilder — сборщик zip-архивов.
type ArchiveBuilder struct {
	blobs   BlobReader
	tempDir string
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewArchiveBuilder создаёт сборщик. maxConcurrent ограничивает
// количество одновременно собираемых архивов.
func NewArchiveBuilder(blobs BlobReader, tempDir string, maxConcurrent int, logger *slog.Logger) (*ArchiveBuilder, error) {
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать временную директорию %s: %w", tempDir, err)
	}

	// Незавершённые архивы прошлых запусков
	stale, _ := filepath.Glob(filepath.Join(tempDir, "archive-*"))
	for _, p := range stale {
		_ = os.Remove(p)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ArchiveBuilder{
		blobs:   blobs,
		tempDir: tempDir,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger.With(slog.String("component", "archive")),
	}, nil
}

// Build упаковывает blob записей в zip. Путь файла внутри архива —
// DisplayName записи; совпадающие пути получают суффикс _N перед
// расширением в порядке обхода. Записи без blob пропускаются.
// Если в архив не попал ни один файл — model.ErrNothingToArchive.
func (b *ArchiveBuilder) Build(ctx context.Context, name string, records []*model.FileRecord) (*Archive, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		archivesTotal.WithLabelValues("canceled").Inc()
		return nil, err
	}
	defer b.sem.Release(1)

	present, skipped, err := b.partition(ctx, records)
	if err != nil {
		archivesTotal.WithLabelValues("canceled").Inc()
		return nil, err
	}
	if len(present) == 0 {
		archivesTotal.WithLabelValues("empty").Inc()
		return nil, model.ErrNothingToArchive
	}

	archive, err := b.write(ctx, name, present)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNothingToArchive):
			archivesTotal.WithLabelValues("empty").Inc()
		case ctx.Err() != nil:
			archivesTotal.WithLabelValues("canceled").Inc()
		default:
			archivesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	archive.Skipped = append(skipped, archive.Skipped...)

	archivesTotal.WithLabelValues("ok").Inc()
	archiveEntries.Observe(float64(len(archive.Entries)))
	b.logger.Info("Архив собран",
		slog.String("name", archive.Name),
		slog.Int("entries", len(archive.Entries)),
		slog.Int("skipped", len(archive.Skipped)),
		slog.Int64("size", archive.Size),
	)
	return archive, nil
}

// partition параллельно проверяет наличие blob и делит записи
// на присутствующие и пропущенные, сохраняя исходный порядок.
func (b *ArchiveBuilder) partition(ctx context.Context, records []*model.FileRecord) ([]*model.FileRecord, []string, error) {
	exists := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(existsCheckLimit)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			exists[i] = b.blobs.Exists(rec.StoredName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		present []*model.FileRecord
		skipped []string
	)
	for i, rec := range records {
		if exists[i] {
			present = append(present, rec)
			continue
		}
		b.logger.Warn("Blob отсутствует, файл пропущен",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
		skipped = append(skipped, rec.ID)
	}
	return present, skipped, nil
}

// write пишет архив во временный файл и публикует его.
func (b *ArchiveBuilder) write(ctx context.Context, name string, records []*model.FileRecord) (archive *Archive, err error) {
	tmp, err := os.CreateTemp(b.tempDir, "archive-*.zip.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка создания временного архива: %v", model.ErrIO, err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	archive = &Archive{Name: name}
	zw := zip.NewWriter(tmp)
	used := make(map[string]bool, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		added, err := b.addEntry(ctx, zw, rec, used)
		if err != nil {
			return nil, err
		}
		if added == "" {
			archive.Skipped = append(archive.Skipped, rec.ID)
			continue
		}
		archive.Entries = append(archive.Entries, added)
	}

	if len(archive.Entries) == 0 {
		return nil, model.ErrNothingToArchive
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: ошибка завершения архива: %v", model.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: ошибка fsync архива: %v", model.ErrIO, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: ошибка закрытия архива: %v", model.ErrIO, err)
	}

	finalPath := strings.TrimSuffix(tmpPath, ".tmp")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("%w: ошибка атомарного переименования архива: %v", model.ErrIO, err)
	}

	archive.Path = finalPath
	archive.Size = info.Size()
	return archive, nil
}

// addEntry добавляет blob записи в архив. Возвращает путь внутри
// архива или "", если blob исчез после предварительной проверки.
func (b *ArchiveBuilder) addEntry(ctx context.Context, zw *zip.Writer, rec *model.FileRecord, used map[string]bool) (string, error) {
	src, err := b.blobs.Open(rec.StoredName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			b.logger.Warn("Blob удалён во время сборки архива, файл пропущен",
				slog.String("file_id", rec.ID),
			)
			return "", nil
		}
		return "", err
	}
	defer src.Close()

	entryName := uniqueEntryName(rec.DisplayName, used)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: rec.UploadedAt,
	})
	if err != nil {
		return "", fmt.Errorf("%w: ошибка добавления %s в архив: %v", model.ErrIO, entryName, err)
	}

	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: src}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: ошибка копирования %s в архив: %v", model.ErrIO, entryName, err)
	}
	return entryName, nil
}

// uniqueEntryName возвращает имя, не занятое в used, и помечает его занятым.
// "a/report.csv" → "a/report_1.csv" → "a/report_2.csv".
func uniqueEntryName(name string, used map[string]bool) string {
	if !used[name] {
		used[name] = true
		return name
	}

	ext := path.Ext(path.Base(name))
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
