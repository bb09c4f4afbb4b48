// Точка входа файлового обменника: сервис временного хранения файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/fileshare/internal/api/handlers"
	"github.com/bigkaa/goartstore/fileshare/internal/config"
	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
	"github.com/bigkaa/goartstore/fileshare/internal/server"
	"github.com/bigkaa/goartstore/fileshare/internal/service"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/legacy"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/metastore"
	"github.com/bigkaa/goartstore/fileshare/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Файловый обменник запускается",
		slog.String("version", config.Version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("meta_driver", cfg.MetaDriver),
		slog.Int("ops_port", cfg.OpsPort),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка работы сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Файловый обменник остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Blob-хранилище
	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("инициализация blob-хранилища: %w", err)
	}

	// 2. WAL загрузок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("инициализация WAL: %w", err)
	}

	// 3. Хранилище метаданных (с миграциями)
	meta, err := metastore.Open(ctx, cfg.MetaDriver, cfg.MetaDSN, logger)
	if err != nil {
		return fmt.Errorf("инициализация хранилища метаданных: %w", err)
	}
	defer meta.Close()

	// 4. Импорт metadata.json старого формата
	importLegacy(ctx, cfg.LegacyMetadataPath, meta, blobs, logger)

	// 5. Менеджер жизненного цикла
	archiver, err := service.NewArchiveBuilder(blobs, cfg.TempDir, cfg.MaxConcurrentArchives, logger)
	if err != nil {
		return fmt.Errorf("инициализация сборщика архивов: %w", err)
	}
	manager := service.NewManager(service.ManagerConfig{
		TTL:             cfg.FileTTL,
		MaxTTL:          cfg.MaxTTL,
		MaxDeleteBatch:  cfg.MaxDeleteBatch,
		MaxArchiveBatch: cfg.MaxArchiveBatch,
		StatsTopN:       cfg.StatsTopN,
	}, meta, blobs, walEngine, service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL), archiver, logger)

	// WAL recovery: завершаем прерванные загрузки
	recovered, err := manager.RecoverPending(ctx)
	if err != nil {
		return fmt.Errorf("восстановление WAL: %w", err)
	}
	if recovered > 0 {
		logger.Warn("Восстановлены незавершённые загрузки", slog.Int("count", recovered))
	}

	// 6. Фоновая очистка истёкших файлов
	sweeper := service.NewSweeper(manager, walEngine, meta, service.SweeperConfig{
		Interval:       cfg.SweepInterval,
		OplogRetention: cfg.OplogRetention,
	}, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. Служебный HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Health:      handlers.NewHealthHandler(meta, manager, sweeper, handlers.HealthConfig{
			BlobDir:          cfg.BlobDir,
			WALDir:           cfg.WALDir,
			DiskWarnPercent:  cfg.DiskWarnPercent,
			ExpiredWarnCount: cfg.ExpiredWarnCount,
		}),
		Stats:       handlers.NewStatsHandler(manager),
		Maintenance: handlers.NewMaintenanceHandler(sweeper),
	})
	return srv.Run(ctx)
}

// importLegacy переносит записи из metadata.json. Ошибка импорта
// не останавливает запуск: файл остаётся для следующей попытки.
func importLegacy(ctx context.Context, path string, meta metastore.Store, blobs *blobstore.BlobStore, logger *slog.Logger) {
	if legacy.IsImported(path) {
		return
	}

	res, err := legacy.NewImporter(meta, blobs, logger).Import(ctx, path)
	if err != nil {
		logger.Error("Ошибка импорта metadata.json",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if res.Imported == 0 {
		return
	}

	err = meta.RecordOperation(ctx, model.Operation{
		Operation: model.OpImport,
		Details:   fmt.Sprintf("imported=%d missing_blob=%d invalid=%d", res.Imported, res.MissingBlob, res.Invalid),
	})
	if err != nil {
		logger.Warn("Ошибка записи журнала операций", slog.String("error", err.Error()))
	}
}
