package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"face-recorder/internal/config"
	"face-recorder/internal/repository"
	"face-recorder/internal/service/cache"
	"face-recorder/internal/service/storage"

	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "Работа с каталогом записей без запуска сервера",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать записи, новые первыми",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordingsList()
	},
}

var recordingsDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Удалить записи по имени (YYYY-MM-DD/recording_HH-MM-SS.mp4)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecordingsDelete(args)
	},
}

func init() {
	recordingsCmd.AddCommand(recordingsListCmd)
	recordingsCmd.AddCommand(recordingsDeleteCmd)
}

func runRecordingsList() error {
	cfg := config.Load()
	storageService, err := storage.NewService(cfg.Recording.Dir)
	if err != nil {
		return err
	}

	items, total, err := storageService.List()
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Printf("В %s нет записей.\n", storageService.Dir())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tSIZE\tMODIFIED")
	fmt.Fprintln(w, "--------\t----\t--------")

	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Filename, storage.FormatSize(item.Size), item.Timestamp.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	fmt.Printf("\nВсего: %d, %s\n", len(items), storage.FormatSize(total))
	return nil
}

// pathJournal - часть журнала, нужная для удаления
type pathJournal interface {
	DeleteRecordingByPath(path string) error
}

func runRecordingsDelete(names []string) error {
	cfg := config.Load()
	storageService, err := storage.NewService(cfg.Recording.Dir)
	if err != nil {
		return err
	}

	// Журнал чистим, только если БД доступна
	var journal pathJournal
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg.Database.GetDSN())
		if err != nil {
			log.Printf("⚠️  БД недоступна, журнал не обновлен: %v\n", err)
		} else {
			defer db.Close()
			journal = repository.NewRepository(db)
		}
	}

	// Работающий сервер отдает список из Redis: сбрасываем его
	var store cache.Store
	cacheService, err := cache.NewService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("⚠️  Redis недоступен, кэш не сброшен: %v\n", err)
	} else {
		defer cacheService.Close()
		store = cacheService
	}

	return deleteRecordings(storageService, journal, store, names)
}

func deleteRecordings(storageService *storage.Service, journal pathJournal, store cache.Store, names []string) error {
	failed := 0
	for _, name := range names {
		path, err := storageService.Delete(name)
		if err != nil {
			log.Printf("❌ %s: %v\n", name, err)
			failed++
			continue
		}

		if journal != nil {
			if err := journal.DeleteRecordingByPath(path); err != nil {
				log.Printf("⚠️  Журнал: запись %s не найдена: %v\n", name, err)
			}
		}
		fmt.Printf("🗑️  %s удалена\n", name)
	}

	if store != nil && failed < len(names) {
		if err := store.InvalidateRecordings(); err != nil {
			log.Printf("⚠️  Кэш записей не сброшен: %v\n", err)
		}
		if err := store.InvalidateStats(); err != nil {
			log.Printf("⚠️  Кэш статистики не сброшен: %v\n", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("не удалось удалить %d из %d записей", failed, len(names))
	}
	return nil
}
