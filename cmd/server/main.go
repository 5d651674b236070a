package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version - версия сервиса
const Version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:     "face-recorder",
	Short:   "Запись видео по появлению лица в кадре",
	Version: Version,
	// Без подкоманды запускаем сервер
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP/WebSocket сервер",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordingsCmd)
}

func main() {
	// Ctrl+C и SIGTERM отменяют контекст: сервер закрывает сессии и записи
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("❌ %v", err)
		stop()
		os.Exit(1)
	}
}

// printBanner печатает баннер при старте
func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════╗
║                                                       ║
║   🎥  FACE RECORDER                                  ║
║                                                       ║
║   Запись видео, пока в кадре есть лицо               ║
║                                                       ║
║   Версия: ` + Version + `                                       ║
║                                                       ║
╚═══════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	log.Println("🚀 Инициализация сервисов...")
}
