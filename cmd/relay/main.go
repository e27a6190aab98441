package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/relay"
	"github.com/shelfgrab/shelfgrab/store"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	addrDefault := defaultCfg.ListenAddr
	if value, ok := config.EnvString("RELAY_ADDR"); ok {
		addrDefault = value
	}
	sheetsDefault := ""
	if value, ok := config.EnvString("RELAY_SHEETS_URL"); ok {
		sheetsDefault = value
	}
	storeDefault := defaultCfg.StorePath
	if value, ok := config.EnvString("RELAY_STORE"); ok {
		storeDefault = value
	}

	addr := flag.String("addr", addrDefault, "Listen address")
	sheetsURL := flag.String("sheets-url", sheetsDefault, "Spreadsheet endpoint batches are forwarded to")
	storePath := flag.String("store", storeDefault, "Result store snapshot path")
	filePrefix := flag.String("prefix", defaultCfg.FilePrefix, "CSV download filename prefix")
	mode := flag.String("mode", defaultCfg.Mode, "Server mode: debug, release, or test")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg := defaultCfg
	cfg.ListenAddr = *addr
	cfg.SheetsURL = *sheetsURL
	cfg.StorePath = *storePath
	cfg.FilePrefix = *filePrefix
	cfg.Mode = *mode

	st := store.New(cfg.StorePath)
	if err := st.Load(); err != nil {
		slog.Warn("loading result store failed, starting empty", slog.Any("error", err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.NewRouter(cfg, st),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("relay server listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("relay server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
}
