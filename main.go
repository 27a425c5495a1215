package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"watchbridge/api"
	"watchbridge/config"
	"watchbridge/handlers"
	"watchbridge/services/plex"
	syncsvc "watchbridge/services/sync"
	"watchbridge/services/trakt"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("WATCHBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation.
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	traktClient := trakt.NewClient(settings.Trakt.ClientID, settings.Trakt.ClientSecret, settings.Trakt.RedirectURI)
	traktClient.SetTokens(settings.Trakt.AccessToken, settings.Trakt.RefreshToken)
	traktClient.OnTokenRefresh(func(accessToken, refreshToken string, expiresAt int64) {
		if err := cfgManager.UpdateTraktTokens(accessToken, refreshToken, expiresAt); err != nil {
			log.Printf("Warning: could not persist refreshed trakt tokens: %v", err)
		}
	})
	if !traktClient.HasCredentials() {
		log.Printf("Warning: trakt client credentials not configured; set trakt.clientId/clientSecret in %s", configPath)
	}

	plexClient := plex.NewClient(settings.Plex.ServerURL, settings.Plex.Token, settings.Plex.ClientID, settings.Plex.AccountID)

	engine := syncsvc.NewEngine(plexClient, traktClient, syncsvc.Options{
		BatchSize:            settings.Sync.BatchSize,
		IncrementalBatchSize: settings.Sync.IncrementalBatchSize,
		BatchPause:           time.Duration(settings.Sync.BatchPauseMs) * time.Millisecond,
	})
	scrobbler := syncsvc.NewScrobbler(traktClient)

	router := api.NewRouter(api.Handlers{
		Sync:     handlers.NewSyncHandler(engine),
		Scrobble: handlers.NewScrobbleHandler(scrobbler, plexClient, settings.Sync.ScrobblingEnabled),
		Trakt:    handlers.NewTraktHandler(traktClient),
	})

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("watchbridge listening on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // full sync runs respond synchronously
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
