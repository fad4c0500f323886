package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/studykit/studysync/internal/material"
	"github.com/studykit/studysync/internal/studysync"
)

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server-url", envOrDefault("STUDYSYNC_SERVER_URL", "http://127.0.0.1:8000"), "backend base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("STUDYSYNC_TOKEN")), "bearer token")
	interval := flag.Duration("poll-interval", durationEnv("STUDYSYNC_POLL_INTERVAL", studysync.DefaultPollInterval), "update poll interval")
	timeout := flag.Duration("timeout", durationEnv("STUDYSYNC_TIMEOUT", 15*time.Second), "per-request timeout")
	snapshotDSN := flag.String("snapshot-dsn", strings.TrimSpace(os.Getenv("STUDYSYNC_SNAPSHOT_DSN")), "snapshot backend dsn (memory://, file://path, postgres://)")
	watchDir := flag.String("watch-dir", strings.TrimSpace(os.Getenv("STUDYSYNC_WATCH_DIR")), "upload folder to watch (optional)")
	noPush := flag.Bool("no-push", false, "disable the websocket push channel")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or STUDYSYNC_TOKEN)")
	}
	if *interval <= 0 {
		*interval = studysync.DefaultPollInterval
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	snapshot, err := studysync.BuildSnapshotBackendFromDSN(*snapshotDSN)
	if err != nil {
		log.Fatalf("failed to initialize snapshot backend: %v", err)
	}
	if snapshot != nil {
		defer snapshot.Close()
	}

	client := studysync.NewHTTPClient(*serverURL, *token, &http.Client{Timeout: *timeout})
	store := material.NewStore()

	eventsURL := ""
	if !*noPush {
		eventsURL = client.EventsURL()
	}
	coord, err := studysync.NewCoordinator(client, store, studysync.CoordinatorOptions{
		PollInterval: *interval,
		EventsURL:    eventsURL,
		Snapshot:     snapshot,
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize sync coordinator: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(rootCtx); err != nil {
		log.Fatalf("initial load failed: %v", err)
	}
	defer coord.Stop()
	log.Printf("synced %d study materials from %s", store.Len(), *serverURL)

	if *watchDir != "" {
		gateway, err := studysync.NewGateway(client, store)
		if err != nil {
			log.Fatalf("failed to initialize gateway: %v", err)
		}
		watcher, err := studysync.NewWatcher(*watchDir, gateway, studysync.WatcherOptions{
			Logger: log.Default(),
		})
		if err != nil {
			log.Fatalf("failed to initialize upload watcher: %v", err)
		}
		if err := watcher.Start(rootCtx); err != nil {
			log.Fatalf("failed to start upload watcher: %v", err)
		}
		defer watcher.Close()
		log.Printf("watching %s for uploads", *watchDir)
	}

	<-rootCtx.Done()
	log.Printf("studysync stopping: %v", rootCtx.Err())
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
