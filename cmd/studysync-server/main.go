package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/studykit/studysync/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	addr := strings.TrimSpace(os.Getenv("STUDYSYNC_ADDR"))
	if addr == "" {
		addr = ":8000"
	}

	server := httpapi.NewServerWithConfig(httpapi.ServerConfig{
		JWTSecret:       os.Getenv("STUDYSYNC_JWT_SECRET"),
		MaxBodyBytes:    int64Env("STUDYSYNC_MAX_BODY_BYTES", 0),
		RateLimitMax:    intEnv("STUDYSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("STUDYSYNC_RATE_LIMIT_WINDOW", time.Minute),
		ProcessDelay:    durationEnv("STUDYSYNC_PROCESS_DELAY", 2*time.Second),
	})

	log.Printf("studysync dev server listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
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
