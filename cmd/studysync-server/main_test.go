package main

import (
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("STUDYSYNC_TEST_INT", "42")
	if got := intEnv("STUDYSYNC_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("STUDYSYNC_TEST_INT_BAD", "not-a-number")
	if got := intEnv("STUDYSYNC_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestInt64EnvParsesValue(t *testing.T) {
	t.Setenv("STUDYSYNC_TEST_INT64", "1048576")
	if got := int64Env("STUDYSYNC_TEST_INT64", 0); got != 1048576 {
		t.Fatalf("expected 1048576, got %d", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("STUDYSYNC_TEST_DURATION_BAD", "soon")
	if got := durationEnv("STUDYSYNC_TEST_DURATION_BAD", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}
