package studysync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/studykit/studysync/internal/material"
)

var ErrInvalidSnapshotDSN = errors.New("invalid snapshot dsn")

// Snapshot is the persisted form of the store plus the poll watermark,
// used to seed the list across agent restarts.
type Snapshot struct {
	Materials []material.Material `json:"materials"`
	Watermark string              `json:"watermark,omitempty"`
}

type SnapshotBackend interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Close() error
}

// BuildSnapshotBackendFromDSN selects a backend by scheme: memory://,
// file://path (or a bare path), postgres://.
func BuildSnapshotBackendFromDSN(dsn string) (SnapshotBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path := dsn
		if scheme == "file" {
			path = strings.TrimPrefix(dsn, "file://")
		}
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("%w: missing file path", ErrInvalidSnapshotDSN)
		}
		return NewJSONFileSnapshotBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemorySnapshotBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresSnapshotBackend(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidSnapshotDSN, scheme)
	}
}

type MemorySnapshotBackend struct {
	mu       sync.Mutex
	snapshot *Snapshot
}

func NewMemorySnapshotBackend() *MemorySnapshotBackend {
	return &MemorySnapshotBackend{}
}

func (b *MemorySnapshotBackend) Load() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneSnapshot(b.snapshot)
}

func (b *MemorySnapshotBackend) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clone, err := cloneSnapshot(snapshot)
	if err != nil {
		return err
	}
	b.snapshot = clone
	return nil
}

func (b *MemorySnapshotBackend) Close() error {
	return nil
}

func cloneSnapshot(snapshot *Snapshot) (*Snapshot, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	var clone Snapshot
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

type JSONFileSnapshotBackend struct {
	path string
	mu   sync.Mutex
}

func NewJSONFileSnapshotBackend(path string) *JSONFileSnapshotBackend {
	return &JSONFileSnapshotBackend{path: path}
}

func (b *JSONFileSnapshotBackend) Load() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileSnapshotBackend) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *JSONFileSnapshotBackend) Close() error {
	return nil
}

const (
	postgresSnapshotTableName = "studysync_snapshot"
	postgresSnapshotKey       = "default"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresSnapshotBackend struct {
	dsn       string
	tableName string
	stateKey  string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresSnapshotBackend(dsn string) (SnapshotBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidSnapshotDSN
	}
	return &PostgresSnapshotBackend{
		dsn:       dsn,
		tableName: postgresSnapshotTableName,
		stateKey:  postgresSnapshotKey,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresSnapshotBackend) Load() (*Snapshot, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = $1", postgresQuoteIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, b.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *PostgresSnapshotBackend) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresQuoteIdentifier(b.tableName))
	_, err = b.db.ExecContext(ctx, query, b.stateKey, string(payload))
	return err
}

func (b *PostgresSnapshotBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresSnapshotBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
