package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// DefaultDBFileName is the SQLite filename under app data dir.
	DefaultDBFileName = "journal.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id  TEXT PRIMARY KEY,
  direction    TEXT NOT NULL CHECK(direction IN ('send','receive')),
  peer_addr    TEXT NOT NULL,
  filename     TEXT NOT NULL,
  stored_path  TEXT NOT NULL DEFAULT '',
  bytes        INTEGER NOT NULL DEFAULT 0,
  digest       TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL CHECK(status IN ('streaming','done','failed')) DEFAULT 'streaming',
  failed_state TEXT,
  error        TEXT,
  started_at   INTEGER NOT NULL,
  finished_at  INTEGER
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_direction_time
ON transfers (direction, started_at DESC, transfer_id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_status
ON transfers (status, started_at DESC);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Option adjusts a Store before it starts its background work.
type Option func(*Store)

// WithLogger reports background failures such as periodic WAL checkpoints.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.Named("journal")
		}
	}
}

// WithWALCheckpointInterval overrides the periodic checkpoint interval. A
// non-positive interval disables the loop.
func WithWALCheckpointInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.walCheckpointInterval = interval
	}
}

// Open opens (or creates) journal.db under the given data directory and runs migrations.
func Open(dataDir string, options ...Option) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath, options...)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string, options ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		logger:                zap.NewNop(),
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	for _, option := range options {
		option(store)
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) periodicCheckpoint() {
	if err := s.checkpointWAL(); err != nil {
		s.logger.Warn("periodic WAL checkpoint failed", zap.Error(err))
	}
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.periodicCheckpoint()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
