// Package store implements the SQLite storage engine for long-term semantic
// memories. It owns all writes, the one-current-fact-per-fingerprint
// invariant, and the supersession transaction. Retrieval reads through the
// candidate prefilter and issues only best-effort adaptive updates.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/config"
	"github.com/SiteMonkeysAI/sitemonkeys-ai-system-sub005/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryStore persists memories in SQLite.
//
// Concurrency model: writes go through immediate transactions (the DSN sets
// _txlock=immediate) so lock acquisition happens at BEGIN, and the partial
// unique index enforces fact exclusivity even if two supersessions race.
// The connection pool is capped at one open connection, matching SQLite's
// single-writer reality.
type MemoryStore struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	dims       int // required embedding dimensionality for status=ready
	superCfg   config.SupersessionConfig
	vectorExt  bool // sqlite-vec available
	requireVec bool // require vec extension or fail fast
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithDimensions sets the embedding dimensionality enforced on ready rows.
func WithDimensions(dims int) Option {
	return func(s *MemoryStore) { s.dims = dims }
}

// WithSupersessionConfig overrides supersession retry behavior.
func WithSupersessionConfig(cfg config.SupersessionConfig) Option {
	return func(s *MemoryStore) { s.superCfg = cfg }
}

// NewMemoryStore initializes the SQLite database at the given path.
func NewMemoryStore(path string, opts ...Option) (*MemoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewMemoryStore")
	defer timer.Stop()

	logging.Store("Initializing MemoryStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsnFor(path))
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// PRAGMA synchronous=NORMAL provides a large write speedup with WAL mode
	// while keeping crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}
	logging.StoreDebug("Opened SQLite database connection")

	store := &MemoryStore{
		db:       db,
		dbPath:   path,
		dims:     1536,
		superCfg: config.DefaultSupersessionConfig(),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized successfully")

	// Detect sqlite-vec extension availability; exact cosine scan over the
	// prefiltered candidate set is the fallback.
	store.detectVecExtension()
	if store.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using exact scan over prefiltered candidates")
	}

	logging.Store("MemoryStore initialization complete (dims=%d)", store.dims)
	return store, nil
}

// dsnFor builds the driver DSN. _txlock=immediate makes every write
// transaction take the reserved lock at BEGIN, so supersession conflicts
// surface as retryable busy errors instead of commit-time surprises.
func dsnFor(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_txlock=immediate"
	}
	if path == ":memory:" {
		return "file::memory:?_txlock=immediate&cache=shared"
	}
	return path + "?_txlock=immediate"
}

// initialize creates the required tables and indexes.
func (s *MemoryStore) initialize() error {
	memoriesTable := `
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'truth-general',
		category TEXT,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		embedding_model TEXT,
		embedding_updated_at DATETIME,
		fact_fingerprint TEXT,
		fingerprint_confidence REAL,
		is_current BOOLEAN NOT NULL DEFAULT 1,
		superseded_by INTEGER REFERENCES memories(id),
		superseded_at DATETIME,
		relevance_score REAL DEFAULT 0.5,
		usage_frequency INTEGER DEFAULT 0,
		last_accessed DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_category ON memories(user_id, category);
	CREATE INDEX IF NOT EXISTS idx_memories_user_mode ON memories(user_id, mode);
	CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(embedding_status);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
	`

	// Adaptive priority centroid: one system row per user, mean of the
	// embeddings of memories the user has engaged with.
	centroidTable := `
	CREATE TABLE IF NOT EXISTS user_centroids (
		user_id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		sample_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, table := range []string{memoriesTable, centroidTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// Run schema migrations for existing databases (adds columns introduced
	// after the first release).
	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// The linchpin of the one-current-fact invariant: created after
	// migrations so older databases pick it up too.
	if _, err := s.CreateSupersessionConstraint(); err != nil {
		return err
	}

	return nil
}

// CreateSupersessionConstraint creates the partial unique index that
// enforces at most one current row per (user_id, fact_fingerprint). The
// index is deliberately mode-less: partitioning is for retrieval, not for
// fact identity.
func (s *MemoryStore) CreateSupersessionConstraint() (string, error) {
	constraint := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_current_fact
	ON memories(user_id, fact_fingerprint)
	WHERE is_current = 1 AND fact_fingerprint IS NOT NULL
	`
	if _, err := s.db.Exec(constraint); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create supersession constraint: %v", err)
		return "", fmt.Errorf("failed to create supersession constraint: %w", err)
	}
	logging.StoreDebug("Supersession constraint ensured (partial unique index)")
	return "partial unique index idx_memories_current_fact ensured", nil
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available.
func (s *MemoryStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// HasVectorExtension reports whether sqlite-vec ANN search is available.
func (s *MemoryStore) HasVectorExtension() bool {
	return s.vectorExt
}

// Dimensions returns the embedding dimensionality enforced on ready rows.
func (s *MemoryStore) Dimensions() int {
	return s.dims
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	logging.Store("Closing MemoryStore database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *MemoryStore) DB() *sql.DB {
	return s.db
}
