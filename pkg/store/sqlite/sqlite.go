// Package sqlite provides the SQLite implementation of store.Cache.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
)

// Table splits stored in feature_rows.split.
const (
	splitTrain = 0
	splitTest  = 1
)

// Config holds configuration for the SQLite cache.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// WAL enables WAL mode for better concurrency.
	WAL bool

	Logger zerolog.Logger
}

// SQLiteStore is the SQLite implementation of store.Cache.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger

	// Serialises writers
	mu sync.Mutex
}

var _ store.Cache = (*SQLiteStore)(nil)

// New opens or creates a cache database.
func New(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000"
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		path:   cfg.DBPath,
		logger: cfg.Logger.With().Str("component", "cache").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS entries (
	signature   TEXT PRIMARY KEY,
	schema_ver  INTEGER NOT NULL,
	sources     TEXT NOT NULL,  -- JSON array of paths
	feature_set TEXT NOT NULL,
	label_col   TEXT NOT NULL,
	columns     TEXT NOT NULL,  -- JSON array of feature names
	train_rows  INTEGER NOT NULL,
	test_rows   INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	complete    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feature_rows (
	signature      TEXT NOT NULL,
	split          INTEGER NOT NULL,
	pos            INTEGER NOT NULL,
	seq            INTEGER NOT NULL,
	interface      TEXT NOT NULL,
	timestamp      REAL NOT NULL,
	arbitration_id INTEGER NOT NULL,
	dlc            INTEGER NOT NULL,
	data           TEXT NOT NULL,
	label          INTEGER NOT NULL,
	class          INTEGER NOT NULL,
	features       BLOB NOT NULL,  -- little-endian float64s
	PRIMARY KEY (signature, split, pos),
	FOREIGN KEY (signature) REFERENCES entries(signature) ON DELETE CASCADE
);
`

// initSchema creates the tables. A database written under another schema
// version is wiped, since everything in it is recomputable.
func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		if v, _ := strconv.Atoi(value); v != store.SchemaVersion {
			s.logger.Warn().Int("found", v).Int("want", store.SchemaVersion).Msg("Cache schema changed, discarding entries")
			if _, err := s.db.Exec(`DROP TABLE IF EXISTS feature_rows; DROP TABLE IF EXISTS entries;`); err != nil {
				return fmt.Errorf("drop old schema: %w", err)
			}
			if _, err := s.db.Exec(schema); err != nil {
				return fmt.Errorf("execute schema: %w", err)
			}
		}
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", strconv.Itoa(store.SchemaVersion))
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Writes
// ────────────────────────────────────────────────────────────────────────────────

// Put writes all rows and marks the entry complete in one transaction. A
// failure leaves any previous entry for the signature untouched.
func (s *SQLiteStore) Put(ctx context.Context, e *model.CacheEntry) error {
	if e.Train == nil || e.Test == nil {
		return fmt.Errorf("put %s: missing train or test table", e.Signature)
	}
	columns := e.Train.Columns
	if !sameColumns(columns, e.Test.Columns) {
		return fmt.Errorf("put %s: train and test columns differ", e.Signature)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_rows WHERE signature = ?`, e.Signature); err != nil {
		return fmt.Errorf("clear rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE signature = ?`, e.Signature); err != nil {
		return fmt.Errorf("clear entry: %w", err)
	}

	sourcesJSON, _ := json.Marshal(e.Sources)
	columnsJSON, _ := json.Marshal(columns)
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO entries (
		signature, schema_ver, sources, feature_set, label_col, columns,
		train_rows, test_rows, created_at, complete
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		e.Signature, store.SchemaVersion, string(sourcesJSON), e.FeatureSet, e.LabelColumn,
		string(columnsJSON), e.Train.Len(), e.Test.Len(), created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO feature_rows (
		signature, split, pos, seq, interface, timestamp,
		arbitration_id, dlc, data, label, class, features
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare rows: %w", err)
	}
	defer stmt.Close()

	for split, t := range []*model.Table{splitTrain: e.Train, splitTest: e.Test} {
		for pos := range t.Rows {
			r := &t.Rows[pos]
			_, err := stmt.ExecContext(ctx,
				e.Signature, split, pos, r.Seq, r.Interface, r.Timestamp,
				int64(r.ArbitrationID), r.DLC, r.Data, r.Label, r.Class,
				encodeFeatures(r.Features),
			)
			if err != nil {
				return fmt.Errorf("insert row %d: %w", pos, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE entries SET complete = 1 WHERE signature = ?`, e.Signature); err != nil {
		return fmt.Errorf("publish entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes one entry and its rows.
func (s *SQLiteStore) Delete(ctx context.Context, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_rows WHERE signature = ?`, sig); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE signature = ?`, sig); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return tx.Commit()
}

// Purge removes every entry.
func (s *SQLiteStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_rows`); err != nil {
		return 0, fmt.Errorf("purge rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	return n, tx.Commit()
}

// ────────────────────────────────────────────────────────────────────────────────
// Reads
// ────────────────────────────────────────────────────────────────────────────────

// Get reads an entry within one transaction. Anything short of a complete,
// decodable entry under the current schema is a miss.
func (s *SQLiteStore) Get(ctx context.Context, sig string) (*model.CacheEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	e, err := s.load(ctx, tx, sig)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case errors.Is(err, store.ErrCorrupt), errors.Is(err, store.ErrSchemaMismatch):
		s.logger.Warn().Err(err).Str("signature", sig).Msg("Ignoring unusable cache entry")
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) load(ctx context.Context, tx *sql.Tx, sig string) (*model.CacheEntry, error) {
	var (
		schemaVer             int
		sourcesJSON, colsJSON string
		created               string
		trainRows, testRows   int
		complete              bool
	)
	e := &model.CacheEntry{Signature: sig}
	err := tx.QueryRowContext(ctx, `SELECT schema_ver, sources, feature_set, label_col, columns,
		train_rows, test_rows, created_at, complete
		FROM entries WHERE signature = ?`, sig).Scan(
		&schemaVer, &sourcesJSON, &e.FeatureSet, &e.LabelColumn, &colsJSON,
		&trainRows, &testRows, &created, &complete,
	)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("%w: %s is incomplete", store.ErrCorrupt, sig)
	}
	if schemaVer != store.SchemaVersion {
		return nil, fmt.Errorf("%w: entry v%d, want v%d", store.ErrSchemaMismatch, schemaVer, store.SchemaVersion)
	}

	var columns []string
	if err := json.Unmarshal([]byte(colsJSON), &columns); err != nil {
		return nil, fmt.Errorf("%w: columns: %v", store.ErrCorrupt, err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &e.Sources); err != nil {
		return nil, fmt.Errorf("%w: sources: %v", store.ErrCorrupt, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", store.ErrCorrupt, err)
	}

	e.Train = &model.Table{Columns: columns, Rows: make([]model.Row, 0, trainRows)}
	e.Test = &model.Table{Columns: columns, Rows: make([]model.Row, 0, testRows)}

	rows, err := tx.QueryContext(ctx, `SELECT split, pos, seq, interface, timestamp,
		arbitration_id, dlc, data, label, class, features
		FROM feature_rows WHERE signature = ? ORDER BY split, pos`, sig)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			split, pos int
			id         int64
			blob       []byte
			r          model.Row
		)
		if err := rows.Scan(&split, &pos, &r.Seq, &r.Interface, &r.Timestamp,
			&id, &r.DLC, &r.Data, &r.Label, &r.Class, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", store.ErrCorrupt, err)
		}
		if r.Features, err = decodeFeatures(blob, len(columns)); err != nil {
			return nil, err
		}
		r.ArbitrationID = uint32(id)

		var t *model.Table
		switch split {
		case splitTrain:
			t = e.Train
		case splitTest:
			t = e.Test
		default:
			return nil, fmt.Errorf("%w: unknown split %d", store.ErrCorrupt, split)
		}
		if pos != len(t.Rows) {
			return nil, fmt.Errorf("%w: row gap at split %d pos %d", store.ErrCorrupt, split, pos)
		}
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if e.Train.Len() != trainRows || e.Test.Len() != testRows {
		return nil, fmt.Errorf("%w: expected %d/%d rows, found %d/%d",
			store.ErrCorrupt, trainRows, testRows, e.Train.Len(), e.Test.Len())
	}
	return e, nil
}

// List summarises complete entries.
func (s *SQLiteStore) List(ctx context.Context) ([]model.EntryInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT signature, sources, feature_set,
		train_rows, test_rows, created_at
		FROM entries WHERE complete = 1 AND schema_ver = ? ORDER BY created_at`, store.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []model.EntryInfo
	for rows.Next() {
		var info model.EntryInfo
		var sourcesJSON, created string
		if err := rows.Scan(&info.Signature, &sourcesJSON, &info.FeatureSet,
			&info.TrainRows, &info.TestRows, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(sourcesJSON), &info.Sources)
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ────────────────────────────────────────────────────────────────────────────────
// Feature encoding
// ────────────────────────────────────────────────────────────────────────────────

func encodeFeatures(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeFeatures(buf []byte, n int) ([]float64, error) {
	if len(buf) != 8*n {
		return nil, fmt.Errorf("%w: feature blob has %d bytes, want %d", store.ErrCorrupt, len(buf), 8*n)
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
