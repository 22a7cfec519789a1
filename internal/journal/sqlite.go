package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	indexQueueSize = 16384
	commitEvery    = 500
	commitMaxWait  = 500 * time.Millisecond
)

// SQLiteIndex mirrors journal records into an `edits` table. Writes go
// through a buffered channel drained by one goroutine; when the writer falls
// behind records are dropped, the JSONL files stay the source of truth.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
	written atomic.Uint64
}

type req struct {
	record Record
	sync   chan struct{}
}

// IndexStats reports the writer queue.
type IndexStats struct {
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
	Written       uint64 `json:"written"`
	Dropped       uint64 `json:"dropped"`
	Failed        uint64 `json:"failed"`
}

// OpenSQLite opens or creates the index at path. logger may be nil.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &SQLiteIndex{
		db:     db,
		logger: logger.With("component", "journal-index"),
		ch:     make(chan req, indexQueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS edits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			time TEXT NOT NULL,
			owner TEXT NOT NULL,
			action TEXT NOT NULL,
			kind TEXT NOT NULL,
			volume INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			error TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_owner_seq ON edits(owner, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Write queues r without blocking.
func (s *SQLiteIndex) Write(r Record) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{record: r}:
	default:
		s.dropped.Add(1)
	}
}

// Sync blocks until every record queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{sync: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() IndexStats {
	return IndexStats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Recent returns up to limit records, newest first. An empty owner matches
// every owner.
func (s *SQLiteIndex) Recent(ctx context.Context, owner string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}

	query := `SELECT raw_json FROM edits ORDER BY seq DESC LIMIT ?`
	args := []any{limit}
	if owner != "" {
		query = `SELECT raw_json FROM edits WHERE owner = ? ORDER BY seq DESC LIMIT ?`
		args = []any{owner, limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edits: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode edit: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertEdit = `INSERT OR IGNORE INTO edits(id,time,owner,action,kind,volume,applied,error,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`

// loop batches inserts into transactions. A failed insert only undoes its
// own statement, so the rest of the batch stays. Records are counted as
// written once their transaction commits.
func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx         *sql.Tx
		pending    int
		lastCommit = time.Now()
	)

	begin := func() bool {
		if tx != nil {
			return true
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.logger.Warn("begin index transaction", "error", err)
			return false
		}
		tx = txx
		pending = 0
		lastCommit = time.Now()
		return true
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(pending))
			s.logger.Warn("commit index batch", "records", pending, "error", err)
		} else {
			s.written.Add(uint64(pending))
		}
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}

	// The open transaction holds the only connection, so it is committed on
	// a timer as well as by size.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}
		if !ok {
			break
		}
		if r.sync != nil {
			commit()
			close(r.sync)
			continue
		}

		if !begin() {
			s.failed.Add(1)
			continue
		}
		rec := r.record
		raw, _ := json.Marshal(rec)
		var errText any
		if rec.Error != "" {
			errText = rec.Error
		}
		if _, err := tx.ExecContext(ctx, insertEdit,
			rec.ID,
			rec.Time.UTC().Format(time.RFC3339Nano),
			rec.Owner,
			string(rec.Action),
			rec.Kind,
			rec.Volume,
			rec.Applied,
			errText,
			string(raw),
		); err != nil {
			s.failed.Add(1)
			s.logger.Warn("index journal record", "id", rec.ID, "error", err)
			continue
		}
		pending++
		if pending >= commitEvery {
			commit()
		}
	}

	commit()
}
