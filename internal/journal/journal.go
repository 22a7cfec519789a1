// Package journal keeps an audit trail of edit activity: compressed JSONL
// files rotated hourly, optionally indexed in SQLite for queries.
package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"voxeledit/internal/config"
	"voxeledit/internal/edit"
)

var ErrNoIndex = errors.New("journal has no index")

// Record is one journal line.
type Record struct {
	ID string `json:"id"`
	edit.Entry
}

// Journal implements edit.Journal.
type Journal struct {
	logger *slog.Logger
	writer *JSONLZstdWriter
	index  *SQLiteIndex
	newID  func() string
}

// Open creates the journal described by cfg. The SQLite index is only
// opened when cfg.SQLitePath is set.
func Open(cfg config.JournalConfig, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	j := &Journal{
		logger: logger.With("component", "journal"),
		writer: NewJSONLZstdWriter(filepath.Clean(cfg.Dir), "edits"),
		newID:  uuid.NewString,
	}
	if cfg.SQLitePath != "" {
		index, err := OpenSQLite(cfg.SQLitePath, j.logger)
		if err != nil {
			return nil, err
		}
		j.index = index
	}
	return j, nil
}

func (j *Journal) Record(entry edit.Entry) {
	r := Record{ID: j.newID(), Entry: entry}
	if err := j.writer.Write(r); err != nil {
		j.logger.Warn("write journal entry", "owner", entry.Owner, "action", entry.Action, "error", err)
	}
	j.index.Write(r)
}

// Recent returns the newest records, optionally for one owner.
func (j *Journal) Recent(ctx context.Context, owner string, limit int) ([]Record, error) {
	if j.index == nil {
		return nil, ErrNoIndex
	}
	return j.index.Recent(ctx, owner, limit)
}

// Stats reports the index queue, or false when there is no index.
func (j *Journal) Stats() (IndexStats, bool) {
	if j.index == nil {
		return IndexStats{}, false
	}
	return j.index.Stats(), true
}

func (j *Journal) Close() error {
	var errs []error
	errs = append(errs, j.writer.Close())
	if j.index != nil {
		errs = append(errs, j.index.Close())
	}
	return errors.Join(errs...)
}
