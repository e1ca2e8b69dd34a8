// Package journal persists synthesis records in SQLite so request history
// survives restarts. An ephemeral store is a no-op shell with the same API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cadenza-labs/synthd/internal/config"
	"github.com/cadenza-labs/synthd/internal/metrics"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite-backed synthesis journal.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    profile TEXT NOT NULL,
    model_id TEXT,
    transport TEXT,
    engine TEXT,
    device TEXT,
    control_hash TEXT,
    success INTEGER NOT NULL,
    error TEXT,
    wall_time REAL,
    duration REAL,
    rtf REAL,
    target_frames INTEGER,
    put_count INTEGER,
    chunk_count INTEGER,
    total_samples INTEGER,
    first_chunk_ms REAL,
    output_path TEXT,
    file_size INTEGER
);
CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes a synthesis record into the journal.
func (s *Store) Append(ctx context.Context, rec metrics.Record) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	created := rec.Timestamp
	if created.IsZero() {
		created = s.clock().UTC()
	}
	var firstChunk sql.NullFloat64
	if rec.FirstChunkMS != nil {
		firstChunk = sql.NullFloat64{Float64: *rec.FirstChunkMS, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records(request_id, created_at, profile, model_id, transport, engine, device, control_hash,
		                     success, error, wall_time, duration, rtf, target_frames,
		                     put_count, chunk_count, total_samples, first_chunk_ms, output_path, file_size)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, created, rec.Profile, rec.ModelID, rec.Transport, rec.Engine, rec.Device, rec.Fingerprint,
		rec.Success, rec.Error, rec.WallTimeSec, rec.DurationSec, rec.RTF, rec.TargetFrames,
		rec.Puts, rec.Chunks, rec.TotalSamples, firstChunk, rec.OutputPath, rec.FileSize)
	return err
}

// Consume lets the store act as a metrics sink. Journal failures never
// bubble into the request path.
func (s *Store) Consume(rec metrics.Record) {
	if err := s.Append(context.Background(), rec); err != nil {
		s.log.Warn("journal append failed",
			slog.String("request_id", rec.RequestID),
			slog.String("error", err.Error()))
	}
}

// Recent retrieves up to limit records ordered ascending by time.
func (s *Store) Recent(ctx context.Context, limit int) ([]metrics.Record, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, created_at, profile, model_id, transport, engine, device, control_hash,
		        success, error, wall_time, duration, rtf, target_frames,
		        put_count, chunk_count, total_samples, first_chunk_ms, output_path, file_size
		 FROM records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []metrics.Record
	for rows.Next() {
		var rec metrics.Record
		var created string
		var firstChunk sql.NullFloat64
		if err := rows.Scan(&rec.RequestID, &created, &rec.Profile, &rec.ModelID, &rec.Transport,
			&rec.Engine, &rec.Device, &rec.Fingerprint, &rec.Success, &rec.Error, &rec.WallTimeSec, &rec.DurationSec,
			&rec.RTF, &rec.TargetFrames, &rec.Puts, &rec.Chunks, &rec.TotalSamples,
			&firstChunk, &rec.OutputPath, &rec.FileSize); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.Timestamp = ts
		}
		if firstChunk.Valid {
			v := firstChunk.Float64
			rec.FirstChunkMS = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows come newest-first; callers expect chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM records WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE id IN (
			SELECT id FROM records ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
