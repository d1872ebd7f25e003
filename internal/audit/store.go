// Package audit keeps an append-only SQLite log of finished turns. The log
// is for operators; the turn pipeline never reads it back.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"petassist/internal/bus"
	"petassist/internal/domain"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one turn. A missing turn id gets a fresh one.
func (s *Store) Record(ctx context.Context, r domain.TurnRecord) error {
	if r.TurnID == "" {
		r.TurnID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, channel, chat_id, sender_id, kind, label, branch, product_id, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TurnID, r.Channel, r.ChatID, r.SenderID, string(r.Kind), r.Label, r.Branch, r.ProductID,
		r.LatencyMs, r.Error, r.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record turn %s: %w", r.TurnID, err)
	}
	return nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, channel, chat_id, sender_id, kind, label, branch, product_id, latency_ms, error, created_at
		 FROM turns ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TurnRecord
	for rows.Next() {
		var r domain.TurnRecord
		var kind string
		if err := rows.Scan(&r.TurnID, &r.Channel, &r.ChatID, &r.SenderID, &kind, &r.Label, &r.Branch,
			&r.ProductID, &r.LatencyMs, &r.Error, &r.At); err != nil {
			return nil, err
		}
		r.Kind = domain.MessageKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByLabel returns the number of logged turns per label since the given time.
func (s *Store) CountByLabel(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, COUNT(*) FROM turns WHERE created_at >= ? GROUP BY label`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}

// Subscribe writes every turn event on eb to the store. Write failures are
// logged and never reach the turn.
func (s *Store) Subscribe(eb *bus.EventBus) func() {
	handler := func(e bus.Event) {
		if e.Turn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, *e.Turn); err != nil {
			s.logger.Warn("audit write failed", "turn", e.Turn.TurnID, "error", err)
		}
	}
	done := eb.On(bus.EventTurnCompleted, handler)
	failed := eb.On(bus.EventTurnFailed, handler)
	return func() {
		eb.Off(bus.EventTurnCompleted, done)
		eb.Off(bus.EventTurnFailed, failed)
	}
}
