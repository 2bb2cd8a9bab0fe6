package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "namazbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, sub Subscriber) (bool, error) {
	if sub.ChatID == 0 {
		return false, ErrBadChatID
	}
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, username, first_name, subscribed_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		sub.ChatID, nullStr(sub.Username), nullStr(sub.FirstName), sub.SubscribedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	// Known chat: refresh the display fields only.
	_, err = s.db.ExecContext(ctx,
		`UPDATE subscribers SET username = ?, first_name = ? WHERE chat_id = ?`,
		nullStr(sub.Username), nullStr(sub.FirstName), sub.ChatID,
	)
	return false, err
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, COALESCE(username, ''), COALESCE(first_name, ''), subscribed_at
		 FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var (
			sub Subscriber
			at  string
		)
		if err := rows.Scan(&sub.ChatID, &sub.Username, &sub.FirstName, &at); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			sub.SubscribedAt = t
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, record_id, chat_id, kind, date, event_time, state, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		d.At.Format(time.RFC3339Nano), d.RecordID, d.ChatID, d.Kind, d.Date,
		d.EventTime.Format(time.RFC3339), d.State, nullStr(d.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
