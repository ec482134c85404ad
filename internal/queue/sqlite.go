package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "inquisitor/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sqlitePruneEvery = 500

// sqliteChannel stores messages in one table keyed by channel name, so the job and
// status channels can share a database file.
type sqliteChannel struct {
	db     *sql.DB
	name   string
	vis    time.Duration
	window time.Duration
	log    logx.Logger
	now    func() time.Time

	opCount atomic.Uint64
	closed  atomic.Bool
}

var _ Channel = (*sqliteChannel)(nil)

func openSQLite(cfg Config, name string, log logx.Logger) (Channel, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("queue: sqlite path is required")
	}
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

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	c, err := newSQLiteChannel(db, name, cfg, log, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func newSQLiteChannel(db *sql.DB, name string, cfg Config, log logx.Logger, now func() time.Time) (*sqliteChannel, error) {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		return nil, fmt.Errorf("queue/sqlite: migrate: %w", err)
	}
	return &sqliteChannel{db: db, name: name, vis: cfg.Visibility, window: cfg.DedupWindow, log: log, now: now}, nil
}

func (c *sqliteChannel) Enqueue(ctx context.Context, m Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	now := c.now()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue/sqlite: enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.DedupKey != "" {
		var until int64
		err := tx.QueryRowContext(ctx,
			`SELECT expires_at FROM queue_dedup WHERE channel = ? AND dedup_key = ?`,
			c.name, m.DedupKey).Scan(&until)
		switch {
		case err == nil && until > now.UnixMilli():
			return tx.Commit()
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("queue/sqlite: dedup lookup: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_dedup(channel, dedup_key, expires_at) VALUES(?,?,?)
			 ON CONFLICT(channel, dedup_key) DO UPDATE SET expires_at = excluded.expires_at`,
			c.name, m.DedupKey, now.Add(c.window).UnixMilli()); err != nil {
			return fmt.Errorf("queue/sqlite: dedup record: %w", err)
		}
	}

	body := m.Body
	if body == nil {
		body = []byte{}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_messages(channel, partition_key, dedup_key, body, attempt, enqueued_at)
		 VALUES(?,?,?,?,?,?)`,
		c.name, m.PartitionKey, m.DedupKey, body, m.Attempt, now.UnixMilli()); err != nil {
		return fmt.Errorf("queue/sqlite: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue/sqlite: enqueue commit: %w", err)
	}

	if c.opCount.Add(1)%sqlitePruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if _, err := c.db.ExecContext(pctx, `DELETE FROM queue_dedup WHERE channel = ? AND expires_at <= ?`, c.name, now.UnixMilli()); err != nil {
			c.log.Debug("dedup prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

// Receive picks the oldest rows whose partition has nothing in flight. Rows are
// ordered by seq, so whatever is taken from a partition is always its head prefix.
func (c *sqliteChannel) Receive(ctx context.Context, max int) ([]Envelope, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if max <= 0 {
		max = 1
	}
	now := c.now()
	nowMS := now.UnixMilli()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: receive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT m.seq, m.partition_key, m.dedup_key, m.body, m.attempt
		FROM queue_messages m
		WHERE m.channel = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM queue_messages b
		    WHERE b.channel = m.channel
		      AND b.partition_key = m.partition_key
		      AND b.receipt IS NOT NULL
		      AND b.visible_at > ?)
		ORDER BY m.seq
		LIMIT ?`, c.name, nowMS, max)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: receive select: %w", err)
	}
	type picked struct {
		seq int64
		env Envelope
	}
	var list []picked
	for rows.Next() {
		var p picked
		if err := rows.Scan(&p.seq, &p.env.PartitionKey, &p.env.DedupKey, &p.env.Body, &p.env.Attempt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("queue/sqlite: receive scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Envelope{}, nil
	}

	visibleAt := now.Add(c.vis).UnixMilli()
	out := make([]Envelope, 0, len(list))
	for _, p := range list {
		receipt := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_messages SET receipt = ?, visible_at = ? WHERE seq = ?`,
			receipt, visibleAt, p.seq); err != nil {
			return nil, fmt.Errorf("queue/sqlite: receive mark: %w", err)
		}
		p.env.Receipt = receipt
		p.env.ReceivedAt = now
		out = append(out, p.env)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue/sqlite: receive commit: %w", err)
	}
	return out, nil
}

func (c *sqliteChannel) Ack(ctx context.Context, env Envelope) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if env.Receipt == "" {
		return ErrUnknownReceipt
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM queue_messages WHERE channel = ? AND receipt = ?`, c.name, env.Receipt)
	if err != nil {
		return fmt.Errorf("queue/sqlite: ack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue/sqlite: ack: %w", err)
	}
	if n == 0 {
		return ErrUnknownReceipt
	}
	return nil
}

func (c *sqliteChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}
