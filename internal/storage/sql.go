package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inquisitor/internal/jobs"
	logx "inquisitor/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store for both SQL drivers. Queries are written with '?'
// placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

var _ Store = (*sqlStore)(nil)

func errDuplicate(kind, id string) error {
	return fmt.Errorf("storage: %s %q already exists", kind, id)
}

// rebind turns '?' placeholders into '$n' for postgres.
func rebind(d dialect, q string) string {
	if d != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) q(query string) string { return rebind(s.dialect, query) }

func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateBatch(ctx context.Context, b jobs.Batch) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO batches(batch_id, status, started_at, completed_at) VALUES(?,?,?,?)`),
		b.ID, int(b.Status), b.StartedAt.UnixMilli(), nullMillis(b.CompletedAt))
	if err != nil {
		return fmt.Errorf("storage: create batch: %w", err)
	}
	return nil
}

func (s *sqlStore) GetBatch(ctx context.Context, id string) (jobs.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT batch_id, status, started_at, completed_at FROM batches WHERE batch_id = ?`), id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Batch{}, ErrNotFound
	}
	if err != nil {
		return jobs.Batch{}, fmt.Errorf("storage: get batch: %w", err)
	}
	return b, nil
}

func (s *sqlStore) UpdateBatchStatus(ctx context.Context, id string, st jobs.Status, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if st.Terminal() {
		res, err = s.db.ExecContext(ctx,
			s.q(`UPDATE batches SET status = ?, completed_at = ? WHERE batch_id = ? AND status < ? AND status < 2`),
			int(st), at.UnixMilli(), id, int(st))
	} else {
		res, err = s.db.ExecContext(ctx,
			s.q(`UPDATE batches SET status = ? WHERE batch_id = ? AND status < ? AND status < 2`),
			int(st), id, int(st))
	}
	if err != nil {
		return false, fmt.Errorf("storage: update batch: %w", err)
	}
	return s.changedOrMissing(ctx, res, `SELECT 1 FROM batches WHERE batch_id = ?`, id)
}

func (s *sqlStore) ListOpenBatches(ctx context.Context) ([]jobs.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, status, started_at, completed_at FROM batches WHERE status < 2 ORDER BY started_at, batch_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list open batches: %w", err)
	}
	defer rows.Close()
	out := make([]jobs.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list open batches: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateJob(ctx context.Context, j jobs.Job) error {
	data := j.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO jobs(job_id, batch_id, job_name, status, data, created_at) VALUES(?,?,?,?,?,?)`),
		j.ID, j.BatchID, j.Name, int(j.Status), data, j.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: create job: %w", err)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT job_id, batch_id, job_name, status, data, created_at FROM jobs WHERE job_id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, ErrNotFound
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return j, nil
}

func (s *sqlStore) UpdateJobStatus(ctx context.Context, id string, st jobs.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE jobs SET status = ? WHERE job_id = ? AND status < ? AND status < 2`),
		int(st), id, int(st))
	if err != nil {
		return false, fmt.Errorf("storage: update job: %w", err)
	}
	return s.changedOrMissing(ctx, res, `SELECT 1 FROM jobs WHERE job_id = ?`, id)
}

func (s *sqlStore) ListBatchJobs(ctx context.Context, batchID string) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT job_id, batch_id, job_name, status, data, created_at FROM jobs WHERE batch_id = ? ORDER BY created_at, job_id`),
		batchID)
	if err != nil {
		return nil, fmt.Errorf("storage: list batch jobs: %w", err)
	}
	defer rows.Close()
	out := make([]jobs.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list batch jobs: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// changedOrMissing turns a zero-row CAS into either a no-op or ErrNotFound.
func (s *sqlStore) changedOrMissing(ctx context.Context, res sql.Result, probe, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, s.q(probe), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(r scanner) (jobs.Batch, error) {
	var (
		b         jobs.Batch
		st        int
		started   int64
		completed sql.NullInt64
	)
	if err := r.Scan(&b.ID, &st, &started, &completed); err != nil {
		return jobs.Batch{}, err
	}
	b.Status = jobs.Status(st)
	b.StartedAt = time.UnixMilli(started).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		b.CompletedAt = &t
	}
	return b, nil
}

func scanJob(r scanner) (jobs.Job, error) {
	var (
		j       jobs.Job
		st      int
		created int64
	)
	if err := r.Scan(&j.ID, &j.BatchID, &j.Name, &st, &j.Data, &created); err != nil {
		return jobs.Job{}, err
	}
	j.Status = jobs.Status(st)
	j.CreatedAt = time.UnixMilli(created).UTC()
	return j, nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
