package xjob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite 驱动
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT    NOT NULL UNIQUE,
	type         TEXT    NOT NULL,
	tenant       TEXT    NOT NULL DEFAULT '',
	payload      BLOB,
	priority     INTEGER NOT NULL,
	status       TEXT    NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	idem         TEXT,
	result       BLOB,
	error        TEXT    NOT NULL DEFAULT '',
	exhausted    INTEGER NOT NULL DEFAULT 0,
	cancel       INTEGER NOT NULL DEFAULT 0,
	lease_owner  TEXT    NOT NULL DEFAULT '',
	lease_until  INTEGER NOT NULL DEFAULT 0,
	run_at       INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL DEFAULT 0,
	UNIQUE (tenant, idem)
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready    ON jobs(status, priority, seq);
CREATE INDEX IF NOT EXISTS idx_jobs_run_at   ON jobs(status, run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_lease    ON jobs(status, lease_until);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(status, finished_at);
`

const jobColumns = `id, type, tenant, payload, priority, seq, status, attempts, max_attempts,
	COALESCE(idem, ''), result, error, exhausted, cancel, lease_owner, lease_until, run_at,
	created_at, updated_at, finished_at`

// SQLiteStore 单实例持久化存储，进程重启后任务状态保留
//
// 设计决策: 只开一个连接（SQLite 单写者），所有状态转换在事务内完成，
// 因此无需额外的进程内锁。
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore 打开或创建数据库文件，启用 WAL
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("xjob: sqlite path must not be empty")
	}
	dsn := path
	if !strings.HasPrefix(path, ":memory:") && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("xjob: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("xjob: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Add(ctx context.Context, job *Job) (*Job, bool, error) {
	var (
		stored  *Job
		created bool
	)
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if job.IdempotencyKey != "" {
			existing, err := scanJob(tx.QueryRowContext(ctx,
				`SELECT `+jobColumns+` FROM jobs WHERE tenant = ? AND idem = ?`, job.Tenant, job.IdempotencyKey))
			if err == nil {
				stored = existing
				return nil
			}
			if !errors.Is(err, ErrJobNotFound) {
				return err
			}
		}
		status := StatusWaiting
		if job.Status == StatusDelayed {
			status = StatusDelayed
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO jobs
			(id, type, tenant, payload, priority, status, max_attempts, idem, run_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Type, job.Tenant, job.Payload, job.Priority, string(status), job.MaxAttempts,
			nullString(job.IdempotencyKey), ms(job.RunAt), ms(job.CreatedAt), ms(job.UpdatedAt))
		if err != nil {
			return err
		}
		stored, err = getTx(ctx, tx, job.ID)
		created = true
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("xjob: sqlite add: %w", err)
	}
	return stored, created, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("xjob: sqlite get: %w", err)
	}
	return j, err
}

func (s *SQLiteStore) Claim(ctx context.Context, owner string, now time.Time, lease time.Duration) (*Job, error) {
	var claimed *Job
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'waiting', updated_at = ? WHERE status = 'delayed' AND run_at <= ?`,
			ms(now), ms(now)); err != nil {
			return err
		}
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = 'waiting' ORDER BY priority, seq LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoJob
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'active', attempts = attempts + 1,
			lease_owner = ?, lease_until = ?, updated_at = ? WHERE id = ?`,
			owner, ms(now.Add(lease)), ms(now), id); err != nil {
			return err
		}
		claimed, err = getTx(ctx, tx, id)
		return err
	})
	if errors.Is(err, ErrNoJob) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("xjob: sqlite claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, id, owner string, until time.Time) (bool, error) {
	var cancel bool
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET lease_until = ?
			WHERE id = ? AND status = 'active' AND lease_owner = ?`, ms(until), id, owner)
		if err := leaseAffected(res, err); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT cancel FROM jobs WHERE id = ?`, id).Scan(&cancel)
	})
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return false, fmt.Errorf("xjob: sqlite heartbeat: %w", err)
	}
	return cancel, err
}

func (s *SQLiteStore) Complete(ctx context.Context, id, owner string, result []byte, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', result = ?, error = '',
		lease_owner = '', lease_until = 0, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = 'active' AND lease_owner = ?`,
		result, ms(now), ms(now), id, owner)
	return wrapLease("complete", leaseAffected(res, err))
}

func (s *SQLiteStore) Fail(ctx context.Context, id, owner string, p FailParams, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	if p.RetryAt != nil {
		res, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = 'delayed', error = ?, run_at = ?,
			lease_owner = '', lease_until = 0, updated_at = ?
			WHERE id = ? AND status = 'active' AND lease_owner = ?`,
			p.Message, ms(*p.RetryAt), ms(now), id, owner)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = 'failed', error = ?, exhausted = ?,
			lease_owner = '', lease_until = 0, updated_at = ?, finished_at = ?
			WHERE id = ? AND status = 'active' AND lease_owner = ?`,
			p.Message, p.Exhausted, ms(now), ms(now), id, owner)
	}
	return wrapLease("fail", leaseAffected(res, err))
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string, now time.Time) (CancelResult, error) {
	var result CancelResult
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		switch Status(status) {
		case StatusWaiting, StatusDelayed:
			result = CancelRemoved
			_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		case StatusActive:
			result = CancelSignalled
			_, err = tx.ExecContext(ctx, `UPDATE jobs SET cancel = 1, updated_at = ? WHERE id = ?`, ms(now), id)
		default:
			result = CancelNotCancellable
		}
		return err
	})
	if errors.Is(err, ErrJobNotFound) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("xjob: sqlite cancel: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) ReclaimStalled(ctx context.Context, now time.Time) (ReclaimResult, error) {
	var out ReclaimResult
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', error = ?, exhausted = 1,
			lease_owner = '', lease_until = 0, updated_at = ?, finished_at = ?
			WHERE status = 'active' AND lease_until < ? AND attempts >= max_attempts`,
			stalledMessage, ms(now), ms(now), ms(now))
		if err != nil {
			return err
		}
		failed, _ := res.RowsAffected()
		res, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'waiting',
			lease_owner = '', lease_until = 0, updated_at = ?
			WHERE status = 'active' AND lease_until < ?`, ms(now), ms(now))
		if err != nil {
			return err
		}
		requeued, _ := res.RowsAffected()
		out = ReclaimResult{Requeued: int(requeued), Failed: int(failed)}
		return nil
	})
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("xjob: sqlite reclaim: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, completedBefore, failedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs
		WHERE (status = 'completed' AND finished_at < ?) OR (status = 'failed' AND finished_at < ?)`,
		ms(completedBefore), ms(failedBefore))
	if err != nil {
		return 0, fmt.Errorf("xjob: sqlite purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("xjob: sqlite counts: %w", err)
	}
	defer rows.Close()
	var c Counts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("xjob: sqlite counts: %w", err)
		}
		switch Status(status) {
		case StatusWaiting:
			c.Waiting = n
		case StatusActive:
			c.Active = n
		case StatusDelayed:
			c.Delayed = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                                   Job
		status                                              string
		leaseUntil, runAt, createdAt, updatedAt, finishedAt int64
	)
	err := row.Scan(&j.ID, &j.Type, &j.Tenant, &j.Payload, &j.Priority, &j.Seq, &status,
		&j.AttemptsMade, &j.MaxAttempts, &j.IdempotencyKey, &j.Result, &j.Error, &j.Exhausted,
		&j.CancelRequested, &j.LeaseOwner, &leaseUntil, &runAt, &createdAt, &updatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.LeaseUntil = fromMS(leaseUntil)
	j.RunAt = fromMS(runAt)
	j.CreatedAt = fromMS(createdAt)
	j.UpdatedAt = fromMS(updatedAt)
	j.FinishedAt = fromMS(finishedAt)
	return &j, nil
}

func leaseAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func wrapLease(op string, err error) error {
	if err == nil || errors.Is(err, ErrLeaseLost) {
		return err
	}
	return fmt.Errorf("xjob: sqlite %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
