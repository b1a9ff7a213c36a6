// Package pgstore implements store.Store on PostgreSQL with pgx.
//
// Unique violations (SQLSTATE 23505) are the only concurrency control: two
// writers racing on the same link or keyword text get ErrConflict and resolve
// it through the catalog's retry path. Every statement runs in its own
// implicit transaction.
package pgstore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/logging"
	"jobinsight/discovery-service/internal/model"
	"jobinsight/discovery-service/internal/store"
)

const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
)

// Store is a store.Store backed by a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps pool. The pool is closed by Close.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.Named("pgstore")}
}

// Close closes the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// classify wraps a driver error and marks it with the store taxonomy.
func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Mark(wrapped, errors.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateUniqueViolation:
			return errors.Mark(wrapped, errors.ErrConflict)
		case sqlstateForeignKeyViolation:
			return errors.Mark(wrapped, errors.ErrNotFound)
		}
	}
	if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
		return wrapped
	}
	return errors.Mark(wrapped, errors.ErrTransientStore)
}

// ─── Keywords ────────────────────────────────────────────────────────────────

func (s *Store) FindKeyword(ctx context.Context, text string) (model.Keyword, error) {
	var kw model.Keyword
	err := s.pool.QueryRow(ctx,
		`SELECT id, text FROM keyword WHERE text = $1`, text,
	).Scan(&kw.ID, &kw.Text)
	if err != nil {
		return model.Keyword{}, classify(err, "find keyword %q", text)
	}
	return kw, nil
}

func (s *Store) InsertKeyword(ctx context.Context, text string) (model.Keyword, error) {
	var kw model.Keyword
	err := s.pool.QueryRow(ctx,
		`INSERT INTO keyword (text) VALUES ($1) RETURNING id, text`, text,
	).Scan(&kw.ID, &kw.Text)
	if err != nil {
		return model.Keyword{}, classify(err, "insert keyword %q", text)
	}
	return kw, nil
}

func (s *Store) DeleteKeyword(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM keyword WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete keyword %d", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrNotFound, "keyword %d", id)
	}
	return nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

const jobColumns = `id, title, salary, requirements, link, scraped_at`

func scanJob(row pgx.Row, extra ...any) (model.Job, error) {
	var (
		j    model.Job
		reqs string
	)
	dest := append([]any{&j.ID, &j.Title, &j.Salary, &reqs, &j.Link, &j.ScrapedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Job{}, err
	}
	j.Requirements = decodeRequirements(reqs)
	return j, nil
}

// Requirements are stored as a JSON array in a TEXT column. Rows written by
// older tooling hold a "-"-joined list, which is still readable.
func encodeRequirements(reqs []string) string {
	if len(reqs) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(reqs)
	return string(b)
}

func decodeRequirements(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	if s == "" {
		return nil
	}
	return strings.Split(s, "-")
}

func (s *Store) InsertJob(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO job (title, salary, requirements, link, scraped_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+jobColumns,
		in.Title, in.Salary, encodeRequirements(in.Requirements), in.Link, at,
	))
	if err != nil {
		return model.Job{}, classify(err, "insert job %q", in.Link)
	}
	return job, nil
}

func (s *Store) UpdateJobByLink(ctx context.Context, in store.JobInput, at time.Time) (model.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE job
		 SET title = $1, salary = $2, requirements = $3, scraped_at = $5
		 WHERE link = $4
		 RETURNING `+jobColumns,
		in.Title, in.Salary, encodeRequirements(in.Requirements), in.Link, at,
	))
	if err != nil {
		return model.Job{}, classify(err, "update job %q", in.Link)
	}
	return job, nil
}

func (s *Store) FindJobByLink(ctx context.Context, link string) (model.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job WHERE link = $1`, link,
	))
	if err != nil {
		return model.Job{}, classify(err, "find job %q", link)
	}
	return job, nil
}

func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete job %d", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %d", id)
	}
	return nil
}

// ─── Relations ───────────────────────────────────────────────────────────────

func (s *Store) TouchRelation(ctx context.Context, keywordID, jobID int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE keyword_job
		 SET last_update = GREATEST(last_update, $3)
		 WHERE keyword_id = $1 AND job_id = $2`,
		keywordID, jobID, at,
	)
	if err != nil {
		return false, classify(err, "touch relation (%d, %d)", keywordID, jobID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertRelation(ctx context.Context, keywordID, jobID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO keyword_job (keyword_id, job_id, last_update) VALUES ($1, $2, $3)`,
		keywordID, jobID, at,
	)
	return classify(err, "insert relation (%d, %d)", keywordID, jobID)
}

func (s *Store) ListRelatedJobs(ctx context.Context, keywordID int64) ([]model.RelatedJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT j.id, j.title, j.salary, j.requirements, j.link, j.scraped_at, kj.last_update
		 FROM keyword_job kj
		 JOIN job j ON j.id = kj.job_id
		 WHERE kj.keyword_id = $1
		 ORDER BY j.id`,
		keywordID,
	)
	if err != nil {
		return nil, classify(err, "list related jobs for keyword %d", keywordID)
	}
	defer rows.Close()

	out := make([]model.RelatedJob, 0)
	for rows.Next() {
		var r model.RelatedJob
		job, err := scanJob(rows, &r.LastUpdate)
		if err != nil {
			return nil, classify(err, "scan related job")
		}
		r.Job = job
		out = append(out, r)
	}
	return out, classify(rows.Err(), "iterate related jobs")
}

func (s *Store) DeleteRelations(ctx context.Context, keywordID, jobID int64) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if keywordID != 0 {
		args = append(args, keywordID)
		conds = append(conds, "keyword_id = $1")
	}
	if jobID != 0 {
		args = append(args, jobID)
		conds = append(conds, "job_id = $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM keyword_job WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, classify(err, "delete relations")
	}
	return tag.RowsAffected(), nil
}

// ─── Queue ───────────────────────────────────────────────────────────────────

const itemColumns = `id, keyword, requester_id, status, created_at, claimed_at, processed_at`

func scanItem(row pgx.Row) (model.QueueItem, error) {
	var (
		it     model.QueueItem
		status string
	)
	if err := row.Scan(&it.ID, &it.Keyword, &it.RequesterID, &status,
		&it.CreatedAt, &it.ClaimedAt, &it.ProcessedAt); err != nil {
		return model.QueueItem{}, err
	}
	st, err := model.ParseQueueStatus(status)
	if err != nil {
		return model.QueueItem{}, err
	}
	it.Status = st
	return it, nil
}

func (s *Store) EnqueueItem(ctx context.Context, keyword string, requesterID *string, at time.Time) (model.QueueItem, error) {
	it, err := scanItem(s.pool.QueryRow(ctx,
		`INSERT INTO queue_item (keyword, requester_id, status, created_at)
		 VALUES ($1, $2, 'pending', $3)
		 RETURNING `+itemColumns,
		keyword, requesterID, at,
	))
	if err != nil {
		return model.QueueItem{}, classify(err, "enqueue %q", keyword)
	}
	return it, nil
}

func (s *Store) ClaimPending(ctx context.Context, max int, leaseExpiry, at time.Time) ([]model.QueueItem, error) {
	return s.claim(ctx,
		`UPDATE queue_item SET status = 'processing', claimed_at = $3
		 WHERE id IN (
		   SELECT id FROM queue_item
		   WHERE status = 'pending'
		      OR (status = 'processing' AND claimed_at < $2)
		   ORDER BY created_at, id
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		max, leaseExpiry, at,
	)
}

func (s *Store) ClaimPendingByKeyword(ctx context.Context, keyword string, at time.Time) ([]model.QueueItem, error) {
	return s.claim(ctx,
		`UPDATE queue_item SET status = 'processing', claimed_at = $2
		 WHERE id IN (
		   SELECT id FROM queue_item
		   WHERE status = 'pending' AND keyword = $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		keyword, at,
	)
}

func (s *Store) claim(ctx context.Context, sql string, args ...any) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "claim queue items")
	}
	defer rows.Close()

	items := make([]model.QueueItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify(err, "scan queue item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate queue items")
	}
	// RETURNING does not preserve the subquery's order.
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) MarkDone(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_item SET status = 'done', processed_at = $2
		 WHERE id = $1 AND status <> 'done'`,
		id, at,
	)
	if err != nil {
		return classify(err, "mark queue item %d done", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("queue item already done", zap.Int64(logging.FieldQueueItemID, id))
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (model.QueueItem, error) {
	it, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM queue_item WHERE id = $1`, id,
	))
	if err != nil {
		return model.QueueItem{}, classify(err, "get queue item %d", id)
	}
	return it, nil
}
