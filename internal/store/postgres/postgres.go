package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Stories() store.Stories       { return &stories{db: s.db} }
func (s *pgStore) Engagement() store.Engagement { return &engagement{db: s.db} }
func (s *pgStore) Tasks() store.Tasks           { return &tasks{db: s.db} }

// HealthPing implements health checking for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Stories ---

type stories struct{ db *sql.DB }

func (st *stories) Create(ctx context.Context, rec *model.StoryRecord, task *model.DeletionTask) error {
	tx, err := st.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO stories (story_id, owner_id, kind, visibility, caption, media_ref, encrypted, published, creation_time, expiry_time)
        VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8,$9)
    `, rec.StoryID, rec.OwnerID, string(rec.Kind), string(rec.Visibility), rec.Caption, rec.MediaRef,
		rec.Encrypted, rec.CreationTime, rec.ExpiryTime); err != nil {
		return err
	}

	for viewerID, wrapped := range rec.WrappedKeys {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO story_keys (story_id, viewer_id, wrapped_key) VALUES ($1,$2,$3)
        `, rec.StoryID, viewerID, wrapped); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO deletion_tasks (story_id, fire_time, status) VALUES ($1,$2,'pending')
    `, task.StoryID, task.FireTime); err != nil {
		return err
	}

	return tx.Commit()
}

func (st *stories) Publish(ctx context.Context, storyID string) error {
	res, err := st.db.ExecContext(ctx, `UPDATE stories SET published=TRUE WHERE story_id=$1`, storyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

const storyColumns = `story_id, owner_id, kind, visibility, caption, media_ref, encrypted, published,
               view_count, like_count, share_count, creation_time, expiry_time`

func scanStory(row interface{ Scan(...interface{}) error }) (*model.StoryRecord, error) {
	var rec model.StoryRecord
	var kind, visibility string
	if err := row.Scan(&rec.StoryID, &rec.OwnerID, &kind, &visibility, &rec.Caption, &rec.MediaRef,
		&rec.Encrypted, &rec.Published,
		&rec.Counters.Views, &rec.Counters.Likes, &rec.Counters.Shares,
		&rec.CreationTime, &rec.ExpiryTime); err != nil {
		return nil, err
	}
	rec.Kind = model.ContentKind(kind)
	rec.Visibility = model.Visibility(visibility)
	return &rec, nil
}

func (st *stories) Get(ctx context.Context, storyID string) (*model.StoryRecord, error) {
	row := st.db.QueryRowContext(ctx, `
        SELECT `+storyColumns+` FROM stories WHERE story_id=$1
    `, storyID)
	rec, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (st *stories) WrappedKey(ctx context.Context, storyID, viewerID string) ([]byte, error) {
	var wrapped []byte
	err := st.db.QueryRowContext(ctx, `
        SELECT wrapped_key FROM story_keys WHERE story_id=$1 AND viewer_id=$2
    `, storyID, viewerID).Scan(&wrapped)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish access denial from a missing story.
		var one int
		serr := st.db.QueryRowContext(ctx, `SELECT 1 FROM stories WHERE story_id=$1`, storyID).Scan(&one)
		if errors.Is(serr, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		if serr != nil {
			return nil, serr
		}
		return nil, model.ErrNotAViewer
	}
	if err != nil {
		return nil, err
	}
	return wrapped, nil
}

func (st *stories) Feed(ctx context.Context, req model.FeedRequest) ([]*model.StoryRecord, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE published AND expiry_time > $1`
	args := []interface{}{req.Now}
	n := 1
	if req.Visibility != "" {
		n++
		query += fmt.Sprintf(" AND visibility = $%d", n)
		args = append(args, string(req.Visibility))
	}
	if !req.AfterCreationTime.IsZero() {
		query += fmt.Sprintf(" AND (creation_time < $%d OR (creation_time = $%d AND story_id > $%d))", n+1, n+1, n+2)
		args = append(args, req.AfterCreationTime, req.AfterStoryID)
		n += 2
	}
	query += " ORDER BY creation_time DESC, story_id ASC"
	if req.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.PageSize)
	}

	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.StoryRecord
	for rows.Next() {
		rec, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (st *stories) Purge(ctx context.Context, storyID string) (string, bool, error) {
	tx, err := st.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var mediaRef string
	err = tx.QueryRowContext(ctx, `
        DELETE FROM stories WHERE story_id=$1 RETURNING media_ref
    `, storyID).Scan(&mediaRef)
	if errors.Is(err, sql.ErrNoRows) {
		// Already purged; commit the no-op so concurrent purges both succeed.
		return "", false, tx.Commit()
	}
	if err != nil {
		return "", false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM story_keys WHERE story_id=$1`, storyID); err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM engagement_events WHERE story_id=$1`, storyID); err != nil {
		return "", false, err
	}
	return mediaRef, true, tx.Commit()
}

// --- Engagement ---

type engagement struct{ db *sql.DB }

var counterColumn = map[model.EventKind]string{
	model.EventView:  "view_count",
	model.EventLike:  "like_count",
	model.EventShare: "share_count",
}

func (e *engagement) Record(ctx context.Context, storyID, viewerID string, kind model.EventKind) (bool, model.Counters, error) {
	col, ok := counterColumn[kind]
	if !ok {
		return false, model.Counters{}, fmt.Errorf("%w: unknown event kind %q", model.ErrValidation, kind)
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, model.Counters{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO engagement_events (story_id, viewer_id, kind) VALUES ($1,$2,$3)
        ON CONFLICT DO NOTHING
    `, storyID, viewerID, string(kind))
	if err != nil {
		return false, model.Counters{}, err
	}
	inserted, _ := res.RowsAffected()

	var c model.Counters
	if inserted > 0 {
		// Counter bump shares the transaction with the event insert: both
		// commit or neither does.
		err = tx.QueryRowContext(ctx, `
            UPDATE stories SET `+col+` = `+col+` + 1 WHERE story_id=$1
            RETURNING view_count, like_count, share_count
        `, storyID).Scan(&c.Views, &c.Likes, &c.Shares)
	} else {
		err = tx.QueryRowContext(ctx, `
            SELECT view_count, like_count, share_count FROM stories WHERE story_id=$1
        `, storyID).Scan(&c.Views, &c.Likes, &c.Shares)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.Counters{}, model.ErrNotFound
	}
	if err != nil {
		return false, model.Counters{}, err
	}
	return inserted > 0, c, tx.Commit()
}

func (e *engagement) Counters(ctx context.Context, storyID string) (model.Counters, error) {
	var c model.Counters
	err := e.db.QueryRowContext(ctx, `
        SELECT view_count, like_count, share_count FROM stories WHERE story_id=$1
    `, storyID).Scan(&c.Views, &c.Likes, &c.Shares)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Counters{}, model.ErrNotFound
	}
	return c, err
}

// --- Tasks ---

type tasks struct{ db *sql.DB }

func (t *tasks) Lease(ctx context.Context, now time.Time, limit int) ([]*model.DeletionTask, error) {
	rows, err := t.db.QueryContext(ctx, `
        UPDATE deletion_tasks
        SET attempts = attempts + 1, last_attempt_time = $1
        WHERE story_id IN (
            SELECT story_id FROM deletion_tasks
            WHERE status = 'pending' AND fire_time <= $1
            ORDER BY fire_time ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING story_id, fire_time, attempts, last_attempt_time, status
    `, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*model.DeletionTask, error) {
	var out []*model.DeletionTask
	for rows.Next() {
		var task model.DeletionTask
		var status string
		if err := rows.Scan(&task.StoryID, &task.FireTime, &task.Attempts, &task.LastAttemptTime, &status); err != nil {
			return nil, err
		}
		task.Status = model.TaskStatus(status)
		out = append(out, &task)
	}
	return out, rows.Err()
}

func (t *tasks) Reschedule(ctx context.Context, storyID string, nextFire time.Time) error {
	_, err := t.db.ExecContext(ctx, `
        UPDATE deletion_tasks SET fire_time=$1 WHERE story_id=$2 AND status='pending'
    `, nextFire, storyID)
	return err
}

func (t *tasks) DeadLetter(ctx context.Context, storyID string) error {
	_, err := t.db.ExecContext(ctx, `
        UPDATE deletion_tasks SET status='dead' WHERE story_id=$1
    `, storyID)
	return err
}

func (t *tasks) Confirm(ctx context.Context, storyID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM deletion_tasks WHERE story_id=$1`, storyID)
	return err
}

func (t *tasks) Get(ctx context.Context, storyID string) (*model.DeletionTask, error) {
	var task model.DeletionTask
	var status string
	err := t.db.QueryRowContext(ctx, `
        SELECT story_id, fire_time, attempts, last_attempt_time, status
        FROM deletion_tasks WHERE story_id=$1
    `, storyID).Scan(&task.StoryID, &task.FireTime, &task.Attempts, &task.LastAttemptTime, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	task.Status = model.TaskStatus(status)
	return &task, nil
}
