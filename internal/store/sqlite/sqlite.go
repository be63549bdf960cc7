package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// Open opens (or creates) a SQLite database at the given path with WAL
// journal mode. ":memory:" opens a private in-memory database.
//
// The pool is capped at a single connection: sqlite allows one writer, and a
// single connection keeps transactions from fighting over the file lock.
func Open(path string) (*sql.DB, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap applies the embedded DDL. Safe to call on every start.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range store.SQLiteDDLStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite bootstrap: %w", err)
		}
	}
	return nil
}

// NewWithDB constructs a SQLite store backed by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &liteStore{db: db} }

type liteStore struct{ db *sql.DB }

func (s *liteStore) Stories() store.Stories       { return &stories{db: s.db} }
func (s *liteStore) Engagement() store.Engagement { return &engagement{db: s.db} }
func (s *liteStore) Tasks() store.Tasks           { return &tasks{db: s.db} }

// HealthPing implements health checking for the SQLite-backed store.
func (s *liteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
        VALUES (?,?,?,?,?,?,?,0,?,?)
    `, rec.StoryID, rec.OwnerID, string(rec.Kind), string(rec.Visibility), rec.Caption, rec.MediaRef,
		boolToInt(rec.Encrypted), rec.CreationTime.UTC(), rec.ExpiryTime.UTC()); err != nil {
		return err
	}

	for viewerID, wrapped := range rec.WrappedKeys {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO story_keys (story_id, viewer_id, wrapped_key) VALUES (?,?,?)
        `, rec.StoryID, viewerID, wrapped); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO deletion_tasks (story_id, fire_time, status) VALUES (?,?,'pending')
    `, task.StoryID, task.FireTime.UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func (st *stories) Publish(ctx context.Context, storyID string) error {
	res, err := st.db.ExecContext(ctx, `UPDATE stories SET published=1 WHERE story_id=?`, storyID)
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
	var encrypted, published int
	if err := row.Scan(&rec.StoryID, &rec.OwnerID, &kind, &visibility, &rec.Caption, &rec.MediaRef,
		&encrypted, &published,
		&rec.Counters.Views, &rec.Counters.Likes, &rec.Counters.Shares,
		&rec.CreationTime, &rec.ExpiryTime); err != nil {
		return nil, err
	}
	rec.Kind = model.ContentKind(kind)
	rec.Visibility = model.Visibility(visibility)
	rec.Encrypted = encrypted != 0
	rec.Published = published != 0
	return &rec, nil
}

func (st *stories) Get(ctx context.Context, storyID string) (*model.StoryRecord, error) {
	row := st.db.QueryRowContext(ctx, `
        SELECT `+storyColumns+` FROM stories WHERE story_id=?
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
        SELECT wrapped_key FROM story_keys WHERE story_id=? AND viewer_id=?
    `, storyID, viewerID).Scan(&wrapped)
	if errors.Is(err, sql.ErrNoRows) {
		var one int
		serr := st.db.QueryRowContext(ctx, `SELECT 1 FROM stories WHERE story_id=?`, storyID).Scan(&one)
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
	query := `SELECT ` + storyColumns + ` FROM stories WHERE published=1 AND expiry_time > ?`
	args := []interface{}{req.Now.UTC()}
	if req.Visibility != "" {
		query += " AND visibility = ?"
		args = append(args, string(req.Visibility))
	}
	if !req.AfterCreationTime.IsZero() {
		query += " AND (creation_time < ? OR (creation_time = ? AND story_id > ?))"
		args = append(args, req.AfterCreationTime.UTC(), req.AfterCreationTime.UTC(), req.AfterStoryID)
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
	err = tx.QueryRowContext(ctx, `SELECT media_ref FROM stories WHERE story_id=?`, storyID).Scan(&mediaRef)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, tx.Commit()
	}
	if err != nil {
		return "", false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM story_keys WHERE story_id=?`, storyID); err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM engagement_events WHERE story_id=?`, storyID); err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE story_id=?`, storyID); err != nil {
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
        INSERT INTO engagement_events (story_id, viewer_id, kind, creation_time) VALUES (?,?,?,?)
        ON CONFLICT DO NOTHING
    `, storyID, viewerID, string(kind), time.Now().UTC())
	if err != nil {
		return false, model.Counters{}, err
	}
	inserted, _ := res.RowsAffected()

	var c model.Counters
	if inserted > 0 {
		if _, err := tx.ExecContext(ctx, `
            UPDATE stories SET `+col+` = `+col+` + 1 WHERE story_id=?
        `, storyID); err != nil {
			return false, model.Counters{}, err
		}
	}
	err = tx.QueryRowContext(ctx, `
        SELECT view_count, like_count, share_count FROM stories WHERE story_id=?
    `, storyID).Scan(&c.Views, &c.Likes, &c.Shares)
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
        SELECT view_count, like_count, share_count FROM stories WHERE story_id=?
    `, storyID).Scan(&c.Views, &c.Likes, &c.Shares)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Counters{}, model.ErrNotFound
	}
	return c, err
}

// --- Tasks ---

type tasks struct{ db *sql.DB }

func (t *tasks) Lease(ctx context.Context, now time.Time, limit int) ([]*model.DeletionTask, error) {
	// Single-writer sqlite needs no row locking; the pool itself serializes.
	rows, err := t.db.QueryContext(ctx, `
        UPDATE deletion_tasks
        SET attempts = attempts + 1, last_attempt_time = ?
        WHERE story_id IN (
            SELECT story_id FROM deletion_tasks
            WHERE status = 'pending' AND fire_time <= ?
            ORDER BY fire_time ASC
            LIMIT ?
        )
        RETURNING story_id, fire_time, attempts, last_attempt_time, status
    `, now.UTC(), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
        UPDATE deletion_tasks SET fire_time=? WHERE story_id=? AND status='pending'
    `, nextFire.UTC(), storyID)
	return err
}

func (t *tasks) DeadLetter(ctx context.Context, storyID string) error {
	_, err := t.db.ExecContext(ctx, `UPDATE deletion_tasks SET status='dead' WHERE story_id=?`, storyID)
	return err
}

func (t *tasks) Confirm(ctx context.Context, storyID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM deletion_tasks WHERE story_id=?`, storyID)
	return err
}

func (t *tasks) Get(ctx context.Context, storyID string) (*model.DeletionTask, error) {
	var task model.DeletionTask
	var status string
	err := t.db.QueryRowContext(ctx, `
        SELECT story_id, fire_time, attempts, last_attempt_time, status
        FROM deletion_tasks WHERE story_id=?
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
