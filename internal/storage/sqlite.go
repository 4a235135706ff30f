package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"silentfeed/internal/model"
	"silentfeed/migrations"
)

// Fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	*queries
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{queries: &queries{db: db}, db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside a single SQLite transaction. Busy and locked
// failures are reported wrapped in ErrTransient.
func (s *SQLite) Atomic(ctx context.Context, scope []model.Collection, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	q := &queries{db: tx, scope: make(map[model.Collection]bool, len(scope))}
	for _, c := range scope {
		q.scope[c] = true
	}

	if err := fn(q); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

// queries holds the SQL for both collections. A nil scope means no
// restriction.
type queries struct {
	db    dbtx
	scope map[model.Collection]bool
}

func (q *queries) use(cs ...model.Collection) error {
	if q.scope == nil {
		return nil
	}
	for _, c := range cs {
		if !q.scope[c] {
			return fmt.Errorf("%w: %s", ErrOutOfScope, c)
		}
	}
	return nil
}

const feedColumns = `id, url, canonical_url, title, discovered_from, discovered_at,
	status, is_active, subscribed_at, unsubscribed_at, subscription_source,
	quality_score, quality_update_frequency, quality_format_valid, quality_reachable, quality_last_checked,
	article_count, unread_count, recommended_count, recommended_read_count,
	last_fetched_at, last_error, created_at`

// GetFeed returns a single feed by its ID.
func (q *queries) GetFeed(ctx context.Context, id string) (*model.Feed, error) {
	if err := q.use(model.CollectionFeeds); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	return f, err
}

// GetFeedByCanonicalURL returns the feed stored under the normalized key.
func (q *queries) GetFeedByCanonicalURL(ctx context.Context, key string) (*model.Feed, error) {
	if err := q.use(model.CollectionFeeds); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE canonical_url = ?`, key)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", key, ErrNotFound)
	}
	return f, err
}

// ListFeeds returns feeds matching fq ordered by discovery time.
func (q *queries) ListFeeds(ctx context.Context, fq FeedQuery) ([]model.Feed, error) {
	if err := q.use(model.CollectionFeeds); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if len(fq.Statuses) > 0 {
		marks := make([]string, len(fq.Statuses))
		for i, st := range fq.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if fq.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	query := `SELECT ` + feedColumns + ` FROM feeds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY discovered_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// InsertFeed stores a new feed. ID and CanonicalURL must already be set.
func (q *queries) InsertFeed(ctx context.Context, f *model.Feed) error {
	if err := q.use(model.CollectionFeeds); err != nil {
		return err
	}
	args := append([]any{f.ID}, feedArgs(f)...)
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO feeds (`+feedColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

// UpdateFeed persists every mutable field of an existing feed.
func (q *queries) UpdateFeed(ctx context.Context, f *model.Feed) error {
	if err := q.use(model.CollectionFeeds); err != nil {
		return err
	}
	args := append(feedArgs(f), f.ID)
	res, err := q.db.ExecContext(ctx,
		`UPDATE feeds SET url = ?, canonical_url = ?, title = ?, discovered_from = ?, discovered_at = ?,
		   status = ?, is_active = ?, subscribed_at = ?, unsubscribed_at = ?, subscription_source = ?,
		   quality_score = ?, quality_update_frequency = ?, quality_format_valid = ?, quality_reachable = ?,
		   quality_last_checked = ?,
		   article_count = ?, unread_count = ?, recommended_count = ?, recommended_read_count = ?,
		   last_fetched_at = ?, last_error = ?, created_at = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return mustAffect(res, "feed", f.ID)
}

// DeleteFeed removes a feed together with its articles.
func (q *queries) DeleteFeed(ctx context.Context, id string) error {
	if err := q.use(model.CollectionFeeds, model.CollectionArticles); err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM articles WHERE feed_id = ?`, id); err != nil {
		return fmt.Errorf("delete articles: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return mustAffect(res, "feed", id)
}

// ResetRecommendationCounters zeroes the recommendation counters of all feeds.
func (q *queries) ResetRecommendationCounters(ctx context.Context) error {
	if err := q.use(model.CollectionFeeds); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `UPDATE feeds SET recommended_count = 0, recommended_read_count = 0`)
	if err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}

const articleColumns = `id, feed_id, link, link_key, title, description, published, fetched,
	is_read, is_starred, is_recommended, is_disliked,
	in_feed, pool_status, pool_exit_reason, popup_added_at, analysis_score, analysis`

// GetArticle returns a single article by its ID.
func (q *queries) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	if err := q.use(model.CollectionArticles); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListArticles returns every article of a feed, soft-deleted ones included,
// newest first.
func (q *queries) ListArticles(ctx context.Context, feedID string) ([]model.Article, error) {
	if err := q.use(model.CollectionArticles); err != nil {
		return nil, err
	}
	return q.queryArticles(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE feed_id = ? ORDER BY published DESC, id`, feedID)
}

// ListPoolArticles returns articles currently holding pool membership.
func (q *queries) ListPoolArticles(ctx context.Context) ([]model.Article, error) {
	if err := q.use(model.CollectionArticles); err != nil {
		return nil, err
	}
	return q.queryArticles(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE pool_status != ? ORDER BY published DESC, id`,
		string(model.PoolExited))
}

func (q *queries) queryArticles(ctx context.Context, query string, args ...any) ([]model.Article, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// InsertArticles stores new articles. IDs must already be set.
func (q *queries) InsertArticles(ctx context.Context, articles []model.Article) error {
	if err := q.use(model.CollectionArticles); err != nil {
		return err
	}
	if len(articles) == 0 {
		return nil
	}
	stmt, err := q.db.PrepareContext(ctx,
		`INSERT INTO articles (`+articleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert article: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range articles {
		a := &articles[i]
		args := append([]any{a.ID}, articleArgs(a)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert article %s: %w", a.Link, err)
		}
	}
	return nil
}

// UpdateArticle persists every mutable field of an existing article.
func (q *queries) UpdateArticle(ctx context.Context, a *model.Article) error {
	if err := q.use(model.CollectionArticles); err != nil {
		return err
	}
	args := append(articleArgs(a), a.ID)
	res, err := q.db.ExecContext(ctx,
		`UPDATE articles SET feed_id = ?, link = ?, link_key = ?, title = ?, description = ?,
		   published = ?, fetched = ?, is_read = ?, is_starred = ?, is_recommended = ?, is_disliked = ?,
		   in_feed = ?, pool_status = ?, pool_exit_reason = ?, popup_added_at = ?,
		   analysis_score = ?, analysis = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return mustAffect(res, "article", a.ID)
}

// CountArticles counts a feed's rows and its unread rows still in the feed.
func (q *queries) CountArticles(ctx context.Context, feedID string) (ArticleCounts, error) {
	var c ArticleCounts
	if err := q.use(model.CollectionArticles); err != nil {
		return c, err
	}
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read = 0 AND in_feed = 1 THEN 1 ELSE 0 END), 0)
		 FROM articles WHERE feed_id = ?`, feedID,
	).Scan(&c.Total, &c.Unread)
	if err != nil {
		return c, fmt.Errorf("count articles: %w", err)
	}
	return c, nil
}

func mustAffect(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// feedArgs returns the column values after id, in feedColumns order.
func feedArgs(f *model.Feed) []any {
	var (
		score, freq         any
		formatOK, reachable any
		checked             any
	)
	if qa := f.Quality; qa != nil {
		score, freq = qa.Score, qa.UpdateFrequency
		formatOK, reachable = boolToInt(qa.FormatValid), boolToInt(qa.Reachable)
		checked = formatTime(qa.LastChecked)
	}
	return []any{
		f.URL, f.CanonicalURL, f.Title, f.DiscoveredFrom, formatTime(f.DiscoveredAt),
		string(f.Status), boolToInt(f.IsActive), formatTimePtr(f.SubscribedAt), formatTimePtr(f.UnsubscribedAt),
		string(f.SubscriptionSource),
		score, freq, formatOK, reachable, checked,
		f.ArticleCount, f.UnreadCount, f.RecommendedCount, f.RecommendedReadCount,
		formatTimePtr(f.LastFetchedAt), f.LastError, formatTime(f.CreatedAt),
	}
}

// articleArgs returns the column values after id, in articleColumns order.
func articleArgs(a *model.Article) []any {
	var analysis any
	if len(a.Analysis) > 0 {
		analysis = string(a.Analysis)
	}
	var score any
	if a.AnalysisScore != nil {
		score = *a.AnalysisScore
	}
	return []any{
		a.FeedID, a.Link, a.LinkKey, a.Title, a.Description,
		formatTime(a.Published), formatTime(a.Fetched),
		boolToInt(a.Read), boolToInt(a.Starred), boolToInt(a.Recommended), boolToInt(a.Disliked),
		boolToInt(a.InFeed), string(a.PoolStatus), string(a.PoolExitReason), formatTimePtr(a.PopupAddedAt),
		score, analysis,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var (
		f                        model.Feed
		discovered, created      string
		status, source           string
		isActive                 int
		subscribed, unsubscribed sql.NullString
		score, freq              sql.NullFloat64
		formatOK, reachable      sql.NullInt64
		checked, lastFetched     sql.NullString
	)
	err := row.Scan(
		&f.ID, &f.URL, &f.CanonicalURL, &f.Title, &f.DiscoveredFrom, &discovered,
		&status, &isActive, &subscribed, &unsubscribed, &source,
		&score, &freq, &formatOK, &reachable, &checked,
		&f.ArticleCount, &f.UnreadCount, &f.RecommendedCount, &f.RecommendedReadCount,
		&lastFetched, &f.LastError, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.DiscoveredAt = parseTime(discovered)
	f.CreatedAt = parseTime(created)
	f.Status = model.FeedStatus(status)
	f.IsActive = isActive == 1
	f.SubscribedAt = parseTimePtr(subscribed)
	f.UnsubscribedAt = parseTimePtr(unsubscribed)
	f.SubscriptionSource = model.SubscriptionSource(source)
	f.LastFetchedAt = parseTimePtr(lastFetched)
	if score.Valid {
		f.Quality = &model.Quality{
			Score:           score.Float64,
			UpdateFrequency: freq.Float64,
			FormatValid:     formatOK.Int64 == 1,
			Reachable:       reachable.Int64 == 1,
		}
		if checked.Valid {
			f.Quality.LastChecked = parseTime(checked.String)
		}
	}
	return &f, nil
}

func scanArticle(row scannable) (*model.Article, error) {
	var (
		a                                   model.Article
		published, fetched                  string
		read, starred, recommended, dislike int
		inFeed                              int
		status, reason                      string
		popup                               sql.NullString
		score                               sql.NullFloat64
		analysis                            sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.FeedID, &a.Link, &a.LinkKey, &a.Title, &a.Description, &published, &fetched,
		&read, &starred, &recommended, &dislike,
		&inFeed, &status, &reason, &popup, &score, &analysis,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan article: %w", err)
	}
	a.Published = parseTime(published)
	a.Fetched = parseTime(fetched)
	a.Read = read == 1
	a.Starred = starred == 1
	a.Recommended = recommended == 1
	a.Disliked = dislike == 1
	a.InFeed = inFeed == 1
	a.PoolStatus = model.PoolStatus(status)
	a.PoolExitReason = model.ExitReason(reason)
	a.PopupAddedAt = parseTimePtr(popup)
	if score.Valid {
		s := score.Float64
		a.AnalysisScore = &s
	}
	if analysis.Valid {
		a.Analysis = json.RawMessage(analysis.String)
	}
	return &a, nil
}
