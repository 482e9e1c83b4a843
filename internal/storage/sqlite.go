package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxAttempts is the retry ceiling applied to submissions created
// without an explicit one.
const DefaultMaxAttempts = 3

// Store wraps a SQLite database with methods for submissions and tutorials.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

// SetDefaultMaxAttempts overrides the retry ceiling applied to submissions
// created without one. Values <= 0 keep the built-in default.
func (s *Store) SetDefaultMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tutorpipe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, maxAttempts: DefaultMaxAttempts}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that need raw access (tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Submissions ---

const submissionColumns = "id, phone_number, raw_message, url, source_type, status, last_error, attempts, max_attempts, created_at, updated_at"

func (s *Store) CreateSubmission(sub Submission) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.MaxAttempts <= 0 {
		sub.MaxAttempts = s.maxAttempts
	}
	if sub.Status == "" {
		sub.Status = StatusReceived
	}
	if sub.PhoneNumber == "" {
		sub.PhoneNumber = PhoneNumberWeb
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.PhoneNumber, sub.RawMessage, sub.URL, sub.SourceType, sub.Status,
		sub.LastError, sub.Attempts, sub.MaxAttempts,
		sub.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSubmission(id string) (Submission, error) {
	row := s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

// ListSubmissionsByStatus returns submissions with the given status in
// insertion order (oldest first). An empty status lists all submissions.
func (s *Store) ListSubmissionsByStatus(status string, limit int) ([]Submission, error) {
	q := sq.Select(strings.Split(submissionColumns, ", ")...).
		From("submissions").
		OrderBy("created_at ASC")
	if status != "" {
		q = q.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.querySubmissions(q)
}

// ListRetryableSubmissions returns failed submissions that have not exhausted
// their retry budget, oldest failure first to bound starvation.
func (s *Store) ListRetryableSubmissions(limit int) ([]Submission, error) {
	q := sq.Select(strings.Split(submissionColumns, ", ")...).
		From("submissions").
		Where(sq.Eq{"status": StatusFailed}).
		Where(sq.Expr("attempts < max_attempts")).
		OrderBy("created_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.querySubmissions(q)
}

func (s *Store) querySubmissions(q sq.SelectBuilder) ([]Submission, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	var createdAt, updatedAt string
	err := row.Scan(&sub.ID, &sub.PhoneNumber, &sub.RawMessage, &sub.URL, &sub.SourceType,
		&sub.Status, &sub.LastError, &sub.Attempts, &sub.MaxAttempts, &createdAt, &updatedAt)
	if err != nil {
		return Submission{}, err
	}
	if sub.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Submission{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sub.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Submission{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sub, nil
}

// SetSubmissionStatus records a state-machine transition. The error message is
// cleared so a later success does not carry a stale failure reason.
func (s *Store) SetSubmissionStatus(id, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE submissions SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		status, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSubmissionFailed moves the submission to failed, records the error
// message, and increments the attempt counter.
func (s *Store) MarkSubmissionFailed(id, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE submissions
		SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?`,
		StatusFailed, errMsg, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tutorials ---

const tutorialColumns = "id, slug, title, summary, body, action_items, maturity_level, level_relation, topics, tags, tools_mentioned, difficulty, source_urls, source_count, image_url, is_published, is_stale, created_at, updated_at"

func (s *Store) CreateTutorial(t Tutorial) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO tutorials (`+tutorialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Slug, t.Title, t.Summary, t.Body, marshalStrings(t.ActionItems),
		t.MaturityLevel, t.LevelRelation, marshalStrings(t.Topics), marshalStrings(t.Tags),
		marshalStrings(t.ToolsMentioned), t.Difficulty, marshalStrings(t.SourceURLs),
		t.SourceCount, t.ImageURL, boolToInt(t.IsPublished), boolToInt(t.IsStale),
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetTutorial(id string) (Tutorial, error) {
	row := s.db.QueryRow(`SELECT `+tutorialColumns+` FROM tutorials WHERE id = ?`, id)
	t, err := scanTutorial(row)
	if err == sql.ErrNoRows {
		return Tutorial{}, ErrNotFound
	}
	return t, err
}

func (s *Store) GetTutorialBySlug(slug string) (Tutorial, error) {
	row := s.db.QueryRow(`SELECT `+tutorialColumns+` FROM tutorials WHERE slug = ?`, slug)
	t, err := scanTutorial(row)
	if err == sql.ErrNoRows {
		return Tutorial{}, ErrNotFound
	}
	return t, err
}

// SlugExists reports whether a tutorial with the given slug already exists.
func (s *Store) SlugExists(slug string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tutorials WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTutorials returns tutorials matching the filter, most recently updated first.
func (s *Store) ListTutorials(f TutorialFilter) ([]Tutorial, error) {
	q := sq.Select(strings.Split(tutorialColumns, ", ")...).
		From("tutorials").
		OrderBy("updated_at DESC")
	if f.PublishedOnly {
		q = q.Where(sq.Eq{"is_published": 1})
	}
	if f.Difficulty != "" {
		q = q.Where(sq.Eq{"difficulty": f.Difficulty})
	}
	if f.Topic != "" {
		// Topics are stored as a JSON array of strings; match the quoted element.
		q = q.Where(sq.Like{"topics": fmt.Sprintf(`%%%q%%`, f.Topic)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Tutorial
	for rows.Next() {
		t, err := scanTutorial(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// UpdateTutorialMerge writes the merge-mutated fields of t, guarded by an
// optimistic check on the row as it was read. Returns ErrConflict when the
// tutorial changed underneath the caller; the merge engine reloads and retries.
func (s *Store) UpdateTutorialMerge(t Tutorial, expectedUpdatedAt time.Time, expectedSourceCount int) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE tutorials
		SET source_urls = ?, source_count = ?, maturity_level = ?, difficulty = ?,
		    topics = ?, tags = ?, tools_mentioned = ?, updated_at = ?
		WHERE id = ? AND updated_at = ? AND source_count = ?`,
		marshalStrings(t.SourceURLs), t.SourceCount, t.MaturityLevel, t.Difficulty,
		marshalStrings(t.Topics), marshalStrings(t.Tags), marshalStrings(t.ToolsMentioned),
		now.Format(time.RFC3339),
		t.ID, expectedUpdatedAt.UTC().Format(time.RFC3339), expectedSourceCount,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a vanished row from a concurrent write.
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM tutorials WHERE id = ?`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// SetTutorialStale flips the out-of-band staleness flag. This is the only
// mutation of is_stale; the pipeline never touches it.
func (s *Store) SetTutorialStale(id string, stale bool) error {
	res, err := s.db.Exec(`UPDATE tutorials SET is_stale = ? WHERE id = ?`, boolToInt(stale), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTutorial(row rowScanner) (Tutorial, error) {
	var t Tutorial
	var actionItems, topics, tags, tools, sourceURLs string
	var isPublished, isStale int
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Slug, &t.Title, &t.Summary, &t.Body, &actionItems,
		&t.MaturityLevel, &t.LevelRelation, &topics, &tags, &tools, &t.Difficulty,
		&sourceURLs, &t.SourceCount, &t.ImageURL, &isPublished, &isStale, &createdAt, &updatedAt)
	if err != nil {
		return Tutorial{}, err
	}
	if t.ActionItems, err = unmarshalStrings(actionItems); err != nil {
		return Tutorial{}, fmt.Errorf("parsing action_items: %w", err)
	}
	if t.Topics, err = unmarshalStrings(topics); err != nil {
		return Tutorial{}, fmt.Errorf("parsing topics: %w", err)
	}
	if t.Tags, err = unmarshalStrings(tags); err != nil {
		return Tutorial{}, fmt.Errorf("parsing tags: %w", err)
	}
	if t.ToolsMentioned, err = unmarshalStrings(tools); err != nil {
		return Tutorial{}, fmt.Errorf("parsing tools_mentioned: %w", err)
	}
	if t.SourceURLs, err = unmarshalStrings(sourceURLs); err != nil {
		return Tutorial{}, fmt.Errorf("parsing source_urls: %w", err)
	}
	t.IsPublished = isPublished != 0
	t.IsStale = isStale != 0
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Tutorial{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Tutorial{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// marshalStrings stores a string slice as a JSON array; nil becomes "[]".
func marshalStrings(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
