package prompt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/supportchat/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a prompt name or label has no version.
	ErrNotFound = errors.New("prompt not found")
	// ErrUnknownName is returned for names outside KnownNames and their aliases.
	ErrUnknownName = errors.New("unknown prompt name")
)

// Store persists prompt versions and the labels pointing at them.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the prompt database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create prompt directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open prompt database: %w", err)
	}
	db.SetMaxOpenConns(4)

	schema := `
	CREATE TABLE IF NOT EXISTS prompt_versions (
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (name, version)
	);
	CREATE TABLE IF NOT EXISTS prompt_labels (
		name TEXT NOT NULL,
		label TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (name, label)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize prompt schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores content as the next version of name and points latest plus the
// given labels at it.
func (s *Store) Put(ctx context.Context, name, content string, labels ...string) (_ *domain.PromptVersion, err error) {
	canonical, ok := Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var next int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE name = ?`, canonical,
	).Scan(&next); err != nil {
		return nil, fmt.Errorf("next prompt version: %w", err)
	}

	created := s.now()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO prompt_versions (name, version, content, created_at) VALUES (?, ?, ?, ?)`,
		canonical, next, content, created.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("insert prompt version: %w", err)
	}

	all := normalizeLabels(append([]string{LabelLatest}, labels...))
	for _, label := range all {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO prompt_labels (name, label, version) VALUES (?, ?, ?)
			 ON CONFLICT(name, label) DO UPDATE SET version = excluded.version`,
			canonical, label, next,
		); err != nil {
			return nil, fmt.Errorf("set prompt label %q: %w", label, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit prompt version: %w", err)
	}

	return &domain.PromptVersion{
		Name:      canonical,
		Version:   next,
		Content:   content,
		Labels:    all,
		CreatedAt: time.UnixMilli(created.UnixMilli()),
	}, nil
}

// Get returns the version of name carrying label; an empty label means latest.
func (s *Store) Get(ctx context.Context, name, label string) (*domain.PromptVersion, error) {
	canonical, ok := Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	if label == "" {
		label = LabelLatest
	}

	var (
		v       domain.PromptVersion
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT v.name, v.version, v.content, v.created_at
		FROM prompt_labels l
		JOIN prompt_versions v ON v.name = l.name AND v.version = l.version
		WHERE l.name = ? AND l.label = ?`,
		canonical, label,
	).Scan(&v.Name, &v.Version, &v.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, canonical, label)
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	v.CreatedAt = time.UnixMilli(created)

	labels, err := s.labelsFor(ctx, canonical)
	if err != nil {
		return nil, err
	}
	v.Labels = labels[v.Version]
	return &v, nil
}

// Content returns the latest text of name, or fallback when none is stored.
func (s *Store) Content(ctx context.Context, name, fallback string) (string, error) {
	v, err := s.Get(ctx, name, "")
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return v.Content, nil
}

// Versions returns every version of name, newest first.
func (s *Store) Versions(ctx context.Context, name string) ([]*domain.PromptVersion, error) {
	canonical, ok := Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, content, created_at FROM prompt_versions WHERE name = ? ORDER BY version DESC`,
		canonical,
	)
	if err != nil {
		return nil, fmt.Errorf("query prompt versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*domain.PromptVersion, 0)
	for rows.Next() {
		var (
			v       domain.PromptVersion
			created int64
		)
		if err := rows.Scan(&v.Name, &v.Version, &v.Content, &created); err != nil {
			return nil, fmt.Errorf("scan prompt version: %w", err)
		}
		v.CreatedAt = time.UnixMilli(created)
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt versions: %w", err)
	}

	labels, err := s.labelsFor(ctx, canonical)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		v.Labels = labels[v.Version]
	}
	return versions, nil
}

// Names returns the names that have at least one stored version.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM prompt_versions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query prompt names: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan prompt name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) labelsFor(ctx context.Context, name string) (map[int][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, version FROM prompt_labels WHERE name = ? ORDER BY label`, name)
	if err != nil {
		return nil, fmt.Errorf("query prompt labels: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]string)
	for rows.Next() {
		var (
			label   string
			version int
		)
		if err := rows.Scan(&label, &version); err != nil {
			return nil, fmt.Errorf("scan prompt label: %w", err)
		}
		out[version] = append(out[version], label)
	}
	return out, rows.Err()
}

func normalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
