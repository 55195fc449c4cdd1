// SPDX-License-Identifier: MIT

package reqrank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// ErrNotFound is returned when a requirement does not exist.
var ErrNotFound = errors.New("requirement not found")

// Store provides SQLite persistence for requirements.
type Store struct {
	db *sql.DB
}

// OpenStore initializes the SQLite store and runs migrations. WAL mode and
// busy_timeout are set through the DSN so they apply to every connection in
// the pool.
func OpenStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'functional' CHECK(category IN ('functional', 'nonfunctional')),
		moscow TEXT NOT NULL DEFAULT 'C' CHECK(moscow IN ('M', 'S', 'C', 'W')),
		business_value INTEGER NOT NULL DEFAULT 5,
		time_criticality INTEGER NOT NULL DEFAULT 5,
		risk_reduction INTEGER NOT NULL DEFAULT 5,
		effort INTEGER NOT NULL DEFAULT 5,
		risk_level INTEGER NOT NULL DEFAULT 3,
		assignee TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'todo' CHECK(status IN ('todo', 'doing', 'done')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requirements_status ON requirements(status);
	CREATE INDEX IF NOT EXISTS idx_requirements_moscow ON requirements(moscow);
	`
	_, err := s.db.Exec(schema)
	return err
}

const requirementColumns = `id, title, description, category, moscow,
	business_value, time_criticality, risk_reduction, effort, risk_level,
	assignee, status, created_at, updated_at`

// Create inserts a new requirement and returns its assigned ID.
func (s *Store) Create(ctx context.Context, r *Requirement) (int64, error) {
	if r.Title == "" {
		return 0, fmt.Errorf("title is required")
	}
	r.Normalize()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO requirements (title, description, category, moscow,
		business_value, time_criticality, risk_reduction, effort, risk_level,
		assignee, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Description, r.Category, r.MoSCoW,
		r.BusinessValue, r.TimeCriticality, r.RiskReduction, r.Effort, r.RiskLevel,
		r.Assignee, r.Status, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// Get retrieves a requirement by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Requirement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE id = ?`, id)
	r, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Update replaces the mutable fields of a requirement.
func (s *Store) Update(ctx context.Context, r *Requirement) error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	r.Normalize()
	r.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
	UPDATE requirements SET title = ?, description = ?, category = ?, moscow = ?,
		business_value = ?, time_criticality = ?, risk_reduction = ?, effort = ?,
		risk_level = ?, assignee = ?, status = ?, updated_at = ?
	WHERE id = ?`,
		r.Title, r.Description, r.Category, r.MoSCoW,
		r.BusinessValue, r.TimeCriticality, r.RiskReduction, r.Effort,
		r.RiskLevel, r.Assignee, r.Status, r.UpdatedAt.Format(time.RFC3339),
		r.ID)
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

// Delete removes a requirement.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requirements WHERE id = ?`, id)
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

// List returns requirements matching the filter. WSJF sorting happens in Go
// since the score is derived.
func (s *Store) List(ctx context.Context, f Filter) ([]*Requirement, error) {
	query := `SELECT ` + requirementColumns + ` FROM requirements WHERE 1=1`
	var args []any
	if f.Query != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+f.Query+"%")
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.MoSCoW != "" {
		query += ` AND moscow = ?`
		args = append(args, f.MoSCoW)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []*Requirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch f.Sort {
	case "wsjf":
		sort.SliceStable(list, func(i, j int) bool { return list[i].WSJF() > list[j].WSJF() })
	case "created":
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	return list, nil
}

// CountByMoSCoW returns the number of requirements per MoSCoW bucket. All
// four buckets are always present.
func (s *Store) CountByMoSCoW(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{MoSCoWMust: 0, MoSCoWShould: 0, MoSCoWCould: 0, MoSCoWWont: 0}

	rows, err := s.db.QueryContext(ctx, `SELECT moscow, COUNT(*) FROM requirements GROUP BY moscow`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var moscow string
		var n int
		if err := rows.Scan(&moscow, &n); err != nil {
			return nil, err
		}
		counts[moscow] = n
	}
	return counts, rows.Err()
}

// Seed inserts demo requirements for trying out the app.
func (s *Store) Seed(ctx context.Context) (int, error) {
	titles := []string{
		"Login and password reset", "Profile editing", "Search improvements",
		"Home page recommendations", "CSV export", "Roles and permissions",
		"System health page", "Dark mode", "Notification center",
		"Bulk requirement import", "Kanban board view", "PDF export",
		"Performance monitoring", "Error logging", "Backup and restore",
		"Mobile layout", "Accessibility audit", "Help documentation",
	}
	moscow := []string{MoSCoWMust, MoSCoWShould, MoSCoWCould, MoSCoWWont}
	people := []string{"Alice", "Bob", "Carol", "David", "Eve", "Frank"}
	statuses := []string{"todo", "doing", "done"}

	for _, title := range titles {
		r := &Requirement{
			Title:           title,
			Description:     "Details for " + title,
			Category:        "functional",
			MoSCoW:          moscow[rand.Intn(len(moscow))],
			BusinessValue:   4 + rand.Intn(6),
			TimeCriticality: 3 + rand.Intn(7),
			RiskReduction:   2 + rand.Intn(7),
			Effort:          1 + rand.Intn(8),
			RiskLevel:       1 + rand.Intn(5),
			Assignee:        people[rand.Intn(len(people))],
			Status:          statuses[rand.Intn(len(statuses))],
		}
		if _, err := s.Create(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(titles), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequirement(row rowScanner) (*Requirement, error) {
	var r Requirement
	var created, updated string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Category, &r.MoSCoW,
		&r.BusinessValue, &r.TimeCriticality, &r.RiskReduction, &r.Effort, &r.RiskLevel,
		&r.Assignee, &r.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		r.UpdatedAt = t
	}
	return &r, nil
}
