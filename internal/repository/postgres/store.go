// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

// Store is a pgxpool-backed store.Store. Generation units lock the template
// row with SELECT ... FOR UPDATE for the duration of the transaction.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.log.Info("postgres schema ready")
	return nil
}

const templateColumns = `id, user_id, category_id, title, description,
	frequency, repeat_interval, days_of_week, day_of_month, end_date, max_occurrences,
	anchor_date, generated_until, occurrences_generated, active, version, created_at, updated_at`

const taskColumns = `id, user_id, category_id, template_id, instance_date, title, description,
	deadline, is_completed, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (model.Template, error) {
	var (
		t          model.Template
		id, userID int64
		categoryID *int64
		days       string
	)
	err := row.Scan(&id, &userID, &categoryID, &t.Title, &t.Description,
		&t.Frequency, &t.Interval, &days, &t.DayOfMonth, &t.EndDate, &t.MaxOccurrences,
		&t.AnchorDate, &t.GeneratedUntil, &t.OccurrencesGenerated, &t.Active, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Template{}, err
	}
	t.ID, t.UserID, t.CategoryID = uint(id), uint(userID), toUintPtr(categoryID)
	if t.DaysOfWeek, err = model.ParseWeekdays(days); err != nil {
		return model.Template{}, err
	}
	return t, nil
}

func scanTask(row scanner) (model.Task, error) {
	var (
		t                      model.Task
		id, userID             int64
		categoryID, templateID *int64
	)
	err := row.Scan(&id, &userID, &categoryID, &templateID, &t.InstanceDate, &t.Title, &t.Description,
		&t.Deadline, &t.IsCompleted, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.ID, t.UserID = uint(id), uint(userID)
	t.CategoryID, t.TemplateID = toUintPtr(categoryID), toUintPtr(templateID)
	return t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	t.AnchorDate = recurrence.Day(t.AnchorDate)
	row := s.pool.QueryRow(ctx, `INSERT INTO templates
		(user_id, category_id, title, description, frequency, repeat_interval, days_of_week, day_of_month,
		 end_date, max_occurrences, anchor_date, generated_until, occurrences_generated, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, version, created_at, updated_at`,
		int64(t.UserID), toInt64Ptr(t.CategoryID), t.Title, t.Description, t.Frequency, t.Interval,
		t.DaysOfWeek.String(), t.DayOfMonth, t.EndDate, t.MaxOccurrences, t.AnchorDate,
		t.GeneratedUntil, t.OccurrencesGenerated, t.Active)

	var id int64
	if err := row.Scan(&id, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	t.ID = uint(id)
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (*model.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, int64(id)))
	if err != nil {
		return nil, notFound(fmt.Sprintf("template %d", id), err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID uint) ([]model.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates`
	args := []any{}
	if userID != 0 {
		query += ` WHERE user_id = $1`
		args = append(args, int64(userID))
	}
	return s.queryTemplates(ctx, "list templates", query+` ORDER BY id`, args...)
}

func (s *Store) ListActiveTemplates(ctx context.Context) ([]model.Template, error) {
	return s.queryTemplates(ctx, "list active templates",
		`SELECT `+templateColumns+` FROM templates WHERE active ORDER BY id`)
}

func (s *Store) queryTemplates(ctx context.Context, op, query string, args ...any) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	templates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Template, error) {
		return scanTemplate(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return templates, nil
}

func (s *Store) UpdatePattern(ctx context.Context, t *model.Template) error {
	var version int
	err := s.pool.QueryRow(ctx, `UPDATE templates SET
		frequency = $2, repeat_interval = $3, days_of_week = $4, day_of_month = $5,
		end_date = $6, max_occurrences = $7, version = version + 1, updated_at = now()
		WHERE id = $1 RETURNING version`,
		int64(t.ID), t.Frequency, t.Interval, t.DaysOfWeek.String(), t.DayOfMonth, t.EndDate, t.MaxOccurrences,
	).Scan(&version)
	if err != nil {
		return notFound(fmt.Sprintf("template %d", t.ID), err)
	}
	t.Version = version
	return nil
}

func (s *Store) SetActive(ctx context.Context, id uint, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET active = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		int64(id), active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListInstances(ctx context.Context, templateID uint) ([]model.Task, error) {
	return s.queryTasks(ctx, "list instances",
		`SELECT `+taskColumns+` FROM tasks WHERE template_id = $1 ORDER BY instance_date`, int64(templateID))
}

func (s *Store) ListUpcoming(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	return s.queryTasks(ctx, "list upcoming", `SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1 AND template_id IS NOT NULL AND NOT is_completed
		AND instance_date BETWEEN $2 AND $3
		ORDER BY instance_date, id`,
		int64(userID), recurrence.Day(from), recurrence.Day(to))
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

// WithinTemplate runs fn in a transaction holding the template's row lock.
func (s *Store) WithinTemplate(ctx context.Context, templateID uint, fn func(tx store.TemplateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("rollback failed", zap.Uint("template_id", templateID), zap.Error(err))
		}
	}()

	t, err := scanTemplate(tx.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = $1 FOR UPDATE`, int64(templateID)))
	if err != nil {
		return notFound(fmt.Sprintf("template %d", templateID), err)
	}

	if err := fn(&templateTx{tx: tx, tmpl: t}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type templateTx struct {
	tx   pgx.Tx
	tmpl model.Template
}

func (t *templateTx) Template() model.Template {
	return t.tmpl
}

func (t *templateTx) InstanceExists(ctx context.Context, templateID uint, date time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE template_id = $1 AND instance_date = $2)`,
		int64(templateID), recurrence.Day(date)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check instance: %w", err)
	}
	return exists, nil
}

func (t *templateTx) CreateInstance(ctx context.Context, task *model.Task) (uint, error) {
	if task.TemplateID == nil || task.InstanceDate == nil {
		return 0, fmt.Errorf("create instance: template id and instance date are required")
	}
	day := recurrence.Day(*task.InstanceDate)
	task.InstanceDate = &day

	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO tasks
		(user_id, category_id, template_id, instance_date, title, description, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (template_id, instance_date) DO NOTHING
		RETURNING id, created_at, updated_at`,
		int64(task.UserID), toInt64Ptr(task.CategoryID), toInt64Ptr(task.TemplateID), day,
		task.Title, task.Description, task.Deadline,
	).Scan(&id, &task.CreatedAt, &task.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, store.ErrDuplicateInstance
	case err != nil:
		return 0, fmt.Errorf("create instance: %w", err)
	}
	task.ID = uint(id)
	return task.ID, nil
}

func (t *templateTx) UpdateTemplateCursor(ctx context.Context, u store.CursorUpdate) error {
	tag, err := t.tx.Exec(ctx, `UPDATE templates SET
		generated_until = $3, occurrences_generated = $4, active = $5,
		version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2`,
		int64(u.TemplateID), u.ExpectedVersion, u.GeneratedUntil, u.OccurrencesGenerated, u.Active)
	if err != nil {
		return fmt.Errorf("update template cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaleCursor
	}
	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("find %s: %w", what, err)
}

func toUintPtr(v *int64) *uint {
	if v == nil {
		return nil
	}
	u := uint(*v)
	return &u
}

func toInt64Ptr(v *uint) *int64 {
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}
