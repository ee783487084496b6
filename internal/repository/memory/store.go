// Package memory is an in-process store.Store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

type instanceKey struct {
	templateID uint
	date       time.Time
}

// Store keeps templates and tasks in maps. Writes made inside WithinTemplate
// are buffered and applied at commit, so two units on the same template can
// interleave the way two database transactions would.
type Store struct {
	mu             sync.Mutex
	nextTemplateID uint
	nextTaskID     uint
	templates      map[uint]model.Template
	tasks          map[uint]model.Task
	byKey          map[instanceKey]uint

	beforeCommit func(templateID uint)
	createErr    map[uint]error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		templates: make(map[uint]model.Template),
		tasks:     make(map[uint]model.Task),
		byKey:     make(map[instanceKey]uint),
		createErr: make(map[uint]error),
	}
}

// SetBeforeCommit installs a hook that runs after a unit's callback returned
// and before its writes are validated and applied.
func (s *Store) SetBeforeCommit(fn func(templateID uint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

// FailCreates makes every CreateInstance for templateID return err. A nil err clears it.
func (s *Store) FailCreates(templateID uint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.createErr, templateID)
		return
	}
	s.createErr[templateID] = err
}

// Template operations

func (s *Store) CreateTemplate(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTemplateID++
	t.ID = s.nextTemplateID
	t.AnchorDate = recurrence.Day(t.AnchorDate)
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.templates[t.ID] = cloneTemplate(*t)
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id uint) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, store.ErrNotFound)
	}
	out := cloneTemplate(t)
	return &out, nil
}

func (s *Store) ListTemplates(_ context.Context, userID uint) ([]model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Template
	for _, t := range s.templates {
		if userID == 0 || t.UserID == userID {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListActiveTemplates(_ context.Context) ([]model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Template
	for _, t := range s.templates {
		if t.Active {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdatePattern(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[t.ID]
	if !ok {
		return fmt.Errorf("template %d: %w", t.ID, store.ErrNotFound)
	}
	cur.SetPattern(t.Pattern())
	cur.Version++
	cur.UpdatedAt = time.Now()
	s.templates[t.ID] = cur
	t.Version = cur.Version
	return nil
}

func (s *Store) SetActive(_ context.Context, id uint, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("template %d: %w", id, store.ErrNotFound)
	}
	cur.Active = active
	cur.Version++
	cur.UpdatedAt = time.Now()
	s.templates[id] = cur
	return nil
}

func (s *Store) ListInstances(_ context.Context, templateID uint) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Task
	for _, task := range s.tasks {
		if task.TemplateID != nil && *task.TemplateID == templateID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceDate.Before(*out[j].InstanceDate) })
	return out, nil
}

func (s *Store) ListUpcoming(_ context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to = recurrence.Day(from), recurrence.Day(to)
	var out []model.Task
	for _, task := range s.tasks {
		if task.UserID != userID || task.TemplateID == nil || task.IsCompleted {
			continue
		}
		if d := *task.InstanceDate; !d.Before(from) && !d.After(to) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InstanceDate.Equal(*out[j].InstanceDate) {
			return out[i].InstanceDate.Before(*out[j].InstanceDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Generation unit

func (s *Store) WithinTemplate(ctx context.Context, templateID uint, fn func(tx store.TemplateTx) error) error {
	tmpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}

	tx := &unit{s: s, tmpl: *tmpl}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	hook := s.beforeCommit
	s.mu.Unlock()
	if hook != nil {
		hook(templateID)
	}

	return s.commit(tx)
}

func (s *Store) commit(tx *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := tx.cursor; u != nil {
		cur, ok := s.templates[u.TemplateID]
		if !ok {
			return fmt.Errorf("template %d: %w", u.TemplateID, store.ErrNotFound)
		}
		if cur.Version != u.ExpectedVersion {
			return store.ErrStaleCursor
		}
	}
	for _, task := range tx.created {
		if _, dup := s.byKey[keyOf(task)]; dup {
			return store.ErrDuplicateInstance
		}
	}

	for _, task := range tx.created {
		s.tasks[task.ID] = task
		s.byKey[keyOf(task)] = task.ID
	}
	if u := tx.cursor; u != nil {
		cur := s.templates[u.TemplateID]
		cur.GeneratedUntil = u.GeneratedUntil
		cur.OccurrencesGenerated = u.OccurrencesGenerated
		cur.Active = u.Active
		cur.Version++
		cur.UpdatedAt = time.Now()
		s.templates[u.TemplateID] = cur
	}
	return nil
}

type unit struct {
	s       *Store
	tmpl    model.Template
	created []model.Task
	cursor  *store.CursorUpdate
}

func (u *unit) Template() model.Template {
	return u.tmpl
}

func (u *unit) InstanceExists(_ context.Context, templateID uint, date time.Time) (bool, error) {
	key := instanceKey{templateID: templateID, date: recurrence.Day(date)}
	for _, task := range u.created {
		if keyOf(task) == key {
			return true, nil
		}
	}

	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	_, ok := u.s.byKey[key]
	return ok, nil
}

func (u *unit) CreateInstance(ctx context.Context, task *model.Task) (uint, error) {
	if task.TemplateID == nil || task.InstanceDate == nil {
		return 0, fmt.Errorf("create instance: template id and instance date are required")
	}
	exists, err := u.InstanceExists(ctx, *task.TemplateID, *task.InstanceDate)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, store.ErrDuplicateInstance
	}

	u.s.mu.Lock()
	if err := u.s.createErr[*task.TemplateID]; err != nil {
		u.s.mu.Unlock()
		return 0, err
	}
	u.s.nextTaskID++
	task.ID = u.s.nextTaskID
	u.s.mu.Unlock()

	now := time.Now()
	task.CreatedAt, task.UpdatedAt = now, now
	u.created = append(u.created, *task)
	return task.ID, nil
}

func (u *unit) UpdateTemplateCursor(_ context.Context, c store.CursorUpdate) error {
	if c.TemplateID != u.tmpl.ID {
		return fmt.Errorf("cursor update for template %d inside unit of template %d", c.TemplateID, u.tmpl.ID)
	}
	u.cursor = &c
	return nil
}

func keyOf(task model.Task) instanceKey {
	return instanceKey{templateID: *task.TemplateID, date: recurrence.Day(*task.InstanceDate)}
}

func cloneTemplate(t model.Template) model.Template {
	if t.DaysOfWeek != nil {
		t.DaysOfWeek = append(model.Weekdays(nil), t.DaysOfWeek...)
	}
	return t
}
