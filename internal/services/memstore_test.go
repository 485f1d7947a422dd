package services_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maynagashev/fieldsync/internal/events"
	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	"github.com/maynagashev/fieldsync/internal/services"
)

// memStore - хранилище в памяти с транзакциями. Транзакции выполняются строго
// по одной (аналог блокировки строки), работают с копией состояния и
// публикуют ее только при успешном завершении.
type memStore struct {
	txMu   sync.Mutex
	dataMu sync.RWMutex
	state  *memState
}

type memState struct {
	inspections map[string]*models.Inspection
	templates   map[string]*models.InspectionTemplate
	ledger      map[string]*models.IdempotencyRecord
	conflicts   []*models.ConflictRecord
	photos      map[string]*models.Photo
	users       map[int64]*models.User
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		inspections: map[string]*models.Inspection{},
		templates:   map[string]*models.InspectionTemplate{},
		ledger:      map[string]*models.IdempotencyRecord{},
		photos:      map[string]*models.Photo{},
		users:       map[int64]*models.User{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		inspections: make(map[string]*models.Inspection, len(s.inspections)),
		templates:   make(map[string]*models.InspectionTemplate, len(s.templates)),
		ledger:      make(map[string]*models.IdempotencyRecord, len(s.ledger)),
		conflicts:   make([]*models.ConflictRecord, 0, len(s.conflicts)),
		photos:      make(map[string]*models.Photo, len(s.photos)),
		users:       make(map[int64]*models.User, len(s.users)),
	}
	for k, v := range s.inspections {
		c.inspections[k] = v.Clone()
	}
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for _, v := range s.conflicts {
		rec := *v
		c.conflicts = append(c.conflicts, &rec)
	}
	for k, v := range s.photos {
		c.photos[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// RunInTx реализует services.TxRunner.
func (m *memStore) RunInTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.dataMu.RLock()
	work := m.state.clone()
	m.dataMu.RUnlock()

	if err := fn(newMemRepos(func(_ bool, f func(*memState)) { f(work) })); err != nil {
		return err
	}

	m.dataMu.Lock()
	m.state = work
	m.dataMu.Unlock()
	return nil
}

// repos возвращает репозитории вне транзакции (автокоммит).
func (m *memStore) repos() repository.Repositories {
	return newMemRepos(func(write bool, f func(*memState)) {
		if write {
			m.txMu.Lock()
			defer m.txMu.Unlock()
			m.dataMu.Lock()
			defer m.dataMu.Unlock()
		} else {
			m.dataMu.RLock()
			defer m.dataMu.RUnlock()
		}
		f(m.state)
	})
}

// inspection возвращает зафиксированную копию инспекции.
func (m *memStore) inspection(id string) *models.Inspection {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return m.state.inspections[id].Clone()
}

func (m *memStore) ledgerLen() int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return len(m.state.ledger)
}

func (m *memStore) inspectionsLen() int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return len(m.state.inspections)
}

func (m *memStore) conflictsLen() int {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	return len(m.state.conflicts)
}

func (m *memStore) putInspection(insp *models.Inspection) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.state.inspections[insp.ID] = insp.Clone()
}

func (m *memStore) putTemplate(tpl *models.InspectionTemplate) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.state.templates[tpl.ID] = tpl
}

type withState func(write bool, f func(*memState))

func newMemRepos(with withState) repository.Repositories {
	return repository.Repositories{
		Inspections: &memInspections{with: with},
		Templates:   &memTemplates{with: with},
		Ledger:      &memLedger{with: with},
		Conflicts:   &memConflicts{with: with},
		Photos:      &memPhotos{with: with},
		Users:       &memUsers{with: with},
	}
}

type memInspections struct{ with withState }

func (r *memInspections) LockedRead(_ context.Context, id string) (*models.Inspection, error) {
	var out *models.Inspection
	r.with(false, func(s *memState) { out = s.inspections[id].Clone() })
	if out == nil {
		return nil, repository.ErrInspectionNotFound
	}
	return out, nil
}

func (r *memInspections) Create(_ context.Context, insp *models.Inspection) error {
	var err error
	r.with(true, func(s *memState) {
		if _, ok := s.inspections[insp.ID]; ok {
			err = repository.ErrDuplicateID
			return
		}
		insp.Version = 1
		s.inspections[insp.ID] = insp.Clone()
	})
	return err
}

func (r *memInspections) CompareAndWrite(
	_ context.Context,
	id string,
	expectedVersion int64,
	mutate func(insp *models.Inspection) error,
) (*models.Inspection, error) {
	var (
		out *models.Inspection
		err error
	)
	r.with(true, func(s *memState) {
		current, ok := s.inspections[id]
		if !ok {
			err = repository.ErrInspectionNotFound
			return
		}
		if current.Version != expectedVersion {
			err = &repository.VersionMismatchError{
				Server:   current.Clone(),
				Expected: expectedVersion,
				Actual:   current.Version,
			}
			return
		}
		next := current.Clone()
		if err = mutate(next); err != nil {
			return
		}
		next.ID, next.TemplateID, next.InspectorID, next.CreatedAt =
			current.ID, current.TemplateID, current.InspectorID, current.CreatedAt
		next.Version = current.Version + 1
		s.inspections[id] = next
		out = next.Clone()
	})
	return out, err
}

func (r *memInspections) GetByID(_ context.Context, id string) (*models.Inspection, error) {
	return r.LockedRead(context.Background(), id)
}

func (r *memInspections) List(_ context.Context, filter models.InspectionFilter) ([]models.Inspection, error) {
	var out []models.Inspection
	r.with(false, func(s *memState) {
		for _, insp := range s.inspections {
			if insp.Deleted {
				continue
			}
			if filter.InspectorID != nil && insp.InspectorID != *filter.InspectorID {
				continue
			}
			if filter.Status != nil && insp.Status != *filter.Status {
				continue
			}
			out = append(out, *insp.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memTemplates struct{ with withState }

func (r *memTemplates) Create(_ context.Context, tpl *models.InspectionTemplate) error {
	r.with(true, func(s *memState) { s.templates[tpl.ID] = tpl })
	return nil
}

func (r *memTemplates) GetByID(_ context.Context, id string) (*models.InspectionTemplate, error) {
	var out *models.InspectionTemplate
	r.with(false, func(s *memState) { out = s.templates[id] })
	if out == nil {
		return nil, repository.ErrTemplateNotFound
	}
	return out, nil
}

func (r *memTemplates) List(_ context.Context) ([]models.InspectionTemplate, error) {
	var out []models.InspectionTemplate
	r.with(false, func(s *memState) {
		for _, tpl := range s.templates {
			out = append(out, *tpl)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memLedger struct{ with withState }

func (r *memLedger) Exists(_ context.Context, key string) (bool, error) {
	var ok bool
	r.with(false, func(s *memState) { _, ok = s.ledger[key] })
	return ok, nil
}

func (r *memLedger) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	var out *models.IdempotencyRecord
	r.with(false, func(s *memState) { out = s.ledger[key] })
	if out == nil {
		return nil, repository.ErrIdempotencyKeyNotFound
	}
	return out, nil
}

func (r *memLedger) Record(_ context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	var (
		out *models.IdempotencyRecord
		won bool
	)
	r.with(true, func(s *memState) {
		if existing, ok := s.ledger[rec.IdempotencyKey]; ok {
			out = existing
			return
		}
		stored := *rec
		s.ledger[rec.IdempotencyKey] = &stored
		out, won = &stored, true
	})
	return out, won, nil
}

func (r *memLedger) ListByUser(_ context.Context, userID int64, _, _ int) ([]models.IdempotencyRecord, error) {
	var out []models.IdempotencyRecord
	r.with(false, func(s *memState) {
		for _, rec := range s.ledger {
			if rec.UserID == userID {
				out = append(out, *rec)
			}
		}
	})
	return out, nil
}

type memConflicts struct{ with withState }

func (r *memConflicts) Create(_ context.Context, rec *models.ConflictRecord) (int64, error) {
	r.with(true, func(s *memState) {
		rec.ID = int64(len(s.conflicts) + 1)
		stored := *rec
		s.conflicts = append(s.conflicts, &stored)
	})
	return rec.ID, nil
}

func (r *memConflicts) GetByID(_ context.Context, id int64) (*models.ConflictRecord, error) {
	var out *models.ConflictRecord
	r.with(false, func(s *memState) {
		if id >= 1 && int(id) <= len(s.conflicts) {
			rec := *s.conflicts[id-1]
			out = &rec
		}
	})
	if out == nil {
		return nil, repository.ErrConflictNotFound
	}
	return out, nil
}

func (r *memConflicts) List(_ context.Context, filter models.ConflictFilter) ([]models.ConflictRecord, error) {
	var out []models.ConflictRecord
	r.with(false, func(s *memState) {
		for _, rec := range s.conflicts {
			if filter.UserID != nil && rec.UserID != *filter.UserID {
				continue
			}
			if filter.UnresolvedOnly && rec.Resolved {
				continue
			}
			out = append(out, *rec)
		}
	})
	return out, nil
}

func (r *memConflicts) Resolve(
	_ context.Context,
	id int64,
	strategy string,
	resolvedBy int64,
	at time.Time,
) (*models.ConflictRecord, error) {
	var (
		out *models.ConflictRecord
		err error
	)
	r.with(true, func(s *memState) {
		if id < 1 || int(id) > len(s.conflicts) {
			err = repository.ErrConflictNotFound
			return
		}
		rec := s.conflicts[id-1]
		if rec.Resolved {
			err = repository.ErrConflictAlreadyResolved
			return
		}
		rec.Resolved = true
		rec.ResolvedAt = &at
		rec.ResolvedBy = &resolvedBy
		rec.ResolutionStrategy = &strategy
		c := *rec
		out = &c
	})
	return out, err
}

type memPhotos struct{ with withState }

func (r *memPhotos) Create(_ context.Context, photo *models.Photo) error {
	var err error
	r.with(true, func(s *memState) {
		for _, p := range s.photos {
			if p.ObjectKey == photo.ObjectKey {
				err = repository.ErrPhotoAlreadyExists
				return
			}
		}
		stored := *photo
		s.photos[photo.ID] = &stored
	})
	return err
}

func (r *memPhotos) GetByID(_ context.Context, id string) (*models.Photo, error) {
	var out *models.Photo
	r.with(false, func(s *memState) { out = s.photos[id] })
	if out == nil {
		return nil, repository.ErrPhotoNotFound
	}
	return out, nil
}

func (r *memPhotos) ListByInspection(_ context.Context, inspectionID string) ([]models.Photo, error) {
	var out []models.Photo
	r.with(false, func(s *memState) {
		for _, p := range s.photos {
			if p.InspectionID == inspectionID {
				out = append(out, *p)
			}
		}
	})
	return out, nil
}

func (r *memPhotos) Delete(_ context.Context, id string) error {
	var err error
	r.with(true, func(s *memState) {
		if _, ok := s.photos[id]; !ok {
			err = repository.ErrPhotoNotFound
			return
		}
		delete(s.photos, id)
	})
	return err
}

type memUsers struct{ with withState }

func (r *memUsers) CreateUser(_ context.Context, user *models.User) (int64, error) {
	var err error
	r.with(true, func(s *memState) {
		for _, u := range s.users {
			if u.Email == user.Email {
				err = repository.ErrEmailTaken
				return
			}
		}
		user.ID = int64(len(s.users) + 1)
		stored := *user
		s.users[user.ID] = &stored
	})
	return user.ID, err
}

func (r *memUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	var out *models.User
	r.with(false, func(s *memState) {
		for _, u := range s.users {
			if u.Email == email {
				out = u
			}
		}
	})
	if out == nil {
		return nil, repository.ErrUserNotFound
	}
	return out, nil
}

func (r *memUsers) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	var out *models.User
	r.with(false, func(s *memState) { out = s.users[id] })
	if out == nil {
		return nil, repository.ErrUserNotFound
	}
	return out, nil
}

// Вспомогательные зависимости сервисов.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// seqIDs выдает детерминированные UUID.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuidFor(g.n)
}

func uuidFor(n int) string {
	const base = "00000000-0000-4000-8000-000000000000"
	digits := []byte(base)
	for i, pos := n, len(digits)-1; i > 0 && pos >= 24; i, pos = i/10, pos-1 {
		digits[pos] = byte('0' + i%10)
	}
	return string(digits)
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.InspectionEvent
}

func (p *recordingPublisher) Publish(ev events.InspectionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var _ services.TxRunner = (*memStore)(nil)
