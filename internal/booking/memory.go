package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"rhythmflow.app/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety.
// WithinClass serializes per class; different classes never block each other
// beyond the short critical sections on mu.
type InMemory struct {
	mu          sync.RWMutex
	classes     map[string]DanceClass
	enrollments map[string]Enrollment
	users       map[string]User

	locks classLocks
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		classes:     make(map[string]DanceClass),
		enrollments: make(map[string]Enrollment),
		users:       make(map[string]User),
		locks:       classLocks{held: make(map[string]*classLock)},
	}
}

func (s *InMemory) GetClass(ctx context.Context, id string) (DanceClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return DanceClass{}, ErrClassNotFound
	}
	return c, nil
}

func (s *InMemory) ListClasses(ctx context.Context, f ClassFilter) ([]DanceClass, error) {
	s.mu.RLock()
	res := make([]DanceClass, 0, len(s.classes))
	for _, c := range s.classes {
		if !f.StartsAfter.IsZero() && !c.StartTime.After(f.StartsAfter) {
			continue
		}
		res = append(res, c)
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].StartTime.Equal(res[j].StartTime) {
			return res[i].ID < res[j].ID
		}
		return res[i].StartTime.Before(res[j].StartTime)
	})
	return res, nil
}

func (s *InMemory) CreateClass(ctx context.Context, c DanceClass) (DanceClass, error) {
	if err := c.Validate(); err != nil {
		return DanceClass{}, err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[c.ID] = c
	return c, nil
}

func (s *InMemory) UpdateClass(ctx context.Context, id string, upd ClassUpdate) (DanceClass, error) {
	release := s.locks.acquire(id)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.classes[id]
	if !ok {
		return DanceClass{}, ErrClassNotFound
	}
	next := upd.Apply(cur)
	if err := next.Validate(); err != nil {
		return DanceClass{}, err
	}
	s.classes[id] = next
	return next, nil
}

func (s *InMemory) DeleteClass(ctx context.Context, id string) ([]Enrollment, error) {
	release := s.locks.acquire(id)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return nil, ErrClassNotFound
	}
	var removed []Enrollment
	for eid, e := range s.enrollments {
		if e.ClassID == id {
			removed = append(removed, e)
			delete(s.enrollments, eid)
		}
	}
	delete(s.classes, id)
	sortEnrollments(removed)
	return removed, nil
}

func (s *InMemory) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[id]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return e, nil
}

func (s *InMemory) FindEnrollments(ctx context.Context, f EnrollmentFilter) ([]Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(f), nil
}

func (s *InMemory) findLocked(f EnrollmentFilter) []Enrollment {
	var res []Enrollment
	for _, e := range s.enrollments {
		if f.Match(e) {
			res = append(res, e)
		}
	}
	sortEnrollments(res)
	return res
}

func (s *InMemory) CountEnrollments(ctx context.Context, classIDs []string) (map[string]int, error) {
	want := make(map[string]struct{}, len(classIDs))
	for _, id := range classIDs {
		want[id] = struct{}{}
	}
	counts := make(map[string]int, len(classIDs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.enrollments {
		if _, ok := want[e.ClassID]; ok {
			counts[e.ClassID]++
		}
	}
	return counts, nil
}

func (s *InMemory) WithinClass(ctx context.Context, classID string, fn func(ctx context.Context, tx Tx) error) error {
	release := s.locks.acquire(classID)
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}
	class, err := s.GetClass(ctx, classID)
	if err != nil {
		return err
	}
	tx := &memTx{store: s, class: class}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// UpsertUser records the directory entry. Empty name or email keep the stored value.
func (s *InMemory) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok {
		if strings.TrimSpace(u.FullName) == "" {
			u.FullName = prev.FullName
		}
		if strings.TrimSpace(u.Email) == "" {
			u.Email = prev.Email
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *InMemory) LookupUsers(ctx context.Context, userIDs []string) (map[string]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[string]User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			res[id] = u
		}
	}
	return res, nil
}

// memTx buffers writes until the callback returns without error.
type memTx struct {
	store   *InMemory
	class   DanceClass
	inserts []Enrollment
	deletes map[string]struct{}
}

func (tx *memTx) Class() DanceClass { return tx.class }

func (tx *memTx) FindEnrollments(ctx context.Context, f EnrollmentFilter) ([]Enrollment, error) {
	f.ClassID = tx.class.ID
	tx.store.mu.RLock()
	base := tx.store.findLocked(f)
	tx.store.mu.RUnlock()

	res := base[:0:0]
	for _, e := range base {
		if _, gone := tx.deletes[e.ID]; !gone {
			res = append(res, e)
		}
	}
	for _, e := range tx.inserts {
		if f.Match(e) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (tx *memTx) InsertEnrollment(ctx context.Context, e Enrollment) (Enrollment, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.EnrollmentDate.IsZero() {
		e.EnrollmentDate = time.Now().UTC()
	}
	e.ClassID = tx.class.ID
	tx.inserts = append(tx.inserts, e)
	return e, nil
}

func (tx *memTx) DeleteEnrollment(ctx context.Context, id string) (bool, error) {
	for i, e := range tx.inserts {
		if e.ID == id {
			tx.inserts = append(tx.inserts[:i], tx.inserts[i+1:]...)
			return true, nil
		}
	}
	if _, gone := tx.deletes[id]; gone {
		return false, nil
	}
	tx.store.mu.RLock()
	e, ok := tx.store.enrollments[id]
	tx.store.mu.RUnlock()
	if !ok || e.ClassID != tx.class.ID {
		return false, nil
	}
	if tx.deletes == nil {
		tx.deletes = make(map[string]struct{})
	}
	tx.deletes[id] = struct{}{}
	return true, nil
}

func (tx *memTx) commit() error {
	if len(tx.inserts) == 0 && len(tx.deletes) == 0 {
		return nil
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[tx.class.ID]; !ok {
		return ErrClassNotFound
	}
	for id := range tx.deletes {
		delete(s.enrollments, id)
	}
	for _, e := range tx.inserts {
		s.enrollments[e.ID] = e
	}
	return nil
}

func sortEnrollments(es []Enrollment) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].EnrollmentDate.Equal(es[j].EnrollmentDate) {
			return es[i].ID < es[j].ID
		}
		return es[i].EnrollmentDate.Before(es[j].EnrollmentDate)
	})
}

// classLocks hands out one mutex per class id and forgets it once unused.
type classLocks struct {
	mu   sync.Mutex
	held map[string]*classLock
}

type classLock struct {
	mu   sync.Mutex
	refs int
}

func (l *classLocks) acquire(id string) (release func()) {
	l.mu.Lock()
	lk, ok := l.held[id]
	if !ok {
		lk = &classLock{}
		l.held[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

func (l *classLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
