package booking

import (
	"context"
	"errors"
	"time"

	"rhythmflow.app/internal/ids"
)

// Option configures Service and Admin.
type Option func(*options)

type options struct {
	now      func() time.Time
	observe  func(op, outcome string)
	notifier Notifier
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithObserver receives the outcome of every enroll and cancel call.
func WithObserver(fn func(op, outcome string)) Option {
	return func(o *options) {
		if fn != nil {
			o.observe = fn
		}
	}
}

// WithNotifier sets the hook that receives class notices.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:      func() time.Time { return time.Now().UTC() },
		observe:  func(string, string) {},
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Service enforces enrollment consistency: no duplicates, no overbooking.
type Service struct {
	store Store
	opts  options
}

func NewService(store Store, opts ...Option) *Service {
	return &Service{store: store, opts: buildOptions(opts)}
}

// Enroll adds the principal to the class. The duplicate and capacity checks
// and the insert run as one unit under the class's WithinClass section.
func (s *Service) Enroll(ctx context.Context, p Principal, classID string) (Enrollment, error) {
	var out Enrollment
	err := s.enroll(ctx, p, classID, &out)
	s.opts.observe("enroll", outcome(err))
	return out, err
}

func (s *Service) enroll(ctx context.Context, p Principal, classID string, out *Enrollment) error {
	if !p.Authenticated() {
		return ErrUnauthorized
	}
	return s.store.WithinClass(ctx, classID, func(ctx context.Context, tx Tx) error {
		current, err := tx.FindEnrollments(ctx, EnrollmentFilter{ClassID: classID})
		if err != nil {
			return err
		}
		for _, e := range current {
			if e.StudentID == p.UserID {
				return ErrDuplicateEnrollment
			}
		}
		if len(current) >= tx.Class().Capacity {
			return ErrCapacityExceeded
		}
		now := s.opts.now()
		e, err := tx.InsertEnrollment(ctx, Enrollment{
			ID:             ids.NewAt(now),
			StudentID:      p.UserID,
			ClassID:        classID,
			EnrollmentDate: now,
		})
		if err != nil {
			return err
		}
		*out = e
		return nil
	})
}

// Cancel removes an enrollment. Students may cancel their own enrollments,
// admins any. Cancelling twice fails with ErrEnrollmentNotFound.
func (s *Service) Cancel(ctx context.Context, p Principal, enrollmentID string) error {
	err := s.cancel(ctx, p, enrollmentID)
	s.opts.observe("cancel", outcome(err))
	return err
}

func (s *Service) cancel(ctx context.Context, p Principal, enrollmentID string) error {
	if !p.Authenticated() {
		return ErrUnauthorized
	}
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if e.StudentID != p.UserID && !p.IsAdmin() {
		return ErrForbidden
	}
	err = s.store.WithinClass(ctx, e.ClassID, func(ctx context.Context, tx Tx) error {
		existed, err := tx.DeleteEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if !existed {
			return ErrEnrollmentNotFound
		}
		return nil
	})
	if errors.Is(err, ErrClassNotFound) {
		// the class was deleted concurrently and took the enrollment with it
		return ErrEnrollmentNotFound
	}
	return err
}

func (s *Service) ListForUser(ctx context.Context, studentID string) ([]Enrollment, error) {
	return s.store.FindEnrollments(ctx, EnrollmentFilter{StudentID: studentID})
}

func (s *Service) ListForClass(ctx context.Context, classID string) ([]Enrollment, error) {
	return s.store.FindEnrollments(ctx, EnrollmentFilter{ClassID: classID})
}

// Occupancy counts live enrollments. Unknown classes have occupancy 0.
func (s *Service) Occupancy(ctx context.Context, classID string) (int, error) {
	counts, err := s.store.CountEnrollments(ctx, []string{classID})
	if err != nil {
		return 0, err
	}
	return counts[classID], nil
}

// Upcoming lists classes starting after now in start order. Enrolled is set
// for classes viewerID is enrolled in; viewerID may be empty.
func (s *Service) Upcoming(ctx context.Context, viewerID string) ([]ClassView, error) {
	classes, err := s.store.ListClasses(ctx, ClassFilter{StartsAfter: s.opts.now()})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, viewerID, classes)
}

// ClassDetail returns a single class with occupancy.
func (s *Service) ClassDetail(ctx context.Context, viewerID, classID string) (ClassView, error) {
	c, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return ClassView{}, err
	}
	views, err := s.views(ctx, viewerID, []DanceClass{c})
	if err != nil {
		return ClassView{}, err
	}
	return views[0], nil
}

func (s *Service) views(ctx context.Context, viewerID string, classes []DanceClass) ([]ClassView, error) {
	classIDs := make([]string, len(classes))
	for i, c := range classes {
		classIDs[i] = c.ID
	}
	counts, err := s.store.CountEnrollments(ctx, classIDs)
	if err != nil {
		return nil, err
	}
	mine := map[string]bool{}
	if viewerID != "" {
		own, err := s.store.FindEnrollments(ctx, EnrollmentFilter{StudentID: viewerID})
		if err != nil {
			return nil, err
		}
		for _, e := range own {
			mine[e.ClassID] = true
		}
	}
	res := make([]ClassView, 0, len(classes))
	for _, c := range classes {
		res = append(res, newClassView(c, counts[c.ID], mine[c.ID]))
	}
	return res, nil
}

// MyClasses joins the principal's enrollments with their classes.
func (s *Service) MyClasses(ctx context.Context, p Principal) ([]EnrolledClass, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthorized
	}
	own, err := s.store.FindEnrollments(ctx, EnrollmentFilter{StudentID: p.UserID})
	if err != nil {
		return nil, err
	}
	res := make([]EnrolledClass, 0, len(own))
	for _, e := range own {
		c, err := s.store.GetClass(ctx, e.ClassID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, EnrolledClass{Enrollment: e, Class: c})
	}
	return res, nil
}

// Roster lists a class's students. Admin only.
func (s *Service) Roster(ctx context.Context, p Principal, classID string) (Roster, error) {
	if err := requireAdmin(p); err != nil {
		return Roster{}, err
	}
	c, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return Roster{}, err
	}
	enrolled, err := s.store.FindEnrollments(ctx, EnrollmentFilter{ClassID: classID})
	if err != nil {
		return Roster{}, err
	}
	studentIDs := make([]string, len(enrolled))
	for i, e := range enrolled {
		studentIDs[i] = e.StudentID
	}
	users, err := s.store.LookupUsers(ctx, studentIDs)
	if err != nil {
		return Roster{}, err
	}
	r := Roster{Class: c, Occupancy: len(enrolled), Entries: make([]RosterEntry, 0, len(enrolled))}
	for _, e := range enrolled {
		u, ok := users[e.StudentID]
		if !ok {
			u = User{ID: e.StudentID}
		}
		r.Entries = append(r.Entries, RosterEntry{Enrollment: e, Student: u})
	}
	return r, nil
}

func requireAdmin(p Principal) error {
	if !p.Authenticated() {
		return ErrUnauthorized
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateEnrollment):
		return "duplicate"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
