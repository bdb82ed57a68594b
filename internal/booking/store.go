package booking

import (
	"context"
	"time"
)

// Store describes persistence required by the booking services.
type Store interface {
	GetClass(ctx context.Context, id string) (DanceClass, error)
	ListClasses(ctx context.Context, f ClassFilter) ([]DanceClass, error)
	CreateClass(ctx context.Context, c DanceClass) (DanceClass, error)
	// UpdateClass merges upd into the stored class, validates the result and saves it.
	UpdateClass(ctx context.Context, id string, upd ClassUpdate) (DanceClass, error)
	// DeleteClass removes the class and every enrollment referencing it in one
	// committed unit and returns the removed enrollments.
	DeleteClass(ctx context.Context, id string) ([]Enrollment, error)

	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	FindEnrollments(ctx context.Context, f EnrollmentFilter) ([]Enrollment, error)
	CountEnrollments(ctx context.Context, classIDs []string) (map[string]int, error)

	// WithinClass runs fn with exclusive access to the class's enrollments.
	// Calls for the same class never interleave; fn's writes commit together
	// or not at all. Returns ErrClassNotFound if the class does not exist.
	WithinClass(ctx context.Context, classID string, fn func(ctx context.Context, tx Tx) error) error

	UpsertUser(ctx context.Context, u User) error
	LookupUsers(ctx context.Context, ids []string) (map[string]User, error)
}

// Tx is the view of the store handed to WithinClass callbacks.
type Tx interface {
	Class() DanceClass
	FindEnrollments(ctx context.Context, f EnrollmentFilter) ([]Enrollment, error)
	InsertEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	DeleteEnrollment(ctx context.Context, id string) (bool, error)
}

// Notice kinds delivered to a Notifier.
const (
	NoticeClassUpdated = "class.updated"
	NoticeClassDeleted = "class.deleted"
)

// Notice tells enrolled students that a class changed.
type Notice struct {
	Kind       string     `json:"kind"`
	Class      DanceClass `json:"class"`
	StudentIDs []string   `json:"student_ids"`
	At         time.Time  `json:"at"`
}

// Notifier delivers class notices. Delivery failures never fail the
// administrative operation that produced the notice.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notice) error { return nil }
