package booking

import (
	"context"
	"strings"

	"rhythmflow.app/internal/obs"
)

// Admin manages the class catalog. Every operation requires RoleAdmin.
type Admin struct {
	store Store
	opts  options
}

func NewAdmin(store Store, opts ...Option) *Admin {
	return &Admin{store: store, opts: buildOptions(opts)}
}

func (a *Admin) CreateClass(ctx context.Context, p Principal, c DanceClass) (DanceClass, error) {
	if err := requireAdmin(p); err != nil {
		return DanceClass{}, err
	}
	c.ID = ""
	c.Title = strings.TrimSpace(c.Title)
	c.Teacher = strings.TrimSpace(c.Teacher)
	if err := c.Validate(); err != nil {
		return DanceClass{}, err
	}
	return a.store.CreateClass(ctx, c)
}

// UpdateClass applies a partial update. Lowering capacity below the current
// occupancy is allowed; existing enrollments are kept.
func (a *Admin) UpdateClass(ctx context.Context, p Principal, id string, upd ClassUpdate) (DanceClass, error) {
	if err := requireAdmin(p); err != nil {
		return DanceClass{}, err
	}
	if upd.Empty() {
		return a.store.GetClass(ctx, id)
	}
	c, err := a.store.UpdateClass(ctx, id, upd)
	if err != nil {
		return DanceClass{}, err
	}
	enrolled, err := a.store.FindEnrollments(ctx, EnrollmentFilter{ClassID: id})
	if err != nil {
		a.logNoticeFailure(NoticeClassUpdated, id, err)
		return c, nil
	}
	a.notify(ctx, NoticeClassUpdated, c, enrolled)
	return c, nil
}

// DeleteClass removes the class together with its enrollments.
func (a *Admin) DeleteClass(ctx context.Context, p Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	c, err := a.store.GetClass(ctx, id)
	if err != nil {
		return err
	}
	removed, err := a.store.DeleteClass(ctx, id)
	if err != nil {
		return err
	}
	a.notify(ctx, NoticeClassDeleted, c, removed)
	return nil
}

func (a *Admin) notify(ctx context.Context, kind string, c DanceClass, enrolled []Enrollment) {
	if len(enrolled) == 0 {
		return
	}
	students := make([]string, len(enrolled))
	for i, e := range enrolled {
		students[i] = e.StudentID
	}
	n := Notice{Kind: kind, Class: c, StudentIDs: students, At: a.opts.now()}
	if err := a.opts.notifier.Notify(ctx, n); err != nil {
		a.logNoticeFailure(kind, c.ID, err)
	}
}

func (a *Admin) logNoticeFailure(kind, classID string, err error) {
	obs.LogJSON(map[string]any{
		"level":    "warn",
		"msg":      "class notice not delivered",
		"kind":     kind,
		"class_id": classID,
		"error":    err.Error(),
	})
}
