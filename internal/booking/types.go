package booking

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Role gates administrative operations.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a role name. Unknown names are rejected.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Principal is the authenticated identity acting on a request.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (p Principal) Authenticated() bool { return strings.TrimSpace(p.UserID) != "" }
func (p Principal) IsAdmin() bool       { return p.Authenticated() && p.Role == RoleAdmin }

// User mirrors an identity-provider account so rosters can show names.
type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
)

func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// DanceClass is a scheduled class. Capacity bounds its live enrollments.
type DanceClass struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Level     Level     `json:"level"`
	Teacher   string    `json:"teacher"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
}

// Validate checks the class fields an administrator may set.
func (c DanceClass) Validate() error {
	switch {
	case utf8.RuneCountInString(strings.TrimSpace(c.Title)) < 3:
		return fmt.Errorf("%w: title must be at least 3 characters", ErrInvalidClass)
	case utf8.RuneCountInString(strings.TrimSpace(c.Teacher)) < 2:
		return fmt.Errorf("%w: teacher name is required", ErrInvalidClass)
	case !c.Level.Valid():
		return fmt.Errorf("%w: unknown level %q", ErrInvalidClass, c.Level)
	case c.StartTime.IsZero() || c.EndTime.IsZero():
		return fmt.Errorf("%w: start and end time are required", ErrInvalidClass)
	case !c.EndTime.After(c.StartTime):
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidClass)
	case c.Capacity < 1:
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalidClass)
	}
	return nil
}

// ClassUpdate carries a partial update; nil fields are left unchanged.
type ClassUpdate struct {
	Title     *string    `json:"title,omitempty"`
	Level     *Level     `json:"level,omitempty"`
	Teacher   *string    `json:"teacher,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Capacity  *int       `json:"capacity,omitempty"`
}

func (u ClassUpdate) Empty() bool {
	return u.Title == nil && u.Level == nil && u.Teacher == nil &&
		u.StartTime == nil && u.EndTime == nil && u.Capacity == nil
}

// Apply returns c with the update merged in. The result is not validated.
func (u ClassUpdate) Apply(c DanceClass) DanceClass {
	if u.Title != nil {
		c.Title = strings.TrimSpace(*u.Title)
	}
	if u.Level != nil {
		c.Level = *u.Level
	}
	if u.Teacher != nil {
		c.Teacher = strings.TrimSpace(*u.Teacher)
	}
	if u.StartTime != nil {
		c.StartTime = u.StartTime.UTC()
	}
	if u.EndTime != nil {
		c.EndTime = u.EndTime.UTC()
	}
	if u.Capacity != nil {
		c.Capacity = *u.Capacity
	}
	return c
}

// Enrollment joins a student to a class.
type Enrollment struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	ClassID        string    `json:"class_id"`
	EnrollmentDate time.Time `json:"enrollment_date"`
}

// EnrollmentFilter narrows enrollment queries. Empty fields match everything.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
}

func (f EnrollmentFilter) Match(e Enrollment) bool {
	if f.StudentID != "" && e.StudentID != f.StudentID {
		return false
	}
	if f.ClassID != "" && e.ClassID != f.ClassID {
		return false
	}
	return true
}

// ClassFilter narrows class listings. A zero StartsAfter lists every class.
type ClassFilter struct {
	StartsAfter time.Time
}

// ClassView is a class annotated with occupancy for a particular viewer.
type ClassView struct {
	DanceClass
	Occupancy int  `json:"occupancy"`
	Full      bool `json:"full"`
	Enrolled  bool `json:"enrolled"`
}

func newClassView(c DanceClass, occupancy int, enrolled bool) ClassView {
	return ClassView{
		DanceClass: c,
		Occupancy:  occupancy,
		Full:       occupancy >= c.Capacity,
		Enrolled:   enrolled,
	}
}

// EnrolledClass is one row of a student's schedule.
type EnrolledClass struct {
	Enrollment Enrollment `json:"enrollment"`
	Class      DanceClass `json:"class"`
}

// RosterEntry is one enrolled student of a class.
type RosterEntry struct {
	Enrollment Enrollment `json:"enrollment"`
	Student    User       `json:"student"`
}

type Roster struct {
	Class     DanceClass    `json:"class"`
	Occupancy int           `json:"occupancy"`
	Entries   []RosterEntry `json:"entries"`
}
