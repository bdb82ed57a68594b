package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/ids"
)

const enrollmentColumns = `id, student_id, class_id, enrolled_at`

func scanEnrollments(rows *sql.Rows) ([]booking.Enrollment, error) {
	defer rows.Close()
	var res []booking.Enrollment
	for rows.Next() {
		var e booking.Enrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.ClassID, &e.EnrollmentDate); err != nil {
			return nil, err
		}
		e.EnrollmentDate = e.EnrollmentDate.UTC()
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// delete ... returning has no order by
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].EnrollmentDate.Equal(res[j].EnrollmentDate) {
			return res[i].ID < res[j].ID
		}
		return res[i].EnrollmentDate.Before(res[j].EnrollmentDate)
	})
	return res, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findEnrollments(ctx context.Context, q querier, f booking.EnrollmentFilter) ([]booking.Enrollment, error) {
	rows, err := q.QueryContext(ctx, `
		select `+enrollmentColumns+`
		from enrollments
		where ($1 = '' or student_id = $1) and ($2 = '' or class_id = $2)
		order by enrolled_at asc, id asc
	`, f.StudentID, f.ClassID)
	if err != nil {
		return nil, fmt.Errorf("find enrollments: %w", err)
	}
	return scanEnrollments(rows)
}

func (s *Store) GetEnrollment(ctx context.Context, id string) (booking.Enrollment, error) {
	var e booking.Enrollment
	err := s.db.QueryRowContext(ctx, `select `+enrollmentColumns+` from enrollments where id=$1`, id).
		Scan(&e.ID, &e.StudentID, &e.ClassID, &e.EnrollmentDate)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Enrollment{}, booking.ErrEnrollmentNotFound
	}
	if err != nil {
		return booking.Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	e.EnrollmentDate = e.EnrollmentDate.UTC()
	return e, nil
}

func (s *Store) FindEnrollments(ctx context.Context, f booking.EnrollmentFilter) ([]booking.Enrollment, error) {
	return findEnrollments(ctx, s.db, f)
}

func (s *Store) CountEnrollments(ctx context.Context, classIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(classIDs))
	if len(classIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select class_id, count(*)
		from enrollments
		where class_id = any($1)
		group by class_id
	`, classIDs)
	if err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// WithinClass locks the class row for the duration of fn. Concurrent callers
// for the same class queue on the row lock; the unique index on
// (class_id, student_id) backs up the duplicate check.
func (s *Store) WithinClass(ctx context.Context, classID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	class, err := lockClass(ctx, tx, classID)
	if err != nil {
		return err
	}
	if err := fn(ctx, &classTx{tx: tx, class: class}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapWriteError(err)
	}
	return nil
}

type classTx struct {
	tx    *sql.Tx
	class booking.DanceClass
}

func (t *classTx) Class() booking.DanceClass { return t.class }

func (t *classTx) FindEnrollments(ctx context.Context, f booking.EnrollmentFilter) ([]booking.Enrollment, error) {
	f.ClassID = t.class.ID
	return findEnrollments(ctx, t.tx, f)
}

func (t *classTx) InsertEnrollment(ctx context.Context, e booking.Enrollment) (booking.Enrollment, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.EnrollmentDate.IsZero() {
		e.EnrollmentDate = time.Now().UTC()
	}
	e.ClassID = t.class.ID
	if _, err := t.tx.ExecContext(ctx, `
		insert into enrollments(id, student_id, class_id, enrolled_at)
		values ($1,$2,$3,$4)
	`, e.ID, e.StudentID, e.ClassID, e.EnrollmentDate); err != nil {
		return booking.Enrollment{}, mapWriteError(err)
	}
	return e, nil
}

func (t *classTx) DeleteEnrollment(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `delete from enrollments where id=$1 and class_id=$2`, id, t.class.ID)
	if err != nil {
		return false, fmt.Errorf("delete enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return booking.ErrDuplicateEnrollment
		case pgErrForeignKeyViolation:
			return booking.ErrClassNotFound
		}
	}
	return err
}
