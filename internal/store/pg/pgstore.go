package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store persists classes, enrollments and the user directory in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ booking.Store = (*Store)(nil)

// New wraps an existing handle. Tests pass a sqlmock connection here.
func New(db *sql.DB) *Store { return &Store{db: db} }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const classColumns = `id, title, level, teacher, start_time, end_time, capacity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClass(row rowScanner) (booking.DanceClass, error) {
	var c booking.DanceClass
	var level string
	if err := row.Scan(&c.ID, &c.Title, &level, &c.Teacher, &c.StartTime, &c.EndTime, &c.Capacity); err != nil {
		return booking.DanceClass{}, err
	}
	c.Level = booking.Level(level)
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	return c, nil
}

func (s *Store) GetClass(ctx context.Context, id string) (booking.DanceClass, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx, `select `+classColumns+` from classes where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.DanceClass{}, booking.ErrClassNotFound
	}
	if err != nil {
		return booking.DanceClass{}, fmt.Errorf("get class: %w", err)
	}
	return c, nil
}

func (s *Store) ListClasses(ctx context.Context, f booking.ClassFilter) ([]booking.DanceClass, error) {
	var after sql.NullTime
	if !f.StartsAfter.IsZero() {
		after = sql.NullTime{Time: f.StartsAfter.UTC(), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+classColumns+`
		from classes
		where ($1::timestamptz is null or start_time > $1)
		order by start_time asc, id asc
	`, after)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	var res []booking.DanceClass
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *Store) CreateClass(ctx context.Context, c booking.DanceClass) (booking.DanceClass, error) {
	if err := c.Validate(); err != nil {
		return booking.DanceClass{}, err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	if _, err := s.db.ExecContext(ctx, `
		insert into classes(id, title, level, teacher, start_time, end_time, capacity)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Title, string(c.Level), c.Teacher, c.StartTime, c.EndTime, c.Capacity); err != nil {
		return booking.DanceClass{}, fmt.Errorf("insert class: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateClass(ctx context.Context, id string, upd booking.ClassUpdate) (booking.DanceClass, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return booking.DanceClass{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := lockClass(ctx, tx, id)
	if err != nil {
		return booking.DanceClass{}, err
	}
	next := upd.Apply(cur)
	if err := next.Validate(); err != nil {
		return booking.DanceClass{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update classes
		set title=$2, level=$3, teacher=$4, start_time=$5, end_time=$6, capacity=$7
		where id=$1
	`, id, next.Title, string(next.Level), next.Teacher, next.StartTime, next.EndTime, next.Capacity); err != nil {
		return booking.DanceClass{}, fmt.Errorf("update class: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return booking.DanceClass{}, err
	}
	return next, nil
}

// DeleteClass removes enrollments and the class in one transaction while
// holding the class row lock, so no enroll can slip in between.
func (s *Store) DeleteClass(ctx context.Context, id string) ([]booking.Enrollment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockClass(ctx, tx, id); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `
		delete from enrollments where class_id=$1
		returning `+enrollmentColumns, id)
	if err != nil {
		return nil, fmt.Errorf("delete enrollments: %w", err)
	}
	removed, err := scanEnrollments(rows)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from classes where id=$1`, id); err != nil {
		return nil, fmt.Errorf("delete class: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func lockClass(ctx context.Context, tx *sql.Tx, id string) (booking.DanceClass, error) {
	c, err := scanClass(tx.QueryRowContext(ctx, `select `+classColumns+` from classes where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return booking.DanceClass{}, booking.ErrClassNotFound
	}
	if err != nil {
		return booking.DanceClass{}, fmt.Errorf("lock class: %w", err)
	}
	return c, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
