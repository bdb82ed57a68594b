package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rhythmflow.app/internal/booking"
)

// UpsertUser records the directory entry. Empty name or email keep the stored value.
func (s *Store) UpsertUser(ctx context.Context, u booking.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	role := u.Role
	if role == "" {
		role = booking.RoleStudent
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, full_name, email, role, updated_at)
		values ($1, coalesce($2, ''), coalesce($3, ''), $4, now())
		on conflict (id) do update
		set full_name = coalesce($2, users.full_name),
		    email = coalesce($3, users.email),
		    role = excluded.role,
		    updated_at = now()
	`, u.ID, nullIfEmpty(u.FullName), nullIfEmpty(u.Email), string(role))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) LookupUsers(ctx context.Context, userIDs []string) (map[string]booking.User, error) {
	res := make(map[string]booking.User, len(userIDs))
	if len(userIDs) == 0 {
		return res, nil
	}
	rows, err := s.db.QueryContext(ctx, `select id, full_name, email, role from users where id = any($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u booking.User
		var role string
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &role); err != nil {
			return nil, err
		}
		u.Role = booking.Role(role)
		res[u.ID] = u
	}
	return res, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
