package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertTeam creates or updates a team
func (db *DB) UpsertTeam(ctx context.Context, t Team) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO teams (uid, name, logo_url) VALUES ($1, $2, $3)
		 ON CONFLICT (uid) DO UPDATE SET name = excluded.name, logo_url = excluded.logo_url`,
		t.UID, t.Name, t.LogoURL,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert team: %w", err)
	}
	return nil
}

// UpsertMember creates or updates a member. Emails are stored lower-cased.
func (db *DB) UpsertMember(ctx context.Context, m Member) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO members (uid, name, email, image_url, team_uid) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (uid) DO UPDATE SET name = excluded.name, email = excluded.email,
		 image_url = excluded.image_url, team_uid = excluded.team_uid`,
		m.UID, m.Name, strings.ToLower(m.Email), m.ImageURL, m.TeamUID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// GetMemberByEmail resolves a signed-in user to a directory member
func (db *DB) GetMemberByEmail(ctx context.Context, email string) (*Member, error) {
	m := &Member{}
	err := db.QueryRowContext(ctx,
		`SELECT uid, name, email, image_url, team_uid FROM members WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&m.UID, &m.Name, &m.Email, &m.ImageURL, &m.TeamUID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return m, nil
}
