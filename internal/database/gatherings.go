package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AlexTLDR/irl/internal/irl"
)

// UpsertLocation creates or updates a location
func (db *DB) UpsertLocation(ctx context.Context, l irl.Location) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO locations (uid, name, slug) VALUES ($1, $2, $3)
		 ON CONFLICT (uid) DO UPDATE SET name = excluded.name, slug = excluded.slug`,
		l.UID, l.Name, l.Slug,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}
	return nil
}

// GetLocation looks a location up by uid or slug
func (db *DB) GetLocation(ctx context.Context, uidOrSlug string) (*irl.Location, error) {
	l := &irl.Location{}
	err := db.QueryRowContext(ctx,
		`SELECT uid, name, slug FROM locations WHERE uid = $1 OR slug = $1`,
		uidOrSlug,
	).Scan(&l.UID, &l.Name, &l.Slug)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	return l, nil
}

// UpsertGathering creates or updates a gathering of a location
func (db *DB) UpsertGathering(ctx context.Context, locationUID string, g irl.Gathering) error {
	resources, err := json.Marshal(nonNil(g.Resources))
	if err != nil {
		return fmt.Errorf("failed to encode resources: %w", err)
	}

	kind := g.Type
	if kind == "" {
		kind = irl.GatheringOpen
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO gatherings (uid, location_uid, name, slug, type, logo_url, resources, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (uid) DO UPDATE SET location_uid = excluded.location_uid, name = excluded.name,
		 slug = excluded.slug, type = excluded.type, logo_url = excluded.logo_url,
		 resources = excluded.resources, start_date = excluded.start_date, end_date = excluded.end_date`,
		g.UID, locationUID, g.Name, g.Slug, string(kind), g.LogoURL, string(resources), g.StartDate.UTC(), g.EndDate.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert gathering: %w", err)
	}
	return nil
}

// GatheringsByLocation returns every gathering of a location by start date
func (db *DB) GatheringsByLocation(ctx context.Context, locationUID string) ([]irl.Gathering, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT uid, name, slug, type, logo_url, resources, start_date, end_date
		 FROM gatherings WHERE location_uid = $1 ORDER BY start_date, uid`,
		locationUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get gatherings: %w", err)
	}
	defer rows.Close()

	var gatherings []irl.Gathering
	for rows.Next() {
		var (
			g         irl.Gathering
			kind      string
			resources string
		)
		if err := rows.Scan(&g.UID, &g.Name, &g.Slug, &kind, &g.LogoURL, &resources, &g.StartDate, &g.EndDate); err != nil {
			return nil, fmt.Errorf("failed to scan gathering: %w", err)
		}
		g.Type = irl.GatheringType(kind)
		if err := json.Unmarshal([]byte(resources), &g.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources of %s: %w", g.UID, err)
		}
		gatherings = append(gatherings, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gatherings: %w", err)
	}

	return gatherings, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
