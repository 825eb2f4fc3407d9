package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AlexTLDR/irl/internal/irl"
)

// Subscription returns the member's subscription to an entity, or nil when none exists
func (db *DB) Subscription(ctx context.Context, memberUID, entityUID string) (*irl.Subscription, error) {
	s := &irl.Subscription{}
	err := db.QueryRowContext(ctx,
		`SELECT uid, member_uid, entity_type, entity_uid, is_active
		 FROM member_subscriptions WHERE member_uid = $1 AND entity_uid = $2`,
		memberUID, entityUID,
	).Scan(&s.UID, &s.MemberUID, &s.EntityType, &s.EntityUID, &s.IsActive)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// CreateSubscription stores a new subscription with a generated uid
func (db *DB) CreateSubscription(ctx context.Context, s irl.Subscription) (*irl.Subscription, error) {
	if s.EntityType == "" {
		s.EntityType = irl.EntityLocation
	}
	s.UID = uuid.NewString()

	_, err := db.ExecContext(ctx,
		`INSERT INTO member_subscriptions (uid, member_uid, entity_type, entity_uid, is_active)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.UID, s.MemberUID, s.EntityType, s.EntityUID, s.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &s, nil
}

// UpdateSubscription switches a subscription on or off
func (db *DB) UpdateSubscription(ctx context.Context, uid string, isActive bool) (*irl.Subscription, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE member_subscriptions SET is_active = $1 WHERE uid = $2`,
		isActive, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	s := &irl.Subscription{}
	err = db.QueryRowContext(ctx,
		`SELECT uid, member_uid, entity_type, entity_uid, is_active FROM member_subscriptions WHERE uid = $1`,
		uid,
	).Scan(&s.UID, &s.MemberUID, &s.EntityType, &s.EntityUID, &s.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// Followers lists the active subscriptions to an entity. A location may also be given by slug.
func (db *DB) Followers(ctx context.Context, entityUID string) ([]irl.Subscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT uid, member_uid, entity_type, entity_uid, is_active
		 FROM member_subscriptions
		 WHERE (entity_uid = $1 OR entity_uid IN (SELECT uid FROM locations WHERE slug = $1)) AND is_active = $2
		 ORDER BY created_at, uid`,
		entityUID, true,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get followers: %w", err)
	}
	defer rows.Close()

	var subs []irl.Subscription
	for rows.Next() {
		var s irl.Subscription
		if err := rows.Scan(&s.UID, &s.MemberUID, &s.EntityType, &s.EntityUID, &s.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read followers: %w", err)
	}

	return subs, nil
}
