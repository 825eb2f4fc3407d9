package attendance

import (
	"context"

	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// GuestReader reads the guest list of a location
type GuestReader interface {
	GuestsByLocation(ctx context.Context, q irl.GuestQuery) (*irl.GuestList, error)
}

// GuestWriter mutates the guest list of a location
type GuestWriter interface {
	CreateGuest(ctx context.Context, locationUID string, g irl.Guest) error
	EditGuest(ctx context.Context, locationUID, memberUID string, g irl.Guest) error
	DeleteGuests(ctx context.Context, locationUID string, membersAndEvents []irl.MemberEvents) error
}

// FollowService manages member subscriptions to locations.
// Subscription returns nil, nil when the member never followed the entity.
type FollowService interface {
	Subscription(ctx context.Context, memberUID, entityUID string) (*irl.Subscription, error)
	CreateSubscription(ctx context.Context, s irl.Subscription) (*irl.Subscription, error)
	UpdateSubscription(ctx context.Context, uid string, isActive bool) (*irl.Subscription, error)
	Followers(ctx context.Context, entityUID string) ([]irl.Subscription, error)
}

// GuestService is everything the attendee engine needs from the backend.
// database.DB and guestapi.Client both implement it.
type GuestService interface {
	GuestReader
	GuestWriter
	FollowService
}

// Session is the open form or dialog a mutation was started from.
// The caller decides how loading, toasts and closing are shown.
type Session interface {
	SetLoading(on bool)
	Toast(t notify.Toast)
	Close()
}
