package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AlexTLDR/irl/internal/irl"
)

// GuestsByLocation returns the guest list of a location limited to its upcoming
// or past gatherings (optionally a single one by slug)
func (db *DB) GuestsByLocation(ctx context.Context, q irl.GuestQuery) (*irl.GuestList, error) {
	loc, err := db.GetLocation(ctx, q.LocationUID)
	if err != nil {
		return nil, err
	}

	all, err := db.GatheringsByLocation(ctx, loc.UID)
	if err != nil {
		return nil, err
	}

	list := &irl.GuestList{
		Location:       *loc,
		Guests:         []irl.Guest{},
		Gatherings:     []irl.Gathering{},
		UpcomingEvents: []irl.Gathering{},
		PastEvents:     []irl.Gathering{},
	}

	now := time.Now()
	for _, g := range all {
		if g.EndDate.Before(now) {
			list.PastEvents = append(list.PastEvents, g)
		} else {
			list.UpcomingEvents = append(list.UpcomingEvents, g)
		}
	}

	scope := list.UpcomingEvents
	if q.Type == irl.EventsPast {
		scope = list.PastEvents
	}
	inScope := make(map[string]irl.Gathering)
	for _, g := range scope {
		if q.EventSlug != "" && g.Slug != q.EventSlug {
			continue
		}
		inScope[g.UID] = g
		list.Gatherings = append(list.Gatherings, g)
	}

	guests, err := db.loadGuests(ctx, loc.UID)
	if err != nil {
		return nil, err
	}
	events, err := db.loadGuestEvents(ctx, loc.UID)
	if err != nil {
		return nil, err
	}

	for _, row := range guests {
		for _, ev := range events[row.uid] {
			g, ok := inScope[ev.gatheringUID]
			if !ok {
				continue
			}
			ev.event.Gathering = g
			row.guest.Events = append(row.guest.Events, ev.event)
		}
		if len(row.guest.Events) == 0 {
			continue
		}
		sort.SliceStable(row.guest.Events, func(i, j int) bool {
			return row.guest.Events[i].StartDate.Before(row.guest.Events[j].StartDate)
		})
		list.Guests = append(list.Guests, row.guest)
	}

	list.CurrentGuest = irl.FindGuest(list.Guests, q.MemberUID)
	list.IsUserGoing = list.CurrentGuest != nil

	return list, nil
}

type guestRow struct {
	uid   string
	guest irl.Guest
}

func (db *DB) loadGuests(ctx context.Context, locationUID string) ([]guestRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT g.uid, g.member_uid, COALESCE(m.name, ''), COALESCE(m.image_url, ''),
			g.team_uid, COALESCE(t.name, ''), COALESCE(t.logo_url, ''),
			g.reason, g.telegram_id, g.office_hours, g.topics, g.check_in_date, g.check_out_date
		 FROM guests g
		 LEFT JOIN members m ON m.uid = g.member_uid
		 LEFT JOIN teams t ON t.uid = g.team_uid
		 WHERE g.location_uid = $1
		 ORDER BY g.created_at, g.uid`,
		locationUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get guests: %w", err)
	}
	defer rows.Close()

	var out []guestRow
	for rows.Next() {
		var (
			r      guestRow
			topics string
		)
		g := &r.guest
		err := rows.Scan(&r.uid, &g.MemberUID, &g.MemberName, &g.MemberImage,
			&g.TeamUID, &g.TeamName, &g.TeamLogo,
			&g.Reason, &g.TelegramID, &g.OfficeHours, &topics,
			&g.AdditionalInfo.CheckInDate, &g.AdditionalInfo.CheckOutDate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &g.Topics); err != nil {
			return nil, fmt.Errorf("failed to decode topics of guest %s: %w", r.uid, err)
		}
		g.Topics = nonNil(g.Topics)
		g.Events = []irl.GuestEvent{}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read guests: %w", err)
	}

	return out, nil
}

type guestEventRow struct {
	gatheringUID string
	event        irl.GuestEvent
}

func (db *DB) loadGuestEvents(ctx context.Context, locationUID string) (map[string][]guestEventRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ge.guest_uid, ge.gathering_uid, ge.is_host, ge.is_speaker, ge.host_sub_events, ge.speaker_sub_events
		 FROM guest_events ge
		 JOIN guests g ON g.uid = ge.guest_uid
		 WHERE g.location_uid = $1`,
		locationUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get guest events: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]guestEventRow)
	for rows.Next() {
		var (
			guestUID      string
			r             guestEventRow
			hosts, speaks string
		)
		if err := rows.Scan(&guestUID, &r.gatheringUID, &r.event.IsHost, &r.event.IsSpeaker, &hosts, &speaks); err != nil {
			return nil, fmt.Errorf("failed to scan guest event: %w", err)
		}
		if err := json.Unmarshal([]byte(hosts), &r.event.HostSubEvents); err != nil {
			return nil, fmt.Errorf("failed to decode host sub-events: %w", err)
		}
		if err := json.Unmarshal([]byte(speaks), &r.event.SpeakerSubEvents); err != nil {
			return nil, fmt.Errorf("failed to decode speaker sub-events: %w", err)
		}
		r.event.HostSubEvents = nonNil(r.event.HostSubEvents)
		r.event.SpeakerSubEvents = nonNil(r.event.SpeakerSubEvents)
		out[guestUID] = append(out[guestUID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read guest events: %w", err)
	}

	return out, nil
}

// CreateGuest registers a member for a location given by uid or slug. A member
// has at most one guest record per location; a second create returns ErrGuestExists.
func (db *DB) CreateGuest(ctx context.Context, locationUID string, g irl.Guest) error {
	if g.MemberUID == "" {
		return fmt.Errorf("failed to create guest: member uid is required")
	}

	loc, err := db.GetLocation(ctx, locationUID)
	if err != nil {
		return err
	}
	locationUID = loc.UID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = guestUID(ctx, tx, locationUID, g.MemberUID)
	if err == nil {
		return ErrGuestExists
	}
	if !errors.Is(err, ErrGuestNotFound) {
		return err
	}

	topics, err := json.Marshal(nonNil(g.Topics))
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	uid := uuid.NewString()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO guests (uid, location_uid, member_uid, team_uid, reason, telegram_id, office_hours, topics, check_in_date, check_out_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		uid, locationUID, g.MemberUID, g.TeamUID, g.Reason, g.TelegramID, g.OfficeHours, string(topics),
		g.AdditionalInfo.CheckInDate, g.AdditionalInfo.CheckOutDate, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create guest: %w", err)
	}

	if err := upsertGuestEvents(ctx, tx, locationUID, uid, g.Events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// EditGuest updates a guest's details and the role data of the gatherings in g.
// Gatherings not named in g are kept; removal goes through DeleteGuests.
func (db *DB) EditGuest(ctx context.Context, locationUID, memberUID string, g irl.Guest) error {
	loc, err := db.GetLocation(ctx, locationUID)
	if err != nil {
		return err
	}
	locationUID = loc.UID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	uid, err := guestUID(ctx, tx, locationUID, memberUID)
	if err != nil {
		return err
	}

	topics, err := json.Marshal(nonNil(g.Topics))
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE guests SET team_uid = $1, reason = $2, telegram_id = $3, office_hours = $4, topics = $5,
		 check_in_date = $6, check_out_date = $7, updated_at = $8 WHERE uid = $9`,
		g.TeamUID, g.Reason, g.TelegramID, g.OfficeHours, string(topics),
		g.AdditionalInfo.CheckInDate, g.AdditionalInfo.CheckOutDate, time.Now().UTC(), uid,
	)
	if err != nil {
		return fmt.Errorf("failed to update guest: %w", err)
	}

	if err := upsertGuestEvents(ctx, tx, locationUID, uid, g.Events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteGuests removes gatherings from guests. A guest left without any
// gathering is removed from the location entirely.
func (db *DB) DeleteGuests(ctx context.Context, locationUID string, membersAndEvents []irl.MemberEvents) error {
	loc, err := db.GetLocation(ctx, locationUID)
	if err != nil {
		return err
	}
	locationUID = loc.UID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, me := range membersAndEvents {
		uid, err := guestUID(ctx, tx, locationUID, me.MemberUID)
		if errors.Is(err, ErrGuestNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		for _, gatheringUID := range me.Events {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM guest_events WHERE guest_uid = $1 AND gathering_uid = $2`,
				uid, gatheringUID,
			)
			if err != nil {
				return fmt.Errorf("failed to delete guest event: %w", err)
			}
		}

		var remaining int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM guest_events WHERE guest_uid = $1`, uid,
		).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("failed to count guest events: %w", err)
		}

		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM guests WHERE uid = $1`, uid); err != nil {
				return fmt.Errorf("failed to delete guest: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func guestUID(ctx context.Context, tx *sql.Tx, locationUID, memberUID string) (string, error) {
	var uid string
	err := tx.QueryRowContext(ctx,
		`SELECT uid FROM guests WHERE location_uid = $1 AND member_uid = $2`,
		locationUID, memberUID,
	).Scan(&uid)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrGuestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get guest: %w", err)
	}
	return uid, nil
}

// upsertGuestEvents stores role data per gathering. Sub-event ids from the
// client are replaced with server generated ones.
func upsertGuestEvents(ctx context.Context, tx *sql.Tx, locationUID, guestUID string, events []irl.GuestEvent) error {
	for _, e := range events {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT location_uid FROM gatherings WHERE uid = $1`, e.UID,
		).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != locationUID) {
			return fmt.Errorf("%w: %s", ErrUnknownGathering, e.UID)
		}
		if err != nil {
			return fmt.Errorf("failed to check gathering: %w", err)
		}

		hosts, err := encodeSubEvents(e.HostSubEvents)
		if err != nil {
			return err
		}
		speakers, err := encodeSubEvents(e.SpeakerSubEvents)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO guest_events (guest_uid, gathering_uid, is_host, is_speaker, host_sub_events, speaker_sub_events)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (guest_uid, gathering_uid) DO UPDATE SET is_host = excluded.is_host,
			 is_speaker = excluded.is_speaker, host_sub_events = excluded.host_sub_events,
			 speaker_sub_events = excluded.speaker_sub_events`,
			guestUID, e.UID, e.IsHost, e.IsSpeaker, hosts, speakers,
		)
		if err != nil {
			return fmt.Errorf("failed to save guest event: %w", err)
		}
	}
	return nil
}

func encodeSubEvents(list []irl.SubEvent) (string, error) {
	out := make([]irl.SubEvent, 0, len(list))
	for _, se := range list {
		out = append(out, irl.SubEvent{ID: uuid.NewString(), Name: se.Name, Link: se.Link})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode sub-events: %w", err)
	}
	return string(data), nil
}
