package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

var (
	ErrValidation      = errors.New("attendee form is invalid")
	ErrSubmitFailed    = errors.New("attendee request failed")
	ErrNothingSelected = errors.New("no gatherings selected for removal")
)

// Mode is the mode the attendee form was opened in
type Mode string

const (
	ModeAdd  Mode = "add"
	ModeEdit Mode = "edit"
)

// ParseMode defaults to add
func ParseMode(s string) Mode {
	if Mode(s) == ModeEdit {
		return ModeEdit
	}
	return ModeAdd
}

const (
	msgFailure      = "Something went wrong. Please try again."
	msgSelfAdded    = "Thank you! You have been added to the attendee list."
	msgAdminAdded   = "Attendee added successfully."
	msgSelfUpdated  = "Your attendance details have been updated."
	msgAdminUpdated = "Attendee details updated successfully."
	msgSelfRemoved  = "You have been removed from the selected gatherings."
	msgAdminRemoved = "Selected attendees removed successfully."
)

// Coordinator runs the write path of the attendee engine
type Coordinator struct {
	svc GuestService
	bus *notify.Bus
	log zerolog.Logger
}

func NewCoordinator(svc GuestService, bus *notify.Bus, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		svc: svc,
		bus: bus,
		log: logger.With().Str("component", "attendance").Logger(),
	}
}

// SubmitRequest is one attendee form submission
type SubmitRequest struct {
	Mode        Mode
	Admin       bool
	LocationUID string
	Submission  irl.Submission
	// Existing is the guest list the form was opened against
	Existing []irl.Guest
	// Gatherings is the location's reference data, used for invite-only checks
	Gatherings []irl.Gathering
}

// Submit validates the submission and, only when valid, creates or edits the guest.
// A member already in Existing is always edited, whatever the requested mode.
// Validation failures return ErrValidation and never reach the backend. Backend
// failures are reported through the session and return ErrSubmitFailed; the
// session stays open so the user can retry.
func (c *Coordinator) Submit(ctx context.Context, sess Session, req SubmitRequest) (irl.FormErrors, error) {
	errs := irl.Validate(req.Submission)

	existing := irl.FindGuest(req.Existing, req.Submission.MemberUID)
	if !req.Admin && blocksInviteOnly(req, existing) {
		errs.GatheringErrors = append(errs.GatheringErrors, irl.ErrCodeInviteOnly)
	}

	isUpdate := existing != nil
	route := "create"
	if req.Mode == ModeEdit || isUpdate {
		route = "edit"
	}

	if !errs.Empty() {
		submissionsTotal.WithLabelValues(route, resultInvalid).Inc()
		return errs, ErrValidation
	}

	guest, err := req.Submission.Guest()
	if err != nil {
		c.log.Error().Err(err).Str("member", req.Submission.MemberUID).Msg("Failed to build guest payload")
		submissionsTotal.WithLabelValues(route, resultFailed).Inc()
		sess.Toast(notify.Toast{Kind: notify.ToastError, Message: msgFailure})
		return errs, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	sess.SetLoading(true)
	if route == "edit" {
		memberUID := req.Submission.MemberUID
		if existing != nil {
			memberUID = existing.MemberUID
		}
		err = c.svc.EditGuest(ctx, req.LocationUID, memberUID, guest)
	} else {
		err = c.svc.CreateGuest(ctx, req.LocationUID, guest)
	}
	sess.SetLoading(false)

	if err != nil {
		c.log.Error().Err(err).
			Str("location", req.LocationUID).
			Str("member", req.Submission.MemberUID).
			Str("route", route).
			Msg("Attendee submission failed")
		submissionsTotal.WithLabelValues(route, resultFailed).Inc()
		sess.Toast(notify.Toast{Kind: notify.ToastError, Message: msgFailure})
		return errs, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	submissionsTotal.WithLabelValues(route, resultOK).Inc()
	c.log.Info().
		Str("location", req.LocationUID).
		Str("member", req.Submission.MemberUID).
		Str("route", route).
		Bool("admin", req.Admin).
		Int("events", len(guest.Events)).
		Msg("Attendee saved")

	sess.Close()
	c.bus.Publish(notify.GuestsUpdated{LocationUID: req.LocationUID})
	sess.Toast(notify.Toast{Kind: notify.ToastSuccess, Message: successMessage(route, req.Admin)})
	return errs, nil
}

func successMessage(route string, admin bool) string {
	switch {
	case route == "edit" && admin:
		return msgAdminUpdated
	case route == "edit":
		return msgSelfUpdated
	case admin:
		return msgAdminAdded
	}
	return msgSelfAdded
}

// blocksInviteOnly reports whether the submission names an invite-only
// gathering the member is not already booked for
func blocksInviteOnly(req SubmitRequest, existing *irl.Guest) bool {
	kinds := make(map[string]irl.GatheringType, len(req.Gatherings))
	for _, g := range req.Gatherings {
		kinds[g.UID] = g.Type
	}

	for _, e := range req.Submission.Events {
		kind, ok := kinds[e.UID]
		if !ok {
			kind = e.Type
		}
		if kind != irl.GatheringInviteOnly {
			continue
		}
		if existing == nil || !existing.Attends(e.UID) {
			return true
		}
	}
	return false
}

// RemoveRequest is the confirmed selection of a removal dialog
type RemoveRequest struct {
	LocationUID string
	Mode        irl.RemovalMode
	Selection   []irl.MemberEvents
}

// Remove sends the bulk delete. An empty selection is rejected before any call.
func (c *Coordinator) Remove(ctx context.Context, sess Session, req RemoveRequest) error {
	if len(req.Selection) == 0 {
		removalsTotal.WithLabelValues(string(req.Mode), resultInvalid).Inc()
		return ErrNothingSelected
	}

	sess.SetLoading(true)
	err := c.svc.DeleteGuests(ctx, req.LocationUID, req.Selection)
	sess.SetLoading(false)

	if err != nil {
		c.log.Error().Err(err).
			Str("location", req.LocationUID).
			Str("mode", string(req.Mode)).
			Msg("Attendee removal failed")
		removalsTotal.WithLabelValues(string(req.Mode), resultFailed).Inc()
		sess.Toast(notify.Toast{Kind: notify.ToastError, Message: msgFailure})
		return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	removalsTotal.WithLabelValues(string(req.Mode), resultOK).Inc()
	c.log.Info().
		Str("location", req.LocationUID).
		Str("mode", string(req.Mode)).
		Int("members", len(req.Selection)).
		Msg("Attendees removed")

	sess.Close()
	c.bus.Publish(notify.GuestsUpdated{LocationUID: req.LocationUID})
	msg := msgAdminRemoved
	if req.Mode == irl.SelfDelete {
		msg = msgSelfRemoved
	}
	sess.Toast(notify.Toast{Kind: notify.ToastSuccess, Message: msg})
	return nil
}

// Follow sets whether a member follows a location, creating the subscription on first use
func (c *Coordinator) Follow(ctx context.Context, memberUID, locationUID string, active bool) (*irl.Subscription, error) {
	current, err := c.svc.Subscription(ctx, memberUID, locationUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	var sub *irl.Subscription
	switch {
	case current == nil:
		sub, err = c.svc.CreateSubscription(ctx, irl.Subscription{
			MemberUID:  memberUID,
			EntityType: irl.EntityLocation,
			EntityUID:  locationUID,
			IsActive:   active,
		})
	case current.IsActive != active:
		sub, err = c.svc.UpdateSubscription(ctx, current.UID, active)
	default:
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	c.bus.Publish(notify.FollowChanged{LocationUID: locationUID, MemberUID: memberUID, Active: active})
	return sub, nil
}
