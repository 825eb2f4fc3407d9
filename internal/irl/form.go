package irl

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// Form is the typed state of one open attendee form session.
// Handlers mutate it directly; Submission turns it into the submit payload.
type Form struct {
	LocationUID string
	MemberUID   string
	TeamUID     string
	Reason      string
	TelegramID  string
	OfficeHours string
	Topics      []string
	Info        AdditionalInfo

	Gatherings []Gathering
	Selected   []SelectedGathering

	booked map[string]bool
	newID  func() string
}

// NewForm opens a form for a member, pre-seeding the selection with every
// gathering the member is already a guest of.
func NewForm(locationUID, memberUID string, gatherings []Gathering, guests []Guest) (*Form, error) {
	f := &Form{
		LocationUID: locationUID,
		MemberUID:   memberUID,
		Gatherings:  gatherings,
		booked:      make(map[string]bool),
		newID:       uuid.NewString,
	}

	current := FindGuest(guests, memberUID)
	if current == nil {
		return f, nil
	}

	f.TeamUID = current.TeamUID
	f.Reason = current.Reason
	f.TelegramID = current.TelegramID
	f.OfficeHours = current.OfficeHours
	f.Topics = append([]string(nil), current.Topics...)
	f.Info = current.AdditionalInfo

	for _, e := range current.Events {
		sg, err := cloneSelected(e)
		if err != nil {
			return nil, err
		}
		f.booked[e.UID] = true
		f.Selected = append(f.Selected, sg)
	}
	return f, nil
}

// Booked reports whether the member is already registered for the gathering
func (f *Form) Booked(gatheringUID string) bool {
	return f.booked[gatheringUID]
}

// Toggleable reports whether the selection of g can change in this form.
// Booked gatherings stay checked; invite-only ones need an existing booking.
func (f *Form) Toggleable(g Gathering) bool {
	if f.booked[g.UID] {
		return false
	}
	return !g.InviteOnly()
}

// IsSelected reports whether the gathering is part of the selection
func (f *Form) IsSelected(gatheringUID string) bool {
	return f.indexOf(gatheringUID) >= 0
}

// Toggle adds the gathering to the selection if absent, removes it if present.
// Gatherings that are not toggleable leave the selection untouched.
func (f *Form) Toggle(gatheringUID string) []SelectedGathering {
	g, ok := f.gathering(gatheringUID)
	if !ok || !f.Toggleable(g) {
		return f.Selected
	}

	if i := f.indexOf(gatheringUID); i >= 0 {
		next := make([]SelectedGathering, 0, len(f.Selected)-1)
		next = append(next, f.Selected[:i]...)
		next = append(next, f.Selected[i+1:]...)
		f.Selected = next
		return f.Selected
	}

	next := make([]SelectedGathering, len(f.Selected), len(f.Selected)+1)
	copy(next, f.Selected)
	f.Selected = append(next, SelectedGathering{
		Gathering:        g,
		HostSubEvents:    []SubEvent{},
		SpeakerSubEvents: []SubEvent{},
	})
	return f.Selected
}

// SetHost toggles the host role of a selected gathering
func (f *Form) SetHost(gatheringUID string) []SelectedGathering {
	return f.setRole(gatheringUID, RoleHost)
}

// SetSpeaker toggles the speaker role of a selected gathering
func (f *Form) SetSpeaker(gatheringUID string) []SelectedGathering {
	return f.setRole(gatheringUID, RoleSpeaker)
}

// Turning a role on seeds one empty sub-event; turning it off drops the whole list.
func (f *Form) setRole(gatheringUID string, role Role) []SelectedGathering {
	return f.update(gatheringUID, func(sg *SelectedGathering) {
		on := len(sg.SubEvents(role)) == 0
		if on {
			sg.setSubEvents(role, []SubEvent{{ID: f.newID()}})
		} else {
			sg.setSubEvents(role, []SubEvent{})
		}
		if role == RoleSpeaker {
			sg.IsSpeaker = on
		} else {
			sg.IsHost = on
		}
	})
}

// AddSubEvent appends an empty sub-event to a role of a selected gathering
func (f *Form) AddSubEvent(gatheringUID string, role Role) []SelectedGathering {
	return f.update(gatheringUID, func(sg *SelectedGathering) {
		sg.setSubEvents(role, append(sg.SubEvents(role), SubEvent{ID: f.newID()}))
	})
}

// RemoveSubEvent drops one sub-event. The role flag is left as is even when
// the list becomes empty.
func (f *Form) RemoveSubEvent(gatheringUID string, role Role, subEventID string) []SelectedGathering {
	return f.update(gatheringUID, func(sg *SelectedGathering) {
		list := sg.SubEvents(role)
		next := make([]SubEvent, 0, len(list))
		for _, se := range list {
			if se.ID != subEventID {
				next = append(next, se)
			}
		}
		sg.setSubEvents(role, next)
	})
}

// UpdateSubEventField sets the name or link of one sub-event
func (f *Form) UpdateSubEventField(gatheringUID string, role Role, subEventID, field, value string) ([]SelectedGathering, error) {
	if field != "name" && field != "link" {
		return f.Selected, fmt.Errorf("unknown sub-event field %q", field)
	}
	return f.update(gatheringUID, func(sg *SelectedGathering) {
		list := sg.SubEvents(role)
		for i := range list {
			if list[i].ID != subEventID {
				continue
			}
			if field == "name" {
				list[i].Name = value
			} else {
				list[i].Link = value
			}
		}
	}), nil
}

// update copies the target gathering, applies fn to the copy and splices it
// back into a fresh slice so siblings and earlier snapshots stay untouched.
// fn only touches sub-events, so those are the lists that get cloned.
func (f *Form) update(gatheringUID string, fn func(*SelectedGathering)) []SelectedGathering {
	i := f.indexOf(gatheringUID)
	if i < 0 {
		return f.Selected
	}

	target := f.Selected[i]
	target.HostSubEvents = slices.Clone(target.HostSubEvents)
	target.SpeakerSubEvents = slices.Clone(target.SpeakerSubEvents)
	fn(&target)

	next := make([]SelectedGathering, len(f.Selected))
	copy(next, f.Selected)
	next[i] = target
	f.Selected = next
	return f.Selected
}

// Submission builds the submit payload straight from the typed form
func (f *Form) Submission() (Submission, error) {
	events := make([]GuestEvent, 0, len(f.Selected))
	for _, sg := range f.Selected {
		e, err := cloneSelected(sg)
		if err != nil {
			return Submission{}, err
		}
		events = append(events, e)
	}
	return Submission{
		MemberUID:      f.MemberUID,
		TeamUID:        f.TeamUID,
		Reason:         f.Reason,
		TelegramID:     f.TelegramID,
		OfficeHours:    f.OfficeHours,
		Events:         events,
		AdditionalInfo: f.Info,
		Topics:         append([]string{}, f.Topics...),
	}, nil
}

func (f *Form) indexOf(gatheringUID string) int {
	for i := range f.Selected {
		if f.Selected[i].UID == gatheringUID {
			return i
		}
	}
	return -1
}

func (f *Form) gathering(uid string) (Gathering, bool) {
	for _, g := range f.Gatherings {
		if g.UID == uid {
			return g, true
		}
	}
	return Gathering{}, false
}

// cloneSelected deep copies a gathering so the copy shares no slice with src
func cloneSelected(src SelectedGathering) (SelectedGathering, error) {
	dst := src
	dst.Resources = nil
	dst.HostSubEvents = []SubEvent{}
	dst.SpeakerSubEvents = []SubEvent{}

	opt := copier.Option{DeepCopy: true}
	if len(src.Resources) > 0 {
		dst.Resources = make([]Resource, 0, len(src.Resources))
		if err := copier.CopyWithOption(&dst.Resources, src.Resources, opt); err != nil {
			return SelectedGathering{}, fmt.Errorf("copy resources of %s: %w", src.UID, err)
		}
	}
	if len(src.HostSubEvents) > 0 {
		if err := copier.CopyWithOption(&dst.HostSubEvents, src.HostSubEvents, opt); err != nil {
			return SelectedGathering{}, fmt.Errorf("copy host sub-events of %s: %w", src.UID, err)
		}
	}
	if len(src.SpeakerSubEvents) > 0 {
		if err := copier.CopyWithOption(&dst.SpeakerSubEvents, src.SpeakerSubEvents, opt); err != nil {
			return SelectedGathering{}, fmt.Errorf("copy speaker sub-events of %s: %w", src.UID, err)
		}
	}
	return dst, nil
}
