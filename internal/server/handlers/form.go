package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/irl"
)

var (
	ErrNoDraft      = errors.New("no open attendee form")
	ErrDraftPending = errors.New("attendee form is being submitted")
)

// Draft is one member's open attendee form for a location
type Draft struct {
	Form    *irl.Form
	Mode    attendance.Mode
	Errors  irl.FormErrors
	Pending bool
	// Existing is the guest list the form was opened against
	Existing []irl.Guest
}

func newDraft(view *attendance.View, memberUID, teamUID string, existing []irl.Guest) (*Draft, error) {
	form, err := irl.NewForm(locationUID(view), memberUID, view.List.UpcomingEvents, existing)
	if err != nil {
		return nil, err
	}
	if form.TeamUID == "" {
		form.TeamUID = teamUID
	}
	mode := attendance.ModeAdd
	if irl.FindGuest(existing, memberUID) != nil {
		mode = attendance.ModeEdit
	}
	return &Draft{Form: form, Mode: mode, Existing: existing}, nil
}

type draftKey struct {
	location string
	owner    string
}

// Drafts holds open attendee forms. An owner has at most one per location;
// members own their drafts and admins submitting for others get their own.
type Drafts struct {
	mu     sync.Mutex
	drafts map[draftKey]*Draft
}

func NewDrafts() *Drafts {
	return &Drafts{drafts: make(map[draftKey]*Draft)}
}

// Open returns the owner's draft, creating it with init when there is none.
// A draft whose member is booked differently in existing than when it was
// opened is rebuilt, unless its submit is in flight. init runs without the
// lock held.
func (d *Drafts) Open(location, owner string, existing []irl.Guest, init func() (*Draft, error)) (*Draft, error) {
	key := draftKey{location, owner}

	d.mu.Lock()
	draft, ok := d.drafts[key]
	if ok && (draft.Pending || sameBooking(draft, existing)) {
		d.mu.Unlock()
		return draft, nil
	}
	d.mu.Unlock()

	fresh, err := init()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if draft, ok := d.drafts[key]; ok && (draft.Pending || sameBooking(draft, existing)) {
		return draft, nil
	}
	d.drafts[key] = fresh
	return fresh, nil
}

// sameBooking reports whether the draft's member has the same gatherings in
// existing as in the guest list the draft was opened against
func sameBooking(d *Draft, existing []irl.Guest) bool {
	was := irl.FindGuest(d.Existing, d.Form.MemberUID)
	now := irl.FindGuest(existing, d.Form.MemberUID)
	if was == nil || now == nil {
		return was == nil && now == nil
	}
	if len(was.Events) != len(now.Events) {
		return false
	}
	booked := make(map[string]bool, len(was.Events))
	for _, e := range was.Events {
		booked[e.UID] = true
	}
	for _, e := range now.Events {
		if !booked[e.UID] {
			return false
		}
	}
	return true
}

// Do runs fn on the member's draft under the store lock and returns its state
func (d *Drafts) Do(location, member string, fn func(*Draft) error) (DraftState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	draft, ok := d.drafts[draftKey{location, member}]
	if !ok {
		return DraftState{}, ErrNoDraft
	}
	if draft.Pending {
		return DraftState{}, ErrDraftPending
	}
	if err := fn(draft); err != nil {
		return DraftState{}, err
	}
	return stateOf(draft), nil
}

// Begin marks the draft as being submitted. A draft already pending is rejected.
func (d *Drafts) Begin(location, member string) (*Draft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	draft, ok := d.drafts[draftKey{location, member}]
	if !ok {
		return nil, ErrNoDraft
	}
	if draft.Pending {
		return nil, ErrDraftPending
	}
	draft.Pending = true
	return draft, nil
}

// SetPending flags or clears an in-flight submit
func (d *Drafts) SetPending(location, member string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if draft, ok := d.drafts[draftKey{location, member}]; ok {
		draft.Pending = on
	}
}

// SetErrors stores validation errors to show on the next render
func (d *Drafts) SetErrors(location, member string, errs irl.FormErrors) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if draft, ok := d.drafts[draftKey{location, member}]; ok {
		draft.Errors = errs
	}
}

// Close discards the owner's draft
func (d *Drafts) Close(location, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, draftKey{location, owner})
}

// CloseMember discards every idle draft of the location that edits member,
// whoever owns it
func (d *Drafts) CloseMember(location, member string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, draft := range d.drafts {
		if key.location == location && draft.Form.MemberUID == member && !draft.Pending {
			delete(d.drafts, key)
		}
	}
}

// Snapshot copies the member's draft for rendering. Form updates replace
// slices instead of writing into them, so the copy stays stable.
func (d *Drafts) Snapshot(location, member string) (Draft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[draftKey{location, member}]
	if !ok {
		return Draft{}, false
	}
	form := *draft.Form
	out := *draft
	out.Form = &form
	return out, true
}

func (d *Drafts) State(location, member string) (DraftState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[draftKey{location, member}]
	if !ok {
		return DraftState{}, false
	}
	return stateOf(draft), true
}

// GatheringOption is one checkbox of the gathering selector
type GatheringOption struct {
	irl.Gathering
	Booked     bool `json:"booked"`
	Selected   bool `json:"selected"`
	Toggleable bool `json:"toggleable"`
}

// DraftState is the JSON view of an open form
type DraftState struct {
	Mode       attendance.Mode         `json:"mode"`
	MemberUID  string                  `json:"memberUid"`
	Gatherings []GatheringOption       `json:"gatherings"`
	Selected   []irl.SelectedGathering `json:"selected"`
	Topics     []string                `json:"topics"`
	Info       irl.AdditionalInfo      `json:"additionalInfo"`
	Errors     irl.FormErrors          `json:"errors"`
	Pending    bool                    `json:"pending"`
}

func stateOf(d *Draft) DraftState {
	f := d.Form
	opts := make([]GatheringOption, 0, len(f.Gatherings))
	for _, g := range f.Gatherings {
		opts = append(opts, GatheringOption{
			Gathering:  g,
			Booked:     f.Booked(g.UID),
			Selected:   f.IsSelected(g.UID),
			Toggleable: f.Toggleable(g),
		})
	}
	selected := f.Selected
	if selected == nil {
		selected = []irl.SelectedGathering{}
	}
	return DraftState{
		Mode:       d.Mode,
		MemberUID:  f.MemberUID,
		Gatherings: opts,
		Selected:   selected,
		Topics:     f.Topics,
		Info:       f.Info,
		Errors:     d.Errors,
		Pending:    d.Pending,
	}
}

// draftOwner resolves the location and member of a draft request, opening the
// draft when needed. ok is false when a response was already written.
func draftOwner(s Server, w http.ResponseWriter, r *http.Request) (string, string, bool) {
	user := s.GetCurrentUser(r)
	if user.MemberUID == "" {
		writeJSONError(w, http.StatusForbidden, "Only members can register")
		return "", "", false
	}

	view, ok := loadView(s, w, r, irl.EventsUpcoming, "")
	if !ok {
		return "", "", false
	}
	loc := locationUID(view)
	existing := existingGuests(r.Context(), s, view)
	if _, err := s.GetDrafts().Open(loc, user.MemberUID, existing, func() (*Draft, error) {
		return newDraft(view, user.MemberUID, user.TeamUID, existing)
	}); err != nil {
		s.GetLogger().Error().Err(err).Str("member", user.MemberUID).Msg("Failed to open attendee form")
		writeJSONError(w, http.StatusInternalServerError, "Failed to open attendee form")
		return "", "", false
	}
	return loc, user.MemberUID, true
}

func writeDraft(w http.ResponseWriter, state DraftState, err error) {
	switch {
	case errors.Is(err, ErrDraftPending):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoDraft):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

// HandleFormOpen returns the member's open form, opening it on first access
func HandleFormOpen(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, _ := s.GetDrafts().State(loc, member)
		writeJSON(w, http.StatusOK, state)
	}
}

// HandleFormDiscard closes the member's form without submitting
func HandleFormDiscard(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.GetCurrentUser(r)
		view, ok := loadView(s, w, r, irl.EventsUpcoming, "")
		if !ok {
			return
		}
		s.GetDrafts().Close(locationUID(view), user.MemberUID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleFormToggle selects or deselects a gathering
func HandleFormToggle(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			d.Form.Toggle(r.PathValue("gathering"))
			return nil
		})
		writeDraft(w, state, err)
	}
}

// HandleFormRole flips the host or speaker role of a selected gathering
func HandleFormRole(s Server, role irl.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			if role == irl.RoleSpeaker {
				d.Form.SetSpeaker(r.PathValue("gathering"))
			} else {
				d.Form.SetHost(r.PathValue("gathering"))
			}
			return nil
		})
		writeDraft(w, state, err)
	}
}

func pathRole(w http.ResponseWriter, r *http.Request) (irl.Role, bool) {
	role, ok := irl.ParseRole(r.PathValue("role"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown role")
	}
	return role, ok
}

// HandleSubEventAdd appends an empty sub-event to a role
func HandleSubEventAdd(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := pathRole(w, r)
		if !ok {
			return
		}
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			d.Form.AddSubEvent(r.PathValue("gathering"), role)
			return nil
		})
		writeDraft(w, state, err)
	}
}

// HandleSubEventRemove deletes one sub-event of a role
func HandleSubEventRemove(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := pathRole(w, r)
		if !ok {
			return
		}
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			d.Form.RemoveSubEvent(r.PathValue("gathering"), role, r.PathValue("id"))
			return nil
		})
		writeDraft(w, state, err)
	}
}

type subEventPatch struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// HandleSubEventUpdate edits the name or link of one sub-event
func HandleSubEventUpdate(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := pathRole(w, r)
		if !ok {
			return
		}
		var patch subEventPatch
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.GetConfig().MaxFormBytes)).Decode(&patch); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid body")
			return
		}
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			_, err := d.Form.UpdateSubEventField(r.PathValue("gathering"), role, r.PathValue("id"), patch.Field, patch.Value)
			return err
		})
		writeDraft(w, state, err)
	}
}

type draftDetails struct {
	Topics      []string            `json:"topics"`
	Info        *irl.AdditionalInfo `json:"additionalInfo"`
	Reason      *string             `json:"reason"`
	TelegramID  *string             `json:"telegramId"`
	OfficeHours *string             `json:"officeHours"`
}

// HandleFormDetails updates the free-text fields of the form
func HandleFormDetails(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in draftDetails
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.GetConfig().MaxFormBytes)).Decode(&in); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid body")
			return
		}
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}
		state, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			if in.Topics != nil {
				d.Form.Topics = in.Topics
			}
			if in.Info != nil {
				d.Form.Info = *in.Info
			}
			if in.Reason != nil {
				d.Form.Reason = *in.Reason
			}
			if in.TelegramID != nil {
				d.Form.TelegramID = *in.TelegramID
			}
			if in.OfficeHours != nil {
				d.Form.OfficeHours = *in.OfficeHours
			}
			return nil
		})
		writeDraft(w, state, err)
	}
}
