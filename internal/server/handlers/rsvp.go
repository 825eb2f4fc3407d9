package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// formSession reports submit progress of one request: loading goes to the
// draft, toasts go to the flash store (or the JSON reply), close drops the draft
type formSession struct {
	s        Server
	w        http.ResponseWriter
	r        *http.Request
	location string
	owner    string
	json     bool
	toasts   []notify.Toast
}

func newFormSession(s Server, w http.ResponseWriter, r *http.Request, location, owner string) *formSession {
	return &formSession{s: s, w: w, r: r, location: location, owner: owner, json: wantsJSON(r)}
}

func (fs *formSession) SetLoading(on bool) {
	fs.s.GetDrafts().SetPending(fs.location, fs.owner, on)
}

func (fs *formSession) Toast(t notify.Toast) {
	fs.toasts = append(fs.toasts, t)
	if !fs.json {
		fs.s.AddFlash(fs.w, fs.r, t)
	}
}

func (fs *formSession) Close() {
	fs.s.GetDrafts().Close(fs.location, fs.owner)
}

type submitReply struct {
	Errors irl.FormErrors `json:"errors"`
	Toasts []notify.Toast `json:"toasts"`
}

// hydrate fills the gathering data of submitted events from the location's
// reference list; role data from the form is kept
func hydrate(events []irl.GuestEvent, gatherings []irl.Gathering) []irl.GuestEvent {
	byUID := make(map[string]irl.Gathering, len(gatherings))
	for _, g := range gatherings {
		byUID[g.UID] = g
	}
	for i := range events {
		if g, ok := byUID[events[i].UID]; ok {
			events[i].Gathering = g
		}
	}
	return events
}

func cleanTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// applySubmission copies a posted form into the draft so a failed submit
// re-renders with what the user entered
func applySubmission(f *irl.Form, sub irl.Submission) {
	if sub.TeamUID != "" {
		f.TeamUID = sub.TeamUID
	}
	f.Reason = sub.Reason
	f.TelegramID = sub.TelegramID
	f.OfficeHours = sub.OfficeHours
	f.Topics = sub.Topics
	f.Info = sub.AdditionalInfo
	f.Selected = sub.Events
}

// runSubmit sends a submission through the coordinator on behalf of a draft
// and writes the outcome. Only one submit per draft can be in flight.
func runSubmit(s Server, w http.ResponseWriter, r *http.Request, location, owner string, req attendance.SubmitRequest) {
	drafts := s.GetDrafts()
	if _, err := drafts.Begin(location, owner); err != nil {
		status := http.StatusConflict
		if errors.Is(err, ErrNoDraft) {
			status = http.StatusNotFound
		}
		if wantsJSON(r) {
			writeJSONError(w, status, err.Error())
			return
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer drafts.SetPending(location, owner, false)

	sess := newFormSession(s, w, r, location, owner)
	errs, err := s.GetCoordinator().Submit(r.Context(), sess, req)

	if errors.Is(err, attendance.ErrValidation) {
		drafts.SetErrors(location, owner, errs)
		if sess.json {
			writeJSON(w, http.StatusUnprocessableEntity, submitReply{Errors: errs, Toasts: sess.toasts})
			return
		}
		http.Redirect(w, r, pagePath(r), http.StatusSeeOther)
		return
	}

	if sess.json {
		status := http.StatusOK
		if err != nil {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, submitReply{Errors: errs, Toasts: sess.toasts})
		return
	}
	http.Redirect(w, r, pagePath(r), http.StatusSeeOther)
}

// draftOwnerKey keys the draft of a submission. Admins registering someone
// else work on a draft of their own so the member's open form is untouched.
func draftOwnerKey(user User, memberUID string) string {
	if memberUID == user.MemberUID {
		return memberUID
	}
	return "admin:" + user.Email + ":" + memberUID
}

// HandleGuestSubmit processes the flat attendee form
func HandleGuestSubmit(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.GetCurrentUser(r)
		if !user.LoggedIn() {
			http.Error(w, "Login required", http.StatusUnauthorized)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.GetConfig().MaxFormBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Form too large", http.StatusRequestEntityTooLarge)
			return
		}
		fields, err := irl.ParseFields(string(body))
		if err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		sub := irl.Normalize(fields)

		if sub.MemberUID == "" {
			sub.MemberUID = user.MemberUID
		}
		if sub.MemberUID == "" {
			http.Error(w, "Only members can register", http.StatusForbidden)
			return
		}
		if sub.MemberUID != user.MemberUID && !user.Admin {
			http.Error(w, "You can only register yourself", http.StatusForbidden)
			return
		}
		if sub.TeamUID == "" && sub.MemberUID == user.MemberUID {
			sub.TeamUID = user.TeamUID
		}

		view, ok := loadView(s, w, r, irl.EventsUpcoming, "")
		if !ok {
			return
		}
		loc := locationUID(view)

		gatherings := append(append([]irl.Gathering{}, view.List.UpcomingEvents...), view.List.PastEvents...)
		sub.Events = hydrate(sub.Events, gatherings)
		sub.Topics = cleanTopics(sub.Topics)

		existing := existingGuests(r.Context(), s, view)
		owner := draftOwnerKey(user, sub.MemberUID)
		drafts := s.GetDrafts()
		if _, err := drafts.Open(loc, owner, existing, func() (*Draft, error) {
			return newDraft(view, sub.MemberUID, sub.TeamUID, existing)
		}); err != nil {
			s.GetLogger().Error().Err(err).Str("member", sub.MemberUID).Msg("Failed to open attendee form")
			http.Error(w, "Failed to open attendee form", http.StatusInternalServerError)
			return
		}
		if _, err := drafts.Do(loc, owner, func(d *Draft) error {
			applySubmission(d.Form, sub)
			return nil
		}); errors.Is(err, ErrDraftPending) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		runSubmit(s, w, r, loc, owner, attendance.SubmitRequest{
			Mode:        attendance.ParseMode(sub.Extra["mode"]),
			Admin:       user.Admin,
			LocationUID: loc,
			Submission:  sub,
			Existing:    existing,
			Gatherings:  gatherings,
		})
	}
}

// HandleFormSubmit submits the member's open form
func HandleFormSubmit(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, member, ok := draftOwner(s, w, r)
		if !ok {
			return
		}

		var req attendance.SubmitRequest
		_, err := s.GetDrafts().Do(loc, member, func(d *Draft) error {
			sub, err := d.Form.Submission()
			if err != nil {
				return err
			}
			sub.Topics = cleanTopics(sub.Topics)
			req = attendance.SubmitRequest{
				Mode:        d.Mode,
				Admin:       s.GetCurrentUser(r).Admin,
				LocationUID: loc,
				Submission:  sub,
				Existing:    d.Existing,
				Gatherings:  d.Form.Gatherings,
			}
			return nil
		})
		if err != nil {
			writeDraft(w, DraftState{}, err)
			return
		}

		runSubmit(s, w, r, loc, member, req)
	}
}
