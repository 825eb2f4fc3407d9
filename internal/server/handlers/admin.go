package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// removalSession is the removal dialog of one request. Closing it drops the
// open forms of the members it removed gatherings from.
type removalSession struct {
	fs       *formSession
	location string
	members  []irl.MemberEvents
}

func (rs removalSession) SetLoading(bool)      {}
func (rs removalSession) Toast(t notify.Toast) { rs.fs.Toast(t) }

func (rs removalSession) Close() {
	for _, m := range rs.members {
		rs.fs.s.GetDrafts().CloseMember(rs.location, m.MemberUID)
	}
}

// parseRemoval applies the posted checkboxes to a removal selection.
// Fields: all=true, member=<memberUid> and event=<memberUid>:<gatheringUid>, each repeatable.
func parseRemoval(r *http.Request, guests []irl.Guest, mode irl.RemovalMode) *irl.Removal {
	sel := irl.NewRemoval(guests, mode)
	if r.Form.Get("all") == "true" {
		sel.ToggleAll(true)
	}
	for _, m := range r.Form["member"] {
		sel.ToggleMember(m, true)
	}
	for _, pair := range r.Form["event"] {
		member, gathering, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		sel.ToggleGathering(member, gathering, true)
	}
	return sel
}

// HandleRemoveGuests removes the selected gatherings from guests. Members may
// only remove themselves; admins may remove anyone.
func HandleRemoveGuests(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.GetCurrentUser(r)
		if !user.LoggedIn() {
			http.Error(w, "Login required", http.StatusUnauthorized)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.GetConfig().MaxFormBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}

		mode := irl.SelfDelete
		if irl.RemovalMode(r.Form.Get("mode")) == irl.AdminDelete {
			if !user.Admin {
				http.Error(w, "Unauthorized", http.StatusForbidden)
				return
			}
			mode = irl.AdminDelete
		}

		typ := irl.EventsUpcoming
		if r.Form.Get("type") == string(irl.EventsPast) {
			typ = irl.EventsPast
		}
		view, ok := loadView(s, w, r, typ, "")
		if !ok {
			return
		}

		guests := view.List.Guests
		if mode == irl.SelfDelete {
			guests = nil
			if own := view.CurrentGuest(user.MemberUID); own != nil {
				guests = []irl.Guest{*own}
			}
		}

		sel := parseRemoval(r, guests, mode)
		req := attendance.RemoveRequest{
			LocationUID: locationUID(view),
			Mode:        mode,
			Selection:   sel.Request(),
		}
		sess := removalSession{
			fs:       newFormSession(s, w, r, "", ""),
			location: req.LocationUID,
			members:  req.Selection,
		}
		err := s.GetCoordinator().Remove(r.Context(), sess, req)

		status := http.StatusOK
		switch {
		case errors.Is(err, attendance.ErrNothingSelected):
			status = http.StatusBadRequest
			sess.Toast(notify.Toast{Kind: notify.ToastError, Message: "Select at least one gathering to remove."})
		case err != nil:
			status = http.StatusBadGateway
		}

		if sess.fs.json {
			writeJSON(w, status, submitReply{Toasts: sess.fs.toasts})
			return
		}
		http.Redirect(w, r, pagePath(r)+"?type="+string(typ), http.StatusSeeOther)
	}
}
