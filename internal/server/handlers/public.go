package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/config"
	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/guestapi"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
	"github.com/AlexTLDR/irl/templates"
)

// Server interface defines the methods needed by handlers
type Server interface {
	GetConfig() *config.Config
	GetStore() attendance.GuestService
	GetCoordinator() *attendance.Coordinator
	GetDirectory() *attendance.Directory
	GetDrafts() *Drafts
	GetBus() *notify.Bus
	GetLogger() *zerolog.Logger
	GetCurrentUser(r *http.Request) User
	AddFlash(w http.ResponseWriter, r *http.Request, t notify.Toast)
	Flashes(w http.ResponseWriter, r *http.Request) []notify.Toast
}

// User is the signed-in visitor. MemberUID is empty for admins without a directory profile.
type User struct {
	Email     string
	Name      string
	MemberUID string
	TeamUID   string
	Admin     bool
}

func (u User) LoggedIn() bool {
	return u.Email != ""
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound) || errors.Is(err, guestapi.ErrNotFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loadView returns the guest list view of the location in the request path.
// Not found and backend errors are written to w; ok is false then.
func loadView(s Server, w http.ResponseWriter, r *http.Request, typ irl.EventType, eventSlug string) (*attendance.View, bool) {
	key := attendance.ViewKey{
		LocationUID: r.PathValue("location"),
		Type:        typ,
		EventSlug:   eventSlug,
	}
	view, err := s.GetDirectory().View(r.Context(), key)
	if isNotFound(err) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		s.GetLogger().Error().Err(err).Str("location", key.LocationUID).Msg("Failed to load guests")
		http.Error(w, "Failed to load guests", http.StatusBadGateway)
		return nil, false
	}
	return view, true
}

// locationUID is the canonical uid of the view's location, the path value when
// the backend did not return one
func locationUID(view *attendance.View) string {
	if view.List.Location.UID != "" {
		return view.List.Location.UID
	}
	return view.Key.LocationUID
}

// existingGuests merges the upcoming and past guest lists so a member with
// only past gatherings is still recognised as registered
func existingGuests(ctx context.Context, s Server, view *attendance.View) []irl.Guest {
	guests := append([]irl.Guest{}, view.List.Guests...)
	past, err := s.GetDirectory().View(ctx, attendance.ViewKey{LocationUID: view.Key.LocationUID, Type: irl.EventsPast})
	if err != nil {
		s.GetLogger().Warn().Err(err).Msg("Failed to load past guests")
		return guests
	}
	for _, g := range past.List.Guests {
		if irl.FindGuest(guests, g.MemberUID) == nil {
			guests = append(guests, g)
		}
	}
	return guests
}

// listParams reads tab, event, sort and filter selection from the query string
func listParams(r *http.Request) (irl.EventType, string, irl.SortConfig, irl.FilterConfig) {
	q := r.URL.Query()
	typ := irl.EventsUpcoming
	if q.Get("type") == string(irl.EventsPast) {
		typ = irl.EventsPast
	}
	sc := irl.SortConfig{
		Key:   irl.ParseSortKey(q.Get("sort")),
		Order: irl.ParseSortOrder(q.Get("order")),
	}
	fc := irl.FilterConfig{Events: q["events"], Topics: q["topics"]}
	return typ, q.Get("event"), sc, fc
}

// HandleGuestsPage renders the guest list of a location
func HandleGuestsPage(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ, eventSlug, sc, fc := listParams(r)

		view, ok := loadView(s, w, r, typ, eventSlug)
		if !ok {
			return
		}

		user := s.GetCurrentUser(r)
		rows := view.Rows(sc, fc)

		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]any{
				"location":    view.List.Location,
				"guests":      rows,
				"total":       len(view.List.Guests),
				"sort":        sc,
				"filter":      fc,
				"isUserGoing": view.IsGoing(user.MemberUID),
				"following":   view.IsFollowing(user.MemberUID),
			})
			return
		}

		data := templates.GuestsPageData{
			Location:       view.List.Location,
			Type:           typ,
			EventSlug:      eventSlug,
			UpcomingEvents: view.List.UpcomingEvents,
			PastEvents:     view.List.PastEvents,
			Rows:           rows,
			Total:          len(view.List.Guests),
			Sort:           sc,
			Filter:         fc,
			FilterOptions:  irl.FilterValues(view.List.Guests),
			UserName:       user.Name,
			MemberUID:      user.MemberUID,
			Admin:          user.Admin,
			IsGoing:        view.IsGoing(user.MemberUID),
			IsFollowing:    view.IsFollowing(user.MemberUID),
			Flashes:        s.Flashes(w, r),
		}
		if data.Location.Slug == "" {
			data.Location.Slug = view.Key.LocationUID
		}

		if user.MemberUID != "" && typ == irl.EventsUpcoming {
			loc := locationUID(view)
			existing := existingGuests(r.Context(), s, view)
			_, err := s.GetDrafts().Open(loc, user.MemberUID, existing, func() (*Draft, error) {
				return newDraft(view, user.MemberUID, user.TeamUID, existing)
			})
			if err != nil {
				s.GetLogger().Error().Err(err).Str("member", user.MemberUID).Msg("Failed to open attendee form")
			} else if draft, ok := s.GetDrafts().Snapshot(loc, user.MemberUID); ok {
				data.Form = draft.Form
				data.Mode = string(draft.Mode)
				data.Errors = draft.Errors
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.GuestsPage(data).Render(r.Context(), w); err != nil {
			http.Error(w, "Failed to render page", http.StatusInternalServerError)
		}
	}
}

// HandleFollow follows or unfollows the location for the signed-in member
func HandleFollow(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.GetCurrentUser(r)
		if user.MemberUID == "" {
			http.Error(w, "Only members can follow locations", http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}

		view, ok := loadView(s, w, r, irl.EventsUpcoming, "")
		if !ok {
			return
		}

		active := r.FormValue("active") != "false"
		sub, err := s.GetCoordinator().Follow(r.Context(), user.MemberUID, locationUID(view), active)
		if err != nil {
			s.GetLogger().Error().Err(err).Str("member", user.MemberUID).Msg("Failed to update follow")
			if wantsJSON(r) {
				writeJSONError(w, http.StatusBadGateway, "Failed to update follow")
				return
			}
			s.AddFlash(w, r, notify.Toast{Kind: notify.ToastError, Message: "Something went wrong. Please try again."})
			http.Redirect(w, r, pagePath(r), http.StatusSeeOther)
			return
		}

		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, sub)
			return
		}
		http.Redirect(w, r, pagePath(r), http.StatusSeeOther)
	}
}

func pagePath(r *http.Request) string {
	return "/irl/" + url.PathEscape(r.PathValue("location"))
}
