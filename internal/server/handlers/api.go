package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/guestapi"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// apiStatus maps store errors to HTTP status codes
func apiStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, guestapi.ErrNotFound), errors.Is(err, database.ErrGuestNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrGuestExists), errors.Is(err, guestapi.ErrGuestExists):
		return http.StatusConflict
	case errors.Is(err, database.ErrUnknownGathering):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeAPIError(s Server, w http.ResponseWriter, r *http.Request, err error) {
	status := apiStatus(err)
	if status == http.StatusInternalServerError {
		s.GetLogger().Error().Err(err).Str("path", r.URL.Path).Msg("API request failed")
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSONError(w, status, err.Error())
}

func decodeJSON(s Server, w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.GetConfig().MaxFormBytes)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// HandleAPIListGuests returns the guest list of a location
func HandleAPIListGuests(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := irl.GuestQuery{
			LocationUID: r.PathValue("location"),
			Type:        irl.EventType(q.Get("type")),
			EventSlug:   q.Get("eventSlug"),
			MemberUID:   q.Get("memberUid"),
		}
		if query.Type != irl.EventsPast {
			query.Type = irl.EventsUpcoming
		}

		list, err := s.GetStore().GuestsByLocation(r.Context(), query)
		if err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// HandleAPICreateGuest registers a member for a location
func HandleAPICreateGuest(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var g irl.Guest
		if !decodeJSON(s, w, r, &g) {
			return
		}
		if g.MemberUID == "" || len(g.Events) == 0 {
			writeJSONError(w, http.StatusBadRequest, "memberUid and events are required")
			return
		}

		location := r.PathValue("location")
		if err := s.GetStore().CreateGuest(r.Context(), location, g); err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		s.GetBus().Publish(notify.GuestsUpdated{LocationUID: location})
		w.WriteHeader(http.StatusCreated)
	}
}

// HandleAPIEditGuest updates a guest's registration
func HandleAPIEditGuest(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var g irl.Guest
		if !decodeJSON(s, w, r, &g) {
			return
		}

		location := r.PathValue("location")
		member := r.PathValue("member")
		g.MemberUID = member
		if err := s.GetStore().EditGuest(r.Context(), location, member, g); err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		s.GetBus().Publish(notify.GuestsUpdated{LocationUID: location})
		w.WriteHeader(http.StatusNoContent)
	}
}

type deleteGuestsRequest struct {
	MembersAndEvents []irl.MemberEvents `json:"membersAndEvents"`
}

// HandleAPIDeleteGuests removes gatherings from guests in bulk
func HandleAPIDeleteGuests(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteGuestsRequest
		if !decodeJSON(s, w, r, &req) {
			return
		}
		if len(req.MembersAndEvents) == 0 {
			writeJSONError(w, http.StatusBadRequest, "membersAndEvents is required")
			return
		}

		location := r.PathValue("location")
		if err := s.GetStore().DeleteGuests(r.Context(), location, req.MembersAndEvents); err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		s.GetBus().Publish(notify.GuestsUpdated{LocationUID: location})
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleAPIFollowers lists the active followers of a location
func HandleAPIFollowers(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := s.GetStore().Followers(r.Context(), r.PathValue("location"))
		if err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		if subs == nil {
			subs = []irl.Subscription{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

// HandleAPIListSubscriptions returns the member's subscription to an entity as a
// list of zero or one element
func HandleAPIListSubscriptions(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		member, entity := q.Get("memberUid"), q.Get("entityUid")
		if member == "" || entity == "" {
			writeJSONError(w, http.StatusBadRequest, "memberUid and entityUid are required")
			return
		}

		sub, err := s.GetStore().Subscription(r.Context(), member, entity)
		if err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		out := []irl.Subscription{}
		if sub != nil {
			out = append(out, *sub)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HandleAPICreateSubscription stores a new subscription
func HandleAPICreateSubscription(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in irl.Subscription
		if !decodeJSON(s, w, r, &in) {
			return
		}
		if in.MemberUID == "" || in.EntityUID == "" {
			writeJSONError(w, http.StatusBadRequest, "memberUid and entityUid are required")
			return
		}

		sub, err := s.GetStore().CreateSubscription(r.Context(), in)
		if err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		s.GetBus().Publish(notify.FollowChanged{LocationUID: sub.EntityUID, MemberUID: sub.MemberUID, Active: sub.IsActive})
		writeJSON(w, http.StatusCreated, sub)
	}
}

// HandleAPIUpdateSubscription switches a subscription on or off
func HandleAPIUpdateSubscription(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			IsActive bool `json:"isActive"`
		}
		if !decodeJSON(s, w, r, &in) {
			return
		}

		sub, err := s.GetStore().UpdateSubscription(r.Context(), r.PathValue("uid"), in.IsActive)
		if err != nil {
			writeAPIError(s, w, r, err)
			return
		}
		s.GetBus().Publish(notify.FollowChanged{LocationUID: sub.EntityUID, MemberUID: sub.MemberUID, Active: sub.IsActive})
		writeJSON(w, http.StatusOK, sub)
	}
}
