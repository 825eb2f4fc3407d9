package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/config"
	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// testServer backs the handlers with an in-memory sqlite store and a fixed user
type testServer struct {
	cfg         *config.Config
	db          *database.DB
	bus         *notify.Bus
	coordinator *attendance.Coordinator
	directory   *attendance.Directory
	drafts      *Drafts
	user        User
	flashes     []notify.Toast
	log         zerolog.Logger
}

func (ts *testServer) GetConfig() *config.Config               { return ts.cfg }
func (ts *testServer) GetStore() attendance.GuestService       { return ts.db }
func (ts *testServer) GetCoordinator() *attendance.Coordinator { return ts.coordinator }
func (ts *testServer) GetDirectory() *attendance.Directory     { return ts.directory }
func (ts *testServer) GetDrafts() *Drafts                      { return ts.drafts }
func (ts *testServer) GetBus() *notify.Bus                     { return ts.bus }
func (ts *testServer) GetLogger() *zerolog.Logger              { return &ts.log }
func (ts *testServer) GetCurrentUser(*http.Request) User       { return ts.user }
func (ts *testServer) AddFlash(_ http.ResponseWriter, _ *http.Request, t notify.Toast) {
	ts.flashes = append(ts.flashes, t)
}

func (ts *testServer) Flashes(http.ResponseWriter, *http.Request) []notify.Toast {
	out := ts.flashes
	ts.flashes = nil
	return out
}

var ann = User{Email: "ann@example.com", Name: "Ann", MemberUID: "m1", TeamUID: "t1"}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.New("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	seedLocation(t, db)

	bus := notify.NewBus()
	ts := &testServer{
		cfg:         &config.Config{MaxFormBytes: 1 << 20},
		db:          db,
		bus:         bus,
		coordinator: attendance.NewCoordinator(db, bus, zerolog.Nop()),
		directory:   attendance.NewDirectory(db, bus, zerolog.Nop()),
		drafts:      NewDrafts(),
		user:        ann,
		log:         zerolog.Nop(),
	}
	t.Cleanup(func() {
		ts.directory.Close()
		_ = db.Close()
	})
	return ts
}

func seedLocation(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.UpsertLocation(ctx, irl.Location{UID: "loc1", Name: "Lisbon", Slug: "lisbon"}))
	require.NoError(t, db.UpsertTeam(ctx, database.Team{UID: "t1", Name: "Protocol"}))
	require.NoError(t, db.UpsertMember(ctx, database.Member{UID: "m1", Name: "Ann", Email: "ann@example.com", TeamUID: "t1"}))
	require.NoError(t, db.UpsertMember(ctx, database.Member{UID: "m2", Name: "Bob", Email: "bob@example.com", TeamUID: "t1"}))

	for _, g := range []irl.Gathering{
		{UID: "g1", Name: "Summit", Slug: "summit", StartDate: now.Add(48 * time.Hour), EndDate: now.Add(72 * time.Hour)},
		{UID: "g2", Name: "Hack Day", Slug: "hack-day", StartDate: now.Add(24 * time.Hour), EndDate: now.Add(30 * time.Hour)},
		{UID: "g4", Name: "Board", Slug: "board", Type: irl.GatheringInviteOnly, StartDate: now.Add(96 * time.Hour), EndDate: now.Add(100 * time.Hour)},
	} {
		require.NoError(t, db.UpsertGathering(ctx, "loc1", g))
	}
}

func (ts *testServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /irl/{location}", HandleGuestsPage(ts))
	mux.HandleFunc("GET /irl/{location}/guests.csv", HandleDownloadCSV(ts))
	mux.HandleFunc("POST /irl/{location}/guests", HandleGuestSubmit(ts))
	mux.HandleFunc("POST /irl/{location}/guests/remove", HandleRemoveGuests(ts))
	mux.HandleFunc("POST /irl/{location}/follow", HandleFollow(ts))
	mux.HandleFunc("GET /irl/{location}/form", HandleFormOpen(ts))
	mux.HandleFunc("DELETE /irl/{location}/form", HandleFormDiscard(ts))
	mux.HandleFunc("PATCH /irl/{location}/form", HandleFormDetails(ts))
	mux.HandleFunc("POST /irl/{location}/form/submit", HandleFormSubmit(ts))
	mux.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/toggle", HandleFormToggle(ts))
	mux.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/host", HandleFormRole(ts, irl.RoleHost))
	mux.HandleFunc("POST /irl/{location}/form/gatherings/{gathering}/{role}/sub-events", HandleSubEventAdd(ts))
	mux.HandleFunc("PATCH /irl/{location}/form/gatherings/{gathering}/{role}/sub-events/{id}", HandleSubEventUpdate(ts))
	mux.HandleFunc("DELETE /irl/{location}/form/gatherings/{gathering}/{role}/sub-events/{id}", HandleSubEventRemove(ts))
	mux.HandleFunc("GET /api/v1/irl/locations/{location}/guests", HandleAPIListGuests(ts))
	mux.HandleFunc("POST /api/v1/irl/locations/{location}/guests", HandleAPICreateGuest(ts))
	mux.HandleFunc("PUT /api/v1/irl/locations/{location}/guests/{member}", HandleAPIEditGuest(ts))
	mux.HandleFunc("DELETE /api/v1/irl/locations/{location}/guests", HandleAPIDeleteGuests(ts))
	mux.HandleFunc("GET /api/v1/irl/locations/{location}/followers", HandleAPIFollowers(ts))
	mux.HandleFunc("GET /api/v1/member-subscriptions", HandleAPIListSubscriptions(ts))
	mux.HandleFunc("POST /api/v1/member-subscriptions", HandleAPICreateSubscription(ts))
	mux.HandleFunc("PUT /api/v1/member-subscriptions/{uid}", HandleAPIUpdateSubscription(ts))
	return mux
}

func (ts *testServer) do(t *testing.T, method, path, contentType, body string, asJSON bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.mux().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, path, "application/x-www-form-urlencoded", form.Encode(), true)
}

func (ts *testServer) guest(t *testing.T, member string) *irl.Guest {
	t.Helper()
	ts.directory.Wait()
	list, err := ts.db.GuestsByLocation(context.Background(), irl.GuestQuery{LocationUID: "loc1", MemberUID: member})
	require.NoError(t, err)
	return list.CurrentGuest
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGuestsPage_JSON(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/irl/lisbon", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "lisbon", body["location"].(map[string]any)["slug"])
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, false, body["isUserGoing"])
}

func TestGuestsPage_UnknownLocation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/irl/porto", "", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuestsPage_HTMLOpensDraft(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/irl/lisbon", "", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Summit")
	assert.Contains(t, rec.Body.String(), "Hack Day")

	_, ok := ts.drafts.Snapshot("loc1", "m1")
	assert.True(t, ok)
}

func TestGuestsPage_BackendErrorIsLogged(t *testing.T) {
	ts := newTestServer(t)
	var logs bytes.Buffer
	ts.log = zerolog.New(&logs)
	require.NoError(t, ts.db.Close())

	rec := ts.do(t, http.MethodGet, "/irl/lisbon", "", "", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), "Failed to load guests")
}

func TestGuestSubmit_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{
		"checkInDate": {"2026-11-05"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	reply := decode[submitReply](t, rec)
	assert.True(t, reply.Errors.Has(irl.ErrCodeSelectGathering))
	assert.True(t, reply.Errors.Has(irl.ErrCodeCheckOutDateRequired))
	assert.Nil(t, ts.guest(t, "m1"))

	// the draft stays open with the errors for the next render
	draft, ok := ts.drafts.Snapshot("loc1", "m1")
	require.True(t, ok)
	assert.True(t, draft.Errors.Has(irl.ErrCodeSelectGathering))
	assert.False(t, draft.Pending)
}

func TestGuestSubmit_Creates(t *testing.T) {
	ts := newTestServer(t)

	body := "events[0].uid=g1&isHost[g1]=true" +
		"&hostSubEvents[g1][x1].name=Side+Event&hostSubEvents[g1][x1].link=https://side.example.com" +
		"&events[1].uid=g2&topics=zk&topics=+&checkInDate=2026-11-01&checkOutDate=2026-11-03&reason=hello"
	rec := ts.do(t, http.MethodPost, "/irl/lisbon/guests", "application/x-www-form-urlencoded", body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reply := decode[submitReply](t, rec)
	require.Len(t, reply.Toasts, 1)
	assert.Equal(t, notify.ToastSuccess, reply.Toasts[0].Kind)

	g := ts.guest(t, "m1")
	require.NotNil(t, g)
	assert.Equal(t, "t1", g.TeamUID)
	assert.Equal(t, []string{"zk"}, g.Topics)
	assert.ElementsMatch(t, []string{"g1", "g2"}, g.GatheringUIDs())
	for _, e := range g.Events {
		if e.UID == "g1" {
			assert.True(t, e.IsHost)
			require.Len(t, e.HostSubEvents, 1)
			assert.Equal(t, "Side Event", e.HostSubEvents[0].Name)
		}
	}

	// success closes the draft
	_, ok := ts.drafts.Snapshot("loc1", "m1")
	assert.False(t, ok)
}

func TestGuestSubmit_SecondSubmitEdits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.directory.Wait()

	rec = ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g2"}, "reason": {"changed"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g := ts.guest(t, "m1")
	require.NotNil(t, g)
	assert.Equal(t, "changed", g.Reason)
	assert.ElementsMatch(t, []string{"g1", "g2"}, g.GatheringUIDs())
}

func TestGuestSubmit_InviteOnlyRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g4"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.True(t, decode[submitReply](t, rec).Errors.Has(irl.ErrCodeInviteOnly))
}

func TestGuestSubmit_AdminBypassesInviteOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.user = User{Email: "admin@example.com", Admin: true}

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g4"}, "memberUid": {"m2"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, ts.guest(t, "m2"))
}

func TestGuestSubmit_OtherMemberForbidden(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g1"}, "memberUid": {"m2"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, ts.guest(t, "m2"))
}

func TestGuestSubmit_PendingConflict(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true).Code)
	_, err := ts.drafts.Begin("loc1", "m1")
	require.NoError(t, err)

	rec := ts.postForm(t, "/irl/lisbon/guests", url.Values{"events[0].uid": {"g1"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/submit", "", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, ts.guest(t, "m1"))
}

func TestGuestSubmit_RedirectsWithFlash(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/irl/lisbon/guests", "application/x-www-form-urlencoded", "events[0].uid=g1", false)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/irl/lisbon", rec.Header().Get("Location"))
	require.Len(t, ts.flashes, 1)
	assert.Equal(t, notify.ToastSuccess, ts.flashes[0].Kind)
}

func TestFormDraftFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[DraftState](t, rec)
	assert.Equal(t, attendance.ModeAdd, state.Mode)
	assert.Len(t, state.Gatherings, 3)
	assert.Empty(t, state.Selected)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/toggle", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[DraftState](t, rec)
	require.Len(t, state.Selected, 1)

	// invite-only gatherings cannot be toggled by members
	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g4/toggle", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[DraftState](t, rec).Selected, 1)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/host", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[DraftState](t, rec)
	require.True(t, state.Selected[0].IsHost)
	require.Len(t, state.Selected[0].HostSubEvents, 1)
	id := state.Selected[0].HostSubEvents[0].ID

	for field, value := range map[string]string{"name": "Workshop", "link": "https://ws.example.com"} {
		rec = ts.do(t, http.MethodPatch, "/irl/lisbon/form/gatherings/g1/host/sub-events/"+id,
			"application/json", `{"field":"`+field+`","value":"`+value+`"}`, true)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = ts.do(t, http.MethodPatch, "/irl/lisbon/form/gatherings/g1/host/sub-events/"+id,
		"application/json", `{"field":"color","value":"red"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/irl/lisbon/form", "application/json",
		`{"topics":["zk"],"additionalInfo":{"checkInDate":"2026-11-01","checkOutDate":"2026-11-02"}}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"zk"}, decode[DraftState](t, rec).Topics)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/submit", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g := ts.guest(t, "m1")
	require.NotNil(t, g)
	require.Len(t, g.Events, 1)
	assert.True(t, g.Events[0].IsHost)
	require.Len(t, g.Events[0].HostSubEvents, 1)
	assert.Equal(t, "Workshop", g.Events[0].HostSubEvents[0].Name)
	assert.Equal(t, "2026-11-01", g.AdditionalInfo.CheckInDate)
}

func TestFormSubEvents_UnknownRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/judge/sub-events", "", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormSubEvents_RemoveKeepsRole(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/toggle", "", "", true)
	rec := ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/host", "", "", true)
	id := decode[DraftState](t, rec).Selected[0].HostSubEvents[0].ID

	rec = ts.do(t, http.MethodDelete, "/irl/lisbon/form/gatherings/g1/hosts/sub-events/"+id, "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[DraftState](t, rec)
	assert.Empty(t, state.Selected[0].HostSubEvents)
	assert.True(t, state.Selected[0].IsHost)
}

func TestFormDiscard(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	rec := ts.do(t, http.MethodDelete, "/irl/lisbon/form", "", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := ts.drafts.Snapshot("loc1", "m1")
	assert.False(t, ok)
}

func TestFormOpen_NonMember(t *testing.T) {
	ts := newTestServer(t)
	ts.user = User{Email: "admin@example.com", Admin: true}

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func createGuest(t *testing.T, ts *testServer, member string, gatherings ...string) {
	t.Helper()
	g := irl.Guest{MemberUID: member, TeamUID: "t1"}
	for _, uid := range gatherings {
		g.Events = append(g.Events, irl.GuestEvent{Gathering: irl.Gathering{UID: uid}})
	}
	require.NoError(t, ts.db.CreateGuest(context.Background(), "loc1", g))
}

func TestRemoveGuests_Self(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1", "g2")
	createGuest(t, ts, "m2", "g1")

	// another member's pair is ignored in self mode
	rec := ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{"event": {"m1:g1", "m2:g1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[submitReply](t, rec)
	require.Len(t, reply.Toasts, 1)
	assert.Equal(t, notify.ToastSuccess, reply.Toasts[0].Kind)

	assert.Equal(t, []string{"g2"}, ts.guest(t, "m1").GatheringUIDs())
	assert.Equal(t, []string{"g1"}, ts.guest(t, "m2").GatheringUIDs())
}

func TestRemoveGuests_NothingSelected(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1")

	rec := ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotNil(t, ts.guest(t, "m1"))
}

func TestRemoveGuests_AdminMode(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1")
	createGuest(t, ts, "m2", "g1", "g2")

	rec := ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{"mode": {"admin-delete"}, "all": {"true"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.user = User{Email: "admin@example.com", Admin: true}
	rec = ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{"mode": {"admin-delete"}, "all": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, ts.guest(t, "m1"))
	assert.Nil(t, ts.guest(t, "m2"))
}

func gatheringOption(t *testing.T, state DraftState, uid string) GatheringOption {
	t.Helper()
	for _, o := range state.Gatherings {
		if o.UID == uid {
			return o
		}
	}
	require.FailNow(t, "gathering not in form", uid)
	return GatheringOption{}
}

func TestRemoveGuests_SelfResetsOpenForm(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1", "g2")

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	g1 := gatheringOption(t, decode[DraftState](t, rec), "g1")
	require.True(t, g1.Booked)
	require.False(t, g1.Toggleable)

	rec = ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{"event": {"m1:g1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := ts.drafts.Snapshot("loc1", "m1")
	assert.False(t, ok)
	ts.directory.Wait()

	rec = ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[DraftState](t, rec)
	assert.Equal(t, attendance.ModeEdit, state.Mode)
	g1 = gatheringOption(t, state, "g1")
	assert.False(t, g1.Booked)
	assert.False(t, g1.Selected)
	assert.True(t, gatheringOption(t, state, "g2").Booked)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/submit", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"g2"}, ts.guest(t, "m1").GatheringUIDs())
}

func TestRemoveGuests_FullRemovalSubmitsAsNewGuest(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1")

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, attendance.ModeEdit, decode[DraftState](t, rec).Mode)

	rec = ts.postForm(t, "/irl/lisbon/guests/remove", url.Values{"member": {"m1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Nil(t, ts.guest(t, "m1"))

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g2/toggle", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[DraftState](t, rec)
	assert.Equal(t, attendance.ModeAdd, state.Mode)
	require.Len(t, state.Selected, 1)

	rec = ts.do(t, http.MethodPost, "/irl/lisbon/form/submit", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	g := ts.guest(t, "m1")
	require.NotNil(t, g)
	assert.Equal(t, []string{"g2"}, g.GatheringUIDs())
}

func TestFormOpen_ReflectsBookingChangedElsewhere(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1")

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, gatheringOption(t, decode[DraftState](t, rec), "g2").Booked)

	rec = ts.do(t, http.MethodPut, "/api/v1/irl/locations/loc1/guests/m1", "application/json",
		`{"events":[{"uid":"g2"}]}`, true)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	ts.directory.Wait()

	rec = ts.do(t, http.MethodGet, "/irl/lisbon/form", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[DraftState](t, rec)
	assert.True(t, gatheringOption(t, state, "g1").Booked)
	assert.True(t, gatheringOption(t, state, "g2").Booked)
}

func TestDrafts_OpenKeepsPendingDraft(t *testing.T) {
	d := NewDrafts()
	draftWith := func(existing []irl.Guest) func() (*Draft, error) {
		return func() (*Draft, error) {
			return &Draft{Form: &irl.Form{MemberUID: "m1"}, Existing: existing}, nil
		}
	}

	opened, err := d.Open("loc1", "m1", nil, draftWith(nil))
	require.NoError(t, err)
	_, err = d.Begin("loc1", "m1")
	require.NoError(t, err)

	booked := []irl.Guest{{MemberUID: "m1", Events: []irl.GuestEvent{{Gathering: irl.Gathering{UID: "g1"}}}}}
	got, err := d.Open("loc1", "m1", booked, draftWith(booked))
	require.NoError(t, err)
	assert.Same(t, opened, got)

	d.SetPending("loc1", "m1", false)
	got, err = d.Open("loc1", "m1", booked, draftWith(booked))
	require.NoError(t, err)
	assert.NotSame(t, opened, got)

	again, err := d.Open("loc1", "m1", booked, draftWith(nil))
	require.NoError(t, err)
	assert.Same(t, got, again)
}

func TestGuestSubmit_AdminLeavesMemberDraftAlone(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/irl/lisbon/form/gatherings/g1/toggle", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	ts.user = User{Email: "admin@example.com", Admin: true}
	rec = ts.postForm(t, "/irl/lisbon/guests", url.Values{"memberUid": {"m1"}, "checkInDate": {"2026-11-02"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	own, ok := ts.drafts.Snapshot("loc1", "m1")
	require.True(t, ok)
	assert.Len(t, own.Form.Selected, 1)
	assert.Empty(t, own.Form.Info.CheckInDate)
	assert.False(t, own.Errors.Has(irl.ErrCodeSelectGathering))

	admin, ok := ts.drafts.Snapshot("loc1", "admin:admin@example.com:m1")
	require.True(t, ok)
	assert.Equal(t, "m1", admin.Form.MemberUID)
	assert.True(t, admin.Errors.Has(irl.ErrCodeSelectGathering))

	// a successful admin submit closes only the admin's draft
	rec = ts.postForm(t, "/irl/lisbon/guests", url.Values{"memberUid": {"m1"}, "events[0].uid": {"g2"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok = ts.drafts.Snapshot("loc1", "admin:admin@example.com:m1")
	assert.False(t, ok)
	assert.Equal(t, []string{"g2"}, ts.guest(t, "m1").GatheringUIDs())
}

func TestFollow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/irl/lisbon/follow", url.Values{"active": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode[irl.Subscription](t, rec)
	assert.True(t, sub.IsActive)
	assert.Equal(t, "loc1", sub.EntityUID)

	ts.directory.Wait()
	rec = ts.do(t, http.MethodGet, "/irl/lisbon", "", "", true)
	assert.Equal(t, true, decode[map[string]any](t, rec)["following"])

	rec = ts.postForm(t, "/irl/lisbon/follow", url.Values{"active": {"false"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[irl.Subscription](t, rec).IsActive)

	followers, err := ts.db.Followers(context.Background(), "loc1")
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestDownloadCSV(t *testing.T) {
	ts := newTestServer(t)
	createGuest(t, ts, "m1", "g1")

	rec := ts.do(t, http.MethodGet, "/irl/lisbon/guests.csv", "", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "lisbon-guests.csv")

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "\xEF\xBB\xBFMember,Team,Gatherings"))
	assert.Contains(t, body, "Ann,Protocol,Summit")
}

func TestAPIGuests(t *testing.T) {
	ts := newTestServer(t)
	events := 0
	ts.bus.Subscribe(func(e notify.Event) {
		if _, ok := e.(notify.GuestsUpdated); ok {
			events++
		}
	})

	rec := ts.do(t, http.MethodPost, "/api/v1/irl/locations/loc1/guests", "application/json",
		`{"memberUid":"m1","events":[{"uid":"g1"}],"topics":["zk"]}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/irl/locations/loc1/guests", "application/json",
		`{"memberUid":"m1","events":[{"uid":"g2"}]}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/irl/locations/loc1/guests", "application/json",
		`{"memberUid":"m2","events":[{"uid":"nope"}]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/irl/locations/loc1/guests/m1", "application/json",
		`{"events":[{"uid":"g2"}],"reason":"edited"}`, true)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/api/v1/irl/locations/loc1/guests/m2", "application/json",
		`{"events":[{"uid":"g2"}]}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/irl/locations/lisbon/guests?memberUid=m1", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[irl.GuestList](t, rec)
	require.Len(t, list.Guests, 1)
	assert.Equal(t, "edited", list.Guests[0].Reason)
	assert.Len(t, list.Guests[0].Events, 2)
	assert.True(t, list.IsUserGoing)

	rec = ts.do(t, http.MethodDelete, "/api/v1/irl/locations/loc1/guests", "application/json",
		`{"membersAndEvents":[{"memberUid":"m1","events":["g1","g2"]}]}`, true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, ts.guest(t, "m1"))

	rec = ts.do(t, http.MethodDelete, "/api/v1/irl/locations/loc1/guests", "application/json", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/irl/locations/porto/guests", "", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 3, events)
}

func TestAPISubscriptions(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/member-subscriptions?memberUid=m1&entityUid=loc1", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]irl.Subscription](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/v1/member-subscriptions?memberUid=m1", "", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/member-subscriptions", "application/json",
		`{"memberUid":"m1","entityUid":"loc1","isActive":true}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[irl.Subscription](t, rec)
	require.NotEmpty(t, sub.UID)

	rec = ts.do(t, http.MethodGet, "/api/v1/irl/locations/lisbon/followers", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]irl.Subscription](t, rec), 1)

	rec = ts.do(t, http.MethodPut, "/api/v1/member-subscriptions/"+sub.UID, "application/json", `{"isActive":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[irl.Subscription](t, rec).IsActive)

	rec = ts.do(t, http.MethodPut, "/api/v1/member-subscriptions/missing", "application/json", `{"isActive":true}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/irl/locations/loc1/followers", "", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
