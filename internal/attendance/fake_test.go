package attendance

import (
	"context"
	"errors"
	"sync"

	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

var errBackend = errors.New("backend unavailable")

type call struct {
	method    string
	location  string
	memberUID string
	guest     irl.Guest
	removal   []irl.MemberEvents
}

type fakeService struct {
	mu        sync.Mutex
	calls     []call
	guests    map[string][]irl.Guest
	subs      []irl.Subscription
	fetches   int
	failWrite bool
	failRead  bool
	// locations resolves a uid or slug; guests are keyed by the resolved uid
	locations map[string]irl.Location
	// when hold is set, guest fetches signal started and wait for hold to close
	hold    chan struct{}
	started chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{guests: make(map[string][]irl.Guest), locations: make(map[string]irl.Location)}
}

func (f *fakeService) GuestsByLocation(_ context.Context, q irl.GuestQuery) (*irl.GuestList, error) {
	f.mu.Lock()
	hold, started := f.hold, f.started
	f.mu.Unlock()
	if hold != nil {
		started <- struct{}{}
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failRead {
		return nil, errBackend
	}
	loc, ok := f.locations[q.LocationUID]
	if !ok {
		loc = irl.Location{UID: q.LocationUID}
	}
	guests := append([]irl.Guest(nil), f.guests[loc.UID]...)
	return &irl.GuestList{Location: loc, Guests: guests}, nil
}

func (f *fakeService) CreateGuest(_ context.Context, loc string, g irl.Guest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "create", location: loc, guest: g})
	if f.failWrite {
		return errBackend
	}
	f.guests[loc] = append(f.guests[loc], g)
	return nil
}

func (f *fakeService) EditGuest(_ context.Context, loc, memberUID string, g irl.Guest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "edit", location: loc, memberUID: memberUID, guest: g})
	if f.failWrite {
		return errBackend
	}
	return nil
}

func (f *fakeService) DeleteGuests(_ context.Context, loc string, req []irl.MemberEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "delete", location: loc, removal: req})
	if f.failWrite {
		return errBackend
	}
	var kept []irl.Guest
	for _, g := range f.guests[loc] {
		if !containsMember(req, g.MemberUID) {
			kept = append(kept, g)
		}
	}
	f.guests[loc] = kept
	return nil
}

func containsMember(req []irl.MemberEvents, uid string) bool {
	for _, r := range req {
		if r.MemberUID == uid {
			return true
		}
	}
	return false
}

func (f *fakeService) Subscription(_ context.Context, memberUID, entityUID string) (*irl.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subs {
		if f.subs[i].MemberUID == memberUID && f.subs[i].EntityUID == entityUID {
			s := f.subs[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeService) CreateSubscription(_ context.Context, s irl.Subscription) (*irl.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "follow-create", memberUID: s.MemberUID})
	s.UID = "sub-" + s.MemberUID
	f.subs = append(f.subs, s)
	return &s, nil
}

func (f *fakeService) UpdateSubscription(_ context.Context, uid string, active bool) (*irl.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: "follow-update", memberUID: uid})
	for i := range f.subs {
		if f.subs[i].UID == uid {
			f.subs[i].IsActive = active
			s := f.subs[i]
			return &s, nil
		}
	}
	return nil, errBackend
}

func (f *fakeService) Followers(_ context.Context, entityUID string) ([]irl.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []irl.Subscription
	for _, s := range f.subs {
		if s.EntityUID == entityUID && s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeService) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeService) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type recordingSession struct {
	loading []bool
	toasts  []notify.Toast
	closed  bool
}

func (s *recordingSession) SetLoading(on bool)   { s.loading = append(s.loading, on) }
func (s *recordingSession) Toast(t notify.Toast) { s.toasts = append(s.toasts, t) }
func (s *recordingSession) Close()               { s.closed = true }
