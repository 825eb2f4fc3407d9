package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// ViewKey identifies one guest table: a location, upcoming or past, and an optional event
type ViewKey struct {
	LocationUID string
	Type        irl.EventType
	EventSlug   string
}

// View is a fetched guest list plus the state derived from it
type View struct {
	Key       ViewKey
	List      irl.GuestList
	Followers []irl.Subscription
	FetchedAt time.Time

	mu         sync.Mutex
	memoOK     bool
	memoSort   irl.SortConfig
	memoFilter irl.FilterConfig
	memoRows   []irl.Guest
	derived    int
}

// Rows returns the sorted and filtered guests, recomputed only when the
// sort or filter configuration differs from the previous call
func (v *View) Rows(sc irl.SortConfig, fc irl.FilterConfig) []irl.Guest {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.memoOK && v.memoSort == sc && v.memoFilter.Equal(fc) {
		return v.memoRows
	}
	v.memoRows = irl.Derive(v.List.Guests, sc, fc)
	v.memoSort = sc
	v.memoFilter = fc
	v.memoOK = true
	v.derived++
	return v.memoRows
}

// CurrentGuest returns the member's own registration record, or nil
func (v *View) CurrentGuest(memberUID string) *irl.Guest {
	return irl.FindGuest(v.List.Guests, memberUID)
}

// IsGoing reports whether the member attends any gathering of the view
func (v *View) IsGoing(memberUID string) bool {
	return v.CurrentGuest(memberUID) != nil
}

// IsFollowing reports whether the member follows the location
func (v *View) IsFollowing(memberUID string) bool {
	for _, s := range v.Followers {
		if s.MemberUID == memberUID && s.IsActive {
			return true
		}
	}
	return false
}

// Directory caches guest list views and replaces them when a location's
// guests change. Views are never patched in place.
type Directory struct {
	svc    GuestService
	log    zerolog.Logger
	maxAge time.Duration
	now    func() time.Time

	mu    sync.Mutex
	views map[ViewKey]*View
	// epoch counts invalidations; invalidated holds the epoch at which a
	// location uid or slug was last invalidated
	epoch       uint64
	invalidated map[string]uint64

	unsubscribe func()
	wg          sync.WaitGroup
}

type DirectoryOption func(*Directory)

// WithMaxAge makes View refetch cached views older than maxAge. Zero keeps
// views until they are invalidated.
func WithMaxAge(maxAge time.Duration) DirectoryOption {
	return func(d *Directory) {
		d.maxAge = maxAge
	}
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		d.now = now
	}
}

func NewDirectory(svc GuestService, bus *notify.Bus, logger zerolog.Logger, opts ...DirectoryOption) *Directory {
	d := &Directory{
		svc:         svc,
		log:         logger.With().Str("component", "directory").Logger(),
		now:         time.Now,
		views:       make(map[ViewKey]*View),
		invalidated: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.unsubscribe = bus.Subscribe(d.handle)
	return d
}

func (d *Directory) handle(e notify.Event) {
	switch ev := e.(type) {
	case notify.GuestsUpdated:
		d.Invalidate(ev.LocationUID)
	case notify.FollowChanged:
		d.Invalidate(ev.LocationUID)
	}
}

// View returns the cached view for key, fetching it when missing or expired
func (d *Directory) View(ctx context.Context, key ViewKey) (*View, error) {
	d.mu.Lock()
	v, ok := d.views[key]
	d.mu.Unlock()
	if ok && (d.maxAge <= 0 || d.now().Sub(v.FetchedAt) <= d.maxAge) {
		return v, nil
	}
	return d.Refresh(ctx, key)
}

// Refresh fetches the guest list and followers of key and replaces the cached view
func (d *Directory) Refresh(ctx context.Context, key ViewKey) (*View, error) {
	d.mu.Lock()
	started := d.epoch
	d.mu.Unlock()

	var (
		list      *irl.GuestList
		followers []irl.Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = d.svc.GuestsByLocation(gctx, irl.GuestQuery{
			LocationUID: key.LocationUID,
			Type:        key.Type,
			EventSlug:   key.EventSlug,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch guests: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		followers, err = d.svc.Followers(gctx, key.LocationUID)
		if err != nil {
			return fmt.Errorf("failed to fetch followers: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		refreshesTotal.WithLabelValues(resultFailed).Inc()
		return nil, err
	}
	refreshesTotal.WithLabelValues(resultOK).Inc()

	v := &View{
		Key:       key,
		List:      *list,
		Followers: followers,
		FetchedAt: d.now(),
	}

	d.mu.Lock()
	// an invalidation of the location under any of its names that arrived
	// during the fetch wins
	if !d.invalidatedSince(started, key.LocationUID, list.Location.UID, list.Location.Slug) {
		d.views[key] = v
	}
	d.mu.Unlock()

	return v, nil
}

// invalidatedSince reports whether any of ids was invalidated after epoch.
// d.mu must be held.
func (d *Directory) invalidatedSince(epoch uint64, ids ...string) bool {
	for _, id := range ids {
		if id != "" && d.invalidated[id] > epoch {
			return true
		}
	}
	return false
}

// Invalidate drops every view of a location and refetches them in the background.
// The location may be given by uid or slug; views are matched through their fetched location.
func (d *Directory) Invalidate(locationUID string) {
	d.mu.Lock()
	d.epoch++
	d.invalidated[locationUID] = d.epoch
	var stale []ViewKey
	for key, v := range d.views {
		loc := v.List.Location
		if key.LocationUID == locationUID || loc.UID == locationUID || (loc.Slug != "" && loc.Slug == locationUID) {
			for _, id := range []string{key.LocationUID, loc.UID, loc.Slug} {
				if id != "" {
					d.invalidated[id] = d.epoch
				}
			}
			stale = append(stale, key)
			delete(d.views, key)
		}
	}
	d.mu.Unlock()

	for _, key := range stale {
		d.wg.Add(1)
		go func(key ViewKey) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := d.Refresh(ctx, key); err != nil {
				d.log.Warn().Err(err).Str("location", key.LocationUID).Msg("Background guest refresh failed")
			}
		}(key)
	}
}

// Wait blocks until background refreshes finish
func (d *Directory) Wait() {
	d.wg.Wait()
}

// Close stops listening for updates and waits for pending refreshes
func (d *Directory) Close() {
	d.unsubscribe()
	d.wg.Wait()
}
