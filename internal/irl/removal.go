package irl

import (
	"sort"
)

// RemovalMode is the kind of removal dialog
type RemovalMode string

const (
	SelfDelete  RemovalMode = "self-delete"
	AdminDelete RemovalMode = "admin-delete"
)

// Removal tracks which gatherings are marked for removal, per member.
// A member with nothing marked has no entry at all.
type Removal struct {
	mode      RemovalMode
	available map[string][]string
	order     []string
	selected  map[string]map[string]struct{}
}

// NewRemoval builds the selection model over the guests listed in the dialog.
// In self-delete mode invite-only gatherings are not selectable.
func NewRemoval(guests []Guest, mode RemovalMode) *Removal {
	r := &Removal{
		mode:      mode,
		available: make(map[string][]string),
		selected:  make(map[string]map[string]struct{}),
	}
	for _, g := range guests {
		var ids []string
		for _, e := range g.Events {
			if mode == SelfDelete && e.InviteOnly() {
				continue
			}
			ids = append(ids, e.UID)
		}
		if _, seen := r.available[g.MemberUID]; !seen {
			r.order = append(r.order, g.MemberUID)
		}
		r.available[g.MemberUID] = ids
	}
	return r
}

// Selectable reports whether a gathering of a member can be marked
func (r *Removal) Selectable(memberUID, gatheringUID string) bool {
	for _, id := range r.available[memberUID] {
		if id == gatheringUID {
			return true
		}
	}
	return false
}

// ToggleAll marks every selectable gathering of every member, or clears everything
func (r *Removal) ToggleAll(checked bool) {
	if !checked {
		r.selected = make(map[string]map[string]struct{})
		return
	}
	for _, uid := range r.order {
		r.ToggleMember(uid, true)
	}
}

// ToggleMember marks all selectable gatherings of a member, or drops the member
func (r *Removal) ToggleMember(memberUID string, checked bool) {
	if !checked {
		delete(r.selected, memberUID)
		return
	}
	ids := r.available[memberUID]
	if len(ids) == 0 {
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.selected[memberUID] = set
}

// ToggleGathering marks or unmarks a single gathering of a member.
// A member left with nothing marked is removed from the selection.
func (r *Removal) ToggleGathering(memberUID, gatheringUID string, checked bool) {
	if checked {
		if !r.Selectable(memberUID, gatheringUID) {
			return
		}
		set, ok := r.selected[memberUID]
		if !ok {
			set = make(map[string]struct{})
			r.selected[memberUID] = set
		}
		set[gatheringUID] = struct{}{}
		return
	}

	set, ok := r.selected[memberUID]
	if !ok {
		return
	}
	delete(set, gatheringUID)
	if len(set) == 0 {
		delete(r.selected, memberUID)
	}
}

// Empty reports whether nothing is marked; the confirm action is disabled then
func (r *Removal) Empty() bool {
	return len(r.selected) == 0
}

// IsSelected reports whether a gathering of a member is marked
func (r *Removal) IsSelected(memberUID, gatheringUID string) bool {
	_, ok := r.selected[memberUID][gatheringUID]
	return ok
}

// Has reports whether a member has an entry in the selection
func (r *Removal) Has(memberUID string) bool {
	_, ok := r.selected[memberUID]
	return ok
}

// AllSelected reports whether every selectable gathering of every member is marked
func (r *Removal) AllSelected() bool {
	for _, uid := range r.order {
		if len(r.available[uid]) == 0 {
			continue
		}
		if len(r.selected[uid]) != len(r.available[uid]) {
			return false
		}
	}
	return len(r.selected) > 0
}

// Request groups the selection into the bulk delete payload, ordered as listed
func (r *Removal) Request() []MemberEvents {
	out := make([]MemberEvents, 0, len(r.selected))
	for _, uid := range r.order {
		set, ok := r.selected[uid]
		if !ok {
			continue
		}
		events := make([]string, 0, len(set))
		for id := range set {
			events = append(events, id)
		}
		sort.Strings(events)
		out = append(out, MemberEvents{MemberUID: uid, Events: events})
	}
	return out
}
