package irl

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type SortKey string

const (
	SortNone        SortKey = ""
	SortMemberName  SortKey = "memberName"
	SortTeamName    SortKey = "teamName"
	SortCheckInDate SortKey = "checkInDate"
)

// ParseSortKey accepts only the supported guest table columns
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortMemberName, SortTeamName, SortCheckInDate:
		return SortKey(s)
	}
	return SortNone
}

type SortOrder string

const (
	OrderNone SortOrder = ""
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case OrderAsc, OrderDesc:
		return SortOrder(s)
	}
	return OrderNone
}

type SortConfig struct {
	Key   SortKey   `json:"key"`
	Order SortOrder `json:"order"`
}

// Active reports whether the config changes row order
func (c SortConfig) Active() bool {
	return c.Key != SortNone && c.Order != OrderNone
}

// NextSort is the column header signal: a new column starts ascending,
// then descending, then back to insertion order.
func NextSort(current SortConfig, key SortKey) SortConfig {
	if current.Key != key || current.Order == OrderNone {
		return SortConfig{Key: key, Order: OrderAsc}
	}
	if current.Order == OrderAsc {
		return SortConfig{Key: key, Order: OrderDesc}
	}
	return SortConfig{}
}

// FilterConfig holds the selected values per filterable column.
// An empty list means no filter on that column.
type FilterConfig struct {
	Events []string `json:"events"`
	Topics []string `json:"topics"`
}

func (c FilterConfig) Equal(o FilterConfig) bool {
	return slices.Equal(c.Events, o.Events) && slices.Equal(c.Topics, o.Topics)
}

// Derive filters and sorts guests into the visible rows. It does not modify guests.
func Derive(guests []Guest, sc SortConfig, fc FilterConfig) []Guest {
	rows := make([]Guest, 0, len(guests))
	for _, g := range guests {
		if matchesEvents(g, fc.Events) && matchesTopics(g, fc.Topics) {
			rows = append(rows, g)
		}
	}

	if !sc.Active() {
		return rows
	}

	col := collate.New(language.English, collate.IgnoreCase)
	slices.SortStableFunc(rows, func(a, b Guest) int {
		c := col.CompareString(sortValue(a, sc.Key), sortValue(b, sc.Key))
		if sc.Order == OrderDesc {
			return -c
		}
		return c
	})
	return rows
}

func sortValue(g Guest, key SortKey) string {
	switch key {
	case SortMemberName:
		return g.MemberName
	case SortTeamName:
		return g.TeamName
	case SortCheckInDate:
		return g.AdditionalInfo.CheckInDate
	}
	return ""
}

func matchesEvents(g Guest, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, e := range g.Events {
		if slices.Contains(want, e.Name) || slices.Contains(want, e.UID) {
			return true
		}
	}
	return false
}

func matchesTopics(g Guest, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, t := range g.Topics {
		if slices.Contains(want, t) {
			return true
		}
	}
	return false
}

// FilterValues collects the distinct event names and topics offered as filter choices
func FilterValues(guests []Guest) FilterConfig {
	var out FilterConfig
	seenEvents := make(map[string]bool)
	seenTopics := make(map[string]bool)
	for _, g := range guests {
		for _, e := range g.Events {
			if !seenEvents[e.Name] {
				seenEvents[e.Name] = true
				out.Events = append(out.Events, e.Name)
			}
		}
		for _, t := range g.Topics {
			if !seenTopics[t] {
				seenTopics[t] = true
				out.Topics = append(out.Topics, t)
			}
		}
	}
	slices.Sort(out.Events)
	slices.Sort(out.Topics)
	return out
}
