package irl

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field is one key/value pair of a posted form, in body order
type Field struct {
	Key   string
	Value string
}

// Submission is the normalized attendee form payload
type Submission struct {
	MemberUID      string            `json:"memberUid"`
	TeamUID        string            `json:"teamUid"`
	Reason         string            `json:"reason"`
	TelegramID     string            `json:"telegramId"`
	OfficeHours    string            `json:"officeHours"`
	Extra          map[string]string `json:"extra,omitempty"`
	Events         []GuestEvent      `json:"events"`
	AdditionalInfo AdditionalInfo    `json:"additionalInfo"`
	Topics         []string          `json:"topics"`
}

// Guest converts the submission into the guest write payload. Sub-event ids
// only key rows inside one form session and are not sent.
func (s Submission) Guest() (Guest, error) {
	events := make([]GuestEvent, 0, len(s.Events))
	for _, e := range s.Events {
		out, err := cloneSelected(e)
		if err != nil {
			return Guest{}, err
		}
		for i := range out.HostSubEvents {
			out.HostSubEvents[i].ID = ""
		}
		for i := range out.SpeakerSubEvents {
			out.SpeakerSubEvents[i].ID = ""
		}
		events = append(events, out)
	}
	return Guest{
		MemberUID:      s.MemberUID,
		TeamUID:        s.TeamUID,
		Events:         events,
		AdditionalInfo: s.AdditionalInfo,
		Topics:         append([]string{}, s.Topics...),
		Reason:         s.Reason,
		TelegramID:     s.TelegramID,
		OfficeHours:    s.OfficeHours,
	}, nil
}

var (
	eventFieldKey = regexp.MustCompile(`^events\[(\d+)\]\.(\w+)$`)
	roleFlagKey   = regexp.MustCompile(`^(isHost|isSpeaker)\[([^\]]+)\]$`)
	subEventKey   = regexp.MustCompile(`^(hostSubEvents|speakerSubEvents)\[([^\]]+)\]\[([^\]]+)\]\.(name|link)$`)
)

// ParseFields splits an urlencoded body into fields, keeping body order.
// url.ParseQuery would lose the order of distinct keys.
func ParseFields(body string) ([]Field, error) {
	var fields []Field
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("invalid form key %q: %w", key, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", k, err)
		}
		fields = append(fields, Field{Key: k, Value: v})
	}
	return fields, nil
}

type subEventUpdate struct {
	list       string
	gathering  string
	subEventID string
	field      string
	value      string
}

// Normalize folds the flat field list of the attendee form into a Submission
func Normalize(fields []Field) Submission {
	out := Submission{Events: []GuestEvent{}, Topics: []string{}}

	byIndex := make(map[int]*GuestEvent)
	hostFlags := make(map[string]bool)
	speakerFlags := make(map[string]bool)
	var subEvents []subEventUpdate

	for _, f := range fields {
		if m := eventFieldKey.FindStringSubmatch(f.Key); m != nil {
			if strings.TrimSpace(f.Value) == "" {
				continue
			}
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			e, ok := byIndex[idx]
			if !ok {
				e = &GuestEvent{HostSubEvents: []SubEvent{}, SpeakerSubEvents: []SubEvent{}}
				byIndex[idx] = e
			}
			setGatheringField(&e.Gathering, m[2], f.Value)
			continue
		}

		if m := roleFlagKey.FindStringSubmatch(f.Key); m != nil {
			if m[1] == "isHost" {
				hostFlags[m[2]] = f.Value == "true"
			} else {
				speakerFlags[m[2]] = f.Value == "true"
			}
			continue
		}

		if m := subEventKey.FindStringSubmatch(f.Key); m != nil {
			subEvents = append(subEvents, subEventUpdate{
				list: m[1], gathering: m[2], subEventID: m[3], field: m[4], value: f.Value,
			})
			continue
		}

		switch f.Key {
		case "checkInDate":
			out.AdditionalInfo.CheckInDate = f.Value
		case "checkOutDate":
			out.AdditionalInfo.CheckOutDate = f.Value
		case "topics":
			out.Topics = append(out.Topics, f.Value)
		case "memberUid":
			out.MemberUID = f.Value
		case "teamUid":
			out.TeamUID = f.Value
		case "reason":
			out.Reason = f.Value
		case "telegramId":
			out.TelegramID = f.Value
		case "officeHours":
			out.OfficeHours = f.Value
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]string)
			}
			out.Extra[f.Key] = f.Value
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		e := byIndex[idx]
		e.IsHost = hostFlags[e.UID]
		e.IsSpeaker = speakerFlags[e.UID]
		out.Events = append(out.Events, *e)
	}

	for _, u := range subEvents {
		e := findEvent(out.Events, u.gathering)
		if e == nil {
			continue
		}
		if u.list == "hostSubEvents" {
			e.HostSubEvents = upsertSubEvent(e.HostSubEvents, u)
		} else {
			e.SpeakerSubEvents = upsertSubEvent(e.SpeakerSubEvents, u)
		}
	}

	return out
}

func setGatheringField(g *Gathering, field, value string) {
	switch field {
	case "uid":
		g.UID = value
	case "name":
		g.Name = value
	case "slug":
		g.Slug = value
	case "type":
		g.Type = GatheringType(value)
	case "logo":
		g.LogoURL = value
	case "startDate":
		g.StartDate = parseFormTime(value)
	case "endDate":
		g.EndDate = parseFormTime(value)
	}
}

// parseFormTime accepts RFC 3339 timestamps and plain dates; anything else is zero
func parseFormTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t
	}
	return time.Time{}
}

func findEvent(events []GuestEvent, gatheringUID string) *GuestEvent {
	for i := range events {
		if events[i].UID == gatheringUID {
			return &events[i]
		}
	}
	return nil
}

func upsertSubEvent(list []SubEvent, u subEventUpdate) []SubEvent {
	for i := range list {
		if list[i].ID == u.subEventID {
			setSubEventField(&list[i], u.field, u.value)
			return list
		}
	}
	se := SubEvent{ID: u.subEventID}
	setSubEventField(&se, u.field, u.value)
	return append(list, se)
}

func setSubEventField(se *SubEvent, field, value string) {
	if field == "name" {
		se.Name = value
		return
	}
	se.Link = value
}
