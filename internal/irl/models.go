package irl

import (
	"time"
)

// GatheringType is the visibility kind of a gathering
type GatheringType string

const (
	GatheringOpen       GatheringType = "open"
	GatheringInviteOnly GatheringType = "invite-only"
)

// EventType selects upcoming or past gatherings of a location
type EventType string

const (
	EventsUpcoming EventType = "upcoming"
	EventsPast     EventType = "past"
)

// Role is a participation role inside a gathering
type Role string

const (
	RoleHost    Role = "host"
	RoleSpeaker Role = "speaker"
)

// ParseRole maps a path segment to a Role
func ParseRole(s string) (Role, bool) {
	switch s {
	case "host", "hosts":
		return RoleHost, true
	case "speaker", "speakers":
		return RoleSpeaker, true
	}
	return "", false
}

type Resource struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// Gathering is one scheduled event at a location. Read-only reference data.
type Gathering struct {
	UID       string        `json:"uid"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	Type      GatheringType `json:"type"`
	LogoURL   string        `json:"logoUrl,omitempty"`
	Resources []Resource    `json:"resources,omitempty"`
	StartDate time.Time     `json:"startDate"`
	EndDate   time.Time     `json:"endDate"`
}

func (g Gathering) InviteOnly() bool {
	return g.Type == GatheringInviteOnly
}

type SubEvent struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Link string `json:"link"`
}

// GuestEvent is a gathering as attended by a guest, with the guest's roles in it
type GuestEvent struct {
	Gathering
	IsHost           bool       `json:"isHost"`
	IsSpeaker        bool       `json:"isSpeaker"`
	HostSubEvents    []SubEvent `json:"hostSubEvents"`
	SpeakerSubEvents []SubEvent `json:"speakerSubEvents"`
}

// SubEvents returns the sub-event list for a role
func (e *GuestEvent) SubEvents(role Role) []SubEvent {
	if role == RoleSpeaker {
		return e.SpeakerSubEvents
	}
	return e.HostSubEvents
}

func (e *GuestEvent) setSubEvents(role Role, list []SubEvent) {
	if role == RoleSpeaker {
		e.SpeakerSubEvents = list
		return
	}
	e.HostSubEvents = list
}

// SelectedGathering is the form-local working copy of a gathering being registered for
type SelectedGathering = GuestEvent

type AdditionalInfo struct {
	CheckInDate  string `json:"checkInDate"`
	CheckOutDate string `json:"checkOutDate"`
}

// Guest is one member's registration record for a location
type Guest struct {
	MemberUID      string         `json:"memberUid"`
	MemberName     string         `json:"memberName,omitempty"`
	MemberImage    string         `json:"memberImage,omitempty"`
	TeamUID        string         `json:"teamUid,omitempty"`
	TeamName       string         `json:"teamName,omitempty"`
	TeamLogo       string         `json:"teamLogo,omitempty"`
	Events         []GuestEvent   `json:"events"`
	AdditionalInfo AdditionalInfo `json:"additionalInfo"`
	Topics         []string       `json:"topics"`
	Reason         string         `json:"reason,omitempty"`
	TelegramID     string         `json:"telegramId,omitempty"`
	OfficeHours    string         `json:"officeHours,omitempty"`
}

// Attends reports whether the guest is registered for the gathering
func (g *Guest) Attends(gatheringUID string) bool {
	for _, e := range g.Events {
		if e.UID == gatheringUID {
			return true
		}
	}
	return false
}

// GatheringUIDs returns the uids of every gathering the guest attends
func (g *Guest) GatheringUIDs() []string {
	uids := make([]string, 0, len(g.Events))
	for _, e := range g.Events {
		uids = append(uids, e.UID)
	}
	return uids
}

// FindGuest returns the guest record of a member, or nil
func FindGuest(guests []Guest, memberUID string) *Guest {
	if memberUID == "" {
		return nil
	}
	for i := range guests {
		if guests[i].MemberUID == memberUID {
			return &guests[i]
		}
	}
	return nil
}

// MemberEvents names the gatherings to remove for one member
type MemberEvents struct {
	MemberUID string   `json:"memberUid"`
	Events    []string `json:"events"`
}

type Location struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// GuestQuery selects the guest list of a location
type GuestQuery struct {
	LocationUID string
	Type        EventType
	EventSlug   string
	MemberUID   string
}

// GuestList is the read model of a location's guests
type GuestList struct {
	Location       Location    `json:"location"`
	Guests         []Guest     `json:"guests"`
	Gatherings     []Gathering `json:"events"`
	UpcomingEvents []Gathering `json:"upcomingEvents"`
	PastEvents     []Gathering `json:"pastEvents"`
	CurrentGuest   *Guest      `json:"currentGuest"`
	IsUserGoing    bool        `json:"isUserGoing"`
}

const EntityLocation = "LOCATION"

// Subscription is a member following an entity (a location)
type Subscription struct {
	UID        string `json:"uid"`
	MemberUID  string `json:"memberUid"`
	EntityType string `json:"entityType"`
	EntityUID  string `json:"entityUid"`
	IsActive   bool   `json:"isActive"`
}
