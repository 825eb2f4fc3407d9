package templates

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/AlexTLDR/irl/internal/irl"
	"github.com/AlexTLDR/irl/internal/notify"
)

// GuestsPageData is everything the location guest page shows
type GuestsPageData struct {
	Location       irl.Location
	Type           irl.EventType
	EventSlug      string
	UpcomingEvents []irl.Gathering
	PastEvents     []irl.Gathering

	Rows          []irl.Guest
	Total         int
	Sort          irl.SortConfig
	Filter        irl.FilterConfig
	FilterOptions irl.FilterConfig

	UserName    string
	MemberUID   string
	Admin       bool
	IsGoing     bool
	IsFollowing bool

	// Form is nil for anonymous visitors
	Form   *irl.Form
	Mode   string
	Errors irl.FormErrors

	Flashes []notify.Toast
}

// BasePath is the page URL of the location
func (d GuestsPageData) BasePath() string {
	return "/irl/" + url.PathEscape(d.Location.Slug)
}

// SortURL is the link of a column header: clicking cycles the column's sort
func (d GuestsPageData) SortURL(key irl.SortKey) string {
	next := irl.NextSort(d.Sort, key)
	q := d.query()
	q.Del("sort")
	q.Del("order")
	if next.Active() {
		q.Set("sort", string(next.Key))
		q.Set("order", string(next.Order))
	}
	return d.BasePath() + "?" + q.Encode()
}

func (d GuestsPageData) query() url.Values {
	q := url.Values{}
	if d.Type != "" {
		q.Set("type", string(d.Type))
	}
	if d.EventSlug != "" {
		q.Set("event", d.EventSlug)
	}
	if d.Sort.Active() {
		q.Set("sort", string(d.Sort.Key))
		q.Set("order", string(d.Sort.Order))
	}
	for _, e := range d.Filter.Events {
		q.Add("events", e)
	}
	for _, t := range d.Filter.Topics {
		q.Add("topics", t)
	}
	return q
}

// GuestsPage renders the guest table of a location with its forms
func GuestsPage(d GuestsPageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s · IRL</title></head><body>`, esc(d.Location.Name))
		p.printf(`<h1>%s</h1>`, esc(d.Location.Name))

		for _, f := range d.Flashes {
			p.printf(`<div class="toast toast-%s">%s</div>`, esc(string(f.Kind)), esc(f.Message))
		}

		p.printf(`<nav><a href="%s?type=upcoming">Upcoming</a> | <a href="%s?type=past">Past</a>`, d.BasePath(), d.BasePath())
		if d.Admin {
			p.printf(` | <a href="%s/guests.csv?%s">Download CSV</a>`, d.BasePath(), d.query().Encode())
		}
		if d.UserName != "" {
			p.printf(` | %s <a href="/auth/logout">Logout</a>`, esc(d.UserName))
		} else {
			p.printf(` | <a href="/auth/google">Login</a>`)
		}
		p.printf(`</nav>`)

		if d.MemberUID != "" {
			p.printf(`<form method="post" action="%s/follow"><input type="hidden" name="active" value="%t">`, d.BasePath(), !d.IsFollowing)
			if d.IsFollowing {
				p.printf(`<button type="submit">Unfollow</button></form>`)
			} else {
				p.printf(`<button type="submit">Follow</button></form>`)
			}
		}

		renderFilters(p, d)
		renderTable(p, d)

		if d.Form != nil {
			if err := ErrorSummary(d.Errors).Render(ctx, w); err != nil {
				return err
			}
			renderForm(p, d)
		}

		p.printf(`</body></html>`)
		return p.err
	})
}

func renderFilters(p *printer, d GuestsPageData) {
	p.printf(`<form method="get" action="%s" class="filters">`, d.BasePath())
	p.printf(`<input type="hidden" name="type" value="%s">`, esc(string(d.Type)))
	if d.Sort.Active() {
		p.printf(`<input type="hidden" name="sort" value="%s"><input type="hidden" name="order" value="%s">`,
			esc(string(d.Sort.Key)), esc(string(d.Sort.Order)))
	}
	p.printf(`<fieldset><legend>Gatherings</legend>`)
	for _, e := range d.FilterOptions.Events {
		p.printf(`<label><input type="checkbox" name="events" value="%s"%s> %s</label>`, esc(e), checked(contains(d.Filter.Events, e)), esc(e))
	}
	p.printf(`</fieldset><fieldset><legend>Topics</legend>`)
	for _, t := range d.FilterOptions.Topics {
		p.printf(`<label><input type="checkbox" name="topics" value="%s"%s> %s</label>`, esc(t), checked(contains(d.Filter.Topics, t)), esc(t))
	}
	p.printf(`</fieldset><button type="submit">Apply</button></form>`)
}

func renderTable(p *printer, d GuestsPageData) {
	mode := irl.SelfDelete
	if d.Admin {
		mode = irl.AdminDelete
	}
	canRemove := d.Admin || d.IsGoing

	if canRemove {
		p.printf(`<form method="post" action="%s/guests/remove"><input type="hidden" name="mode" value="%s">`, d.BasePath(), mode)
		p.printf(`<input type="hidden" name="type" value="%s">`, esc(string(d.Type)))
	}

	p.printf(`<p>%d of %d attendees</p><table><thead><tr>`, len(d.Rows), d.Total)
	if canRemove && d.Admin {
		p.printf(`<th><input type="checkbox" name="all" value="true"></th>`)
	} else if canRemove {
		p.printf(`<th></th>`)
	}
	for _, col := range []struct {
		key   irl.SortKey
		label string
	}{
		{irl.SortMemberName, "Member"},
		{irl.SortTeamName, "Team"},
	} {
		p.printf(`<th><a href="%s">%s%s</a></th>`, esc(d.SortURL(col.key)), col.label, sortMark(d.Sort, col.key))
	}
	p.printf(`<th>Gatherings</th><th>Topics</th>`)
	p.printf(`<th><a href="%s">Dates%s</a></th>`, esc(d.SortURL(irl.SortCheckInDate)), sortMark(d.Sort, irl.SortCheckInDate))
	p.printf(`</tr></thead><tbody>`)

	removal := irl.NewRemoval(d.Rows, mode)
	for _, g := range d.Rows {
		own := g.MemberUID == d.MemberUID
		p.printf(`<tr>`)
		if canRemove {
			if d.Admin {
				p.printf(`<td><input type="checkbox" name="member" value="%s"></td>`, esc(g.MemberUID))
			} else {
				p.printf(`<td></td>`)
			}
		}
		p.printf(`<td>%s</td><td>%s</td><td><ul>`, esc(g.MemberName), esc(g.TeamName))
		for _, e := range g.Events {
			p.printf(`<li>`)
			if canRemove && (d.Admin || own) && removal.Selectable(g.MemberUID, e.UID) {
				p.printf(`<input type="checkbox" name="event" value="%s"> `, esc(g.MemberUID+":"+e.UID))
			}
			p.printf(`%s%s</li>`, esc(e.Name), roleMark(e))
		}
		p.printf(`</ul></td><td>%s</td>`, esc(strings.Join(g.Topics, ", ")))
		p.printf(`<td>%s</td></tr>`, esc(dateRange(g.AdditionalInfo)))
	}
	p.printf(`</tbody></table>`)

	if canRemove {
		p.printf(`<button type="submit">Remove selected</button></form>`)
	}
}

// renderForm emits the flat attendee form. Field names follow the
// events[N].uid / isHost[uid] / hostSubEvents[uid][id].name convention.
func renderForm(p *printer, d GuestsPageData) {
	f := d.Form
	p.printf(`<form method="post" action="%s/guests" class="attendee-form">`, d.BasePath())
	p.printf(`<input type="hidden" name="mode" value="%s">`, esc(d.Mode))
	p.printf(`<input type="hidden" name="memberUid" value="%s">`, esc(f.MemberUID))
	p.printf(`<input type="hidden" name="teamUid" value="%s">`, esc(f.TeamUID))

	p.printf(`<fieldset><legend>Gatherings</legend>`)
	for i, g := range f.Gatherings {
		name := fmt.Sprintf("events[%d].uid", i)
		switch {
		case f.Booked(g.UID):
			p.printf(`<label><input type="hidden" name="%s" value="%s"><input type="checkbox" checked disabled> %s</label>`, name, esc(g.UID), esc(g.Name))
		case !f.Toggleable(g):
			p.printf(`<label>%s <em>Invite only</em></label>`, esc(g.Name))
			continue
		default:
			p.printf(`<label><input type="checkbox" name="%s" value="%s"%s> %s</label>`, name, esc(g.UID), checked(f.IsSelected(g.UID)), esc(g.Name))
		}
		renderRoles(p, d, g)
	}
	p.printf(`</fieldset>`)

	p.printf(`<label>Check-in <input type="date" name="checkInDate" value="%s"></label>`, esc(f.Info.CheckInDate))
	p.printf(`<label>Check-out <input type="date" name="checkOutDate" value="%s"></label>`, esc(f.Info.CheckOutDate))
	for _, t := range f.Topics {
		p.printf(`<input type="hidden" name="topics" value="%s">`, esc(t))
	}
	p.printf(`<label>Add topic <input type="text" name="topics"></label>`)
	p.printf(`<label>Telegram <input type="text" name="telegramId" value="%s"></label>`, esc(f.TelegramID))
	p.printf(`<label>Office hours <input type="text" name="officeHours" value="%s"></label>`, esc(f.OfficeHours))
	p.printf(`<label>Reason <textarea name="reason">%s</textarea></label>`, esc(f.Reason))
	p.printf(`<button type="submit">Save</button></form>`)
}

func renderRoles(p *printer, d GuestsPageData, g irl.Gathering) {
	var sel *irl.SelectedGathering
	for i := range d.Form.Selected {
		if d.Form.Selected[i].UID == g.UID {
			sel = &d.Form.Selected[i]
		}
	}
	if sel == nil {
		return
	}

	p.printf(`<div class="roles">`)
	p.printf(`<label><input type="checkbox" name="isHost[%s]" value="true"%s> Host</label>`, esc(g.UID), checked(sel.IsHost))
	p.printf(`<label><input type="checkbox" name="isSpeaker[%s]" value="true"%s> Speaker</label>`, esc(g.UID), checked(sel.IsSpeaker))
	for _, role := range []irl.Role{irl.RoleHost, irl.RoleSpeaker} {
		prefix := "hostSubEvents"
		if role == irl.RoleSpeaker {
			prefix = "speakerSubEvents"
		}
		for _, se := range sel.SubEvents(role) {
			base := fmt.Sprintf("%s[%s][%s]", prefix, g.UID, se.ID)
			p.printf(`<div class="sub-event">`)
			p.printf(`<input type="text" name="%s.name" value="%s" placeholder="Name">%s`, esc(base), esc(se.Name), fieldError(d.Errors, se.ID+"-name"))
			p.printf(`<input type="url" name="%s.link" value="%s" placeholder="Link">%s`, esc(base), esc(se.Link), fieldError(d.Errors, se.ID+"-link"))
			p.printf(`</div>`)
		}
	}
	p.printf(`</div>`)
}

var errorMessages = map[string]string{
	irl.ErrCodeSelectGathering:      "Please select at least one gathering.",
	irl.ErrCodeSelectMember:         "Please select a member.",
	irl.ErrCodeInviteOnly:           "Invite-only gatherings cannot be joined from this form.",
	irl.ErrCodeCheckOutDateRequired: "Please add a check-out date.",
	irl.ErrCodeCheckInDateRequired:  "Please add a check-in date.",
	irl.ErrCodeDateDifference:       "Check-out must not be before check-in.",
	irl.ErrCodeInvalidDate:          "Dates must look like 2006-01-02.",
}

// ErrorMessage maps a validation code to text
func ErrorMessage(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	switch {
	case strings.HasSuffix(code, "-name"):
		return "Name is required."
	case strings.HasSuffix(code, "-link"):
		return "Enter a valid link."
	}
	return code
}

// ErrorSummary lists the gathering and date errors of a submission
func ErrorSummary(errs irl.FormErrors) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		codes := append(append([]string{}, errs.GatheringErrors...), errs.DateErrors...)
		if len(codes) == 0 && len(errs.ParticipationErrors) == 0 {
			return nil
		}
		p := &printer{w: w}
		p.printf(`<ul class="form-errors">`)
		for _, c := range codes {
			p.printf(`<li data-code="%s">%s</li>`, esc(c), esc(ErrorMessage(c)))
		}
		if len(errs.ParticipationErrors) > 0 {
			p.printf(`<li data-code="PARTICIPATION">Please complete the highlighted sub-events.</li>`)
		}
		p.printf(`</ul>`)
		return p.err
	})
}

func fieldError(errs irl.FormErrors, key string) string {
	for _, c := range errs.ParticipationErrors {
		if c == key {
			return `<span class="field-error">` + esc(ErrorMessage(c)) + `</span>`
		}
	}
	return ""
}

func sortMark(sc irl.SortConfig, key irl.SortKey) string {
	if sc.Key != key || !sc.Active() {
		return ""
	}
	if sc.Order == irl.OrderAsc {
		return " ▲"
	}
	return " ▼"
}

func roleMark(e irl.GuestEvent) string {
	var roles []string
	if e.IsHost {
		roles = append(roles, "host")
	}
	if e.IsSpeaker {
		roles = append(roles, "speaker")
	}
	if len(roles) == 0 {
		return ""
	}
	return " (" + strings.Join(roles, ", ") + ")"
}

func dateRange(info irl.AdditionalInfo) string {
	if info.CheckInDate == "" {
		return ""
	}
	return info.CheckInDate + " – " + info.CheckOutDate
}

func checked(on bool) string {
	if on {
		return " checked"
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func esc(s string) string {
	return templ.EscapeString(s)
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
