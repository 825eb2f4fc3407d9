package handlers

import (
	"encoding/csv"
	"net/http"
	"strings"

	"github.com/AlexTLDR/irl/internal/irl"
)

var csvHeader = []string{
	"Member", "Team", "Gatherings", "Hosting", "Speaking", "Topics",
	"Check-in", "Check-out", "Telegram", "Office hours", "Reason",
}

// formatGuestForCSV converts a guest to one CSV record
func formatGuestForCSV(g irl.Guest) []string {
	var names, hosting, speaking []string
	for _, e := range g.Events {
		names = append(names, e.Name)
		if e.IsHost {
			hosting = append(hosting, subEventSummary(e.Name, e.HostSubEvents))
		}
		if e.IsSpeaker {
			speaking = append(speaking, subEventSummary(e.Name, e.SpeakerSubEvents))
		}
	}

	return []string{
		g.MemberName,
		g.TeamName,
		strings.Join(names, "; "),
		strings.Join(hosting, "; "),
		strings.Join(speaking, "; "),
		strings.Join(g.Topics, ", "),
		g.AdditionalInfo.CheckInDate,
		g.AdditionalInfo.CheckOutDate,
		g.TelegramID,
		g.OfficeHours,
		// Replace newlines with spaces for free text
		strings.ReplaceAll(g.Reason, "\n", " "),
	}
}

func subEventSummary(gathering string, list []irl.SubEvent) string {
	if len(list) == 0 {
		return gathering
	}
	parts := make([]string, 0, len(list))
	for _, se := range list {
		parts = append(parts, se.Name+" <"+se.Link+">")
	}
	return gathering + ": " + strings.Join(parts, ", ")
}

// writeCSVHeaders sets HTTP headers and writes the BOM
func writeCSVHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	// Write UTF-8 BOM for Excel compatibility
	_, _ = w.Write([]byte{0xEF, 0xBB, 0xBF})
}

// HandleDownloadCSV exports the visible guest rows of a location, honouring
// the same sort and filter query as the page
func HandleDownloadCSV(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typ, eventSlug, sc, fc := listParams(r)

		view, ok := loadView(s, w, r, typ, eventSlug)
		if !ok {
			return
		}

		slug := view.List.Location.Slug
		if slug == "" {
			slug = view.Key.LocationUID
		}
		writeCSVHeaders(w, slug+"-guests.csv")

		cw := csv.NewWriter(w)
		_ = cw.Write(csvHeader)
		for _, g := range view.Rows(sc, fc) {
			_ = cw.Write(formatGuestForCSV(g))
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			s.GetLogger().Error().Err(err).Msg("Failed to write guest CSV")
		}
	}
}
