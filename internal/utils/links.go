package utils

import (
	"net/url"
	"strings"
)

// NormalizeLink trims a user supplied link and adds an https scheme when none is given
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	return link
}

// IsValidLink reports whether link looks like a web address.
// Links without a scheme are accepted (e.g. "lu.ma/my-event").
func IsValidLink(link string) bool {
	normalized := NormalizeLink(link)
	if normalized == "" || strings.ContainsAny(normalized, " \t\n") {
		return false
	}

	u, err := url.ParseRequestURI(normalized)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	// Require a dot with something on both sides
	dot := strings.LastIndex(host, ".")
	return dot > 0 && dot < len(host)-1
}
