// Package session pulls the store session marker out of chat text.
//
// The store frontend appends "sessionid=<id>&csrf=<token>" to every message it
// relays so the assistant can act on the user's cart.
package session

import (
	"regexp"
	"strings"

	"petassist/internal/domain"
)

var markerPattern = regexp.MustCompile(`(?i)sessionid=([^&\s]*)&csrf=([^&\s]*)`)

// Extract returns the session carried in raw, if any. Values keep their
// original case. Text is raw with the marker removed and whitespace collapsed.
// A marker with an empty id or token counts as no marker.
func Extract(raw string) (domain.SessionInfo, bool) {
	loc := markerPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return domain.SessionInfo{}, false
	}
	id := raw[loc[2]:loc[3]]
	token := raw[loc[4]:loc[5]]
	if id == "" || token == "" {
		return domain.SessionInfo{}, false
	}
	residual := raw[:loc[0]] + " " + raw[loc[1]:]
	return domain.SessionInfo{
		SessionID: id,
		CSRFToken: token,
		Text:      strings.Join(strings.Fields(residual), " "),
	}, true
}

// Marker renders the marker for id and token, as the store frontend does.
func Marker(id, token string) string {
	return "sessionid=" + id + "&csrf=" + token
}
