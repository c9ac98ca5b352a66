package delta

import (
	"strings"
	"unicode"

	"wattmint/backend/services/sync-service/internal/models"
)

const (
	minTokenLen     = 3
	minTokenMatches = 2
)

var publicSessionMarkers = []string{"public", "supercharg", "dc fast", "dcfast", "dcfc", "dc_fast"}

// Tokenize lowercases s, splits it on whitespace and punctuation and keeps tokens
// longer than two characters.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}

// normalize collapses s to its lowercase tokens joined by single spaces.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// ClassifyLocation tags a free-text charge location as home or public relative to the
// user's home address. The result depends only on the two strings.
func ClassifyLocation(location, homeAddress string) models.Classification {
	loc := normalize(location)
	home := normalize(homeAddress)
	if loc == "" || home == "" {
		return models.ClassificationPublic
	}

	if strings.Contains(loc, home) || strings.Contains(home, loc) {
		return models.ClassificationHome
	}

	matches := 0
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(homeAddress) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if strings.Contains(loc, tok) {
			matches++
		}
	}
	if matches >= minTokenMatches {
		return models.ClassificationHome
	}
	return models.ClassificationPublic
}

// ClassifySession applies the location heuristic and then the billing signal: a free
// session whose type does not mention public or DC fast charging is treated as home.
func ClassifySession(session models.ChargingSession, homeAddress string) models.Classification {
	if ClassifyLocation(session.Location, homeAddress) == models.ClassificationHome {
		return models.ClassificationHome
	}
	if session.Fee == 0 && !isPublicSessionType(session.SessionType) {
		return models.ClassificationHome
	}
	return models.ClassificationPublic
}

func isPublicSessionType(sessionType string) bool {
	t := strings.ToLower(sessionType)
	for _, marker := range publicSessionMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
