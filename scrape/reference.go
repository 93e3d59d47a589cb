// Package scrape reads bookable start times off a public booking page.
package scrape

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInvalidReference = errors.New("scrape: not a booking page reference")

// Reference identifies a public booking page. Direct links carry LinkID and
// Label; profile pages carry ProfileSlug and EventSlug.
type Reference struct {
	ProfileSlug string `json:"profile_slug,omitempty"`
	EventSlug   string `json:"event_slug,omitempty"`
	LinkID      string `json:"link_id,omitempty"`
	Label       string `json:"label,omitempty"`
}

// IsDirectLink reports the /d/<id>/<label> form.
func (r Reference) IsDirectLink() bool {
	return r.LinkID != ""
}

// ParseReference accepts a full URL or a bare path.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, ErrInvalidReference
	}
	path := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Reference{}, ErrInvalidReference
		}
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case len(parts) >= 2 && parts[0] == "d":
		ref := Reference{LinkID: parts[1]}
		if len(parts) >= 3 {
			ref.Label = parts[2]
		}
		return ref, nil
	case len(parts) == 2:
		return Reference{ProfileSlug: parts[0], EventSlug: parts[1]}, nil
	default:
		return Reference{}, ErrInvalidReference
	}
}

// TitleFromSlug turns "30-minute-intro_call" into "30 Minute Intro Call".
func TitleFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

var slugDigits = regexp.MustCompile(`\d+`)

// DurationFromSlug returns the first number in the slug, or fallback.
func DurationFromSlug(slug string, fallback int) int {
	if m := slugDigits.FindString(slug); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
