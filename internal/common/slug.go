package common

import (
	"net/url"
	"time"
)

// Slugify replaces every non-alphanumeric character with an underscore.
// Used for snapshot directory and file names so any host or page URL maps
// to a safe filesystem name.
func Slugify(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// HostSlug returns the slugified host of a URL. Unparseable input is
// slugified whole so callers always get a usable directory name.
func HostSlug(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Slugify(rawURL)
	}
	return Slugify(parsed.Host)
}

// PageSlug returns the slugified path of a page URL. The root page ("/")
// slugifies to a single underscore, which keeps baseline names stable.
func PageSlug(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Slugify(pageURL)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path = path + "?" + parsed.RawQuery
	}
	return Slugify(path)
}

// TimestampSlug formats a time for use in snapshot file names.
func TimestampSlug(t time.Time) string {
	return t.UTC().Format("2006-01-02T15-04-05")
}
