package scraper

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
)

var (
	seasonRe    = regexp.MustCompile(`Saison (\d+)`)
	episodeRe   = regexp.MustCompile(`Épisode (\d+)`)
	urlSeasonRe = regexp.MustCompile(`(?i)saison(\d+)`)
)

// DecodeFilename recovers the original filename from a dl-protect
// link's fn query parameter (base64 of the display name). Returns ""
// when the parameter is absent or malformed. The raw query is parsed
// by hand because a '+' inside the base64 payload must survive.
func DecodeFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	var fn string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if v, ok := strings.CutPrefix(pair, "fn="); ok {
			fn = v
			break
		}
	}
	if fn == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(fn); err == nil {
		fn = unescaped
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(fn); err == nil {
			return string(decoded)
		}
	}
	return ""
}

// parseMovieInfo pulls quality and language out of a decoded movie
// filename, e.g. "Film [1080p HDLight] - MULTI - ...".
func parseMovieInfo(filename string) (quality, language string) {
	quality, language = "N/A", "N/A"

	if start := strings.IndexByte(filename, '['); start >= 0 {
		if end := strings.IndexByte(filename[start:], ']'); end > 0 {
			quality = strings.TrimSpace(filename[start+1 : start+end])
		}
	}

	if parts := strings.Split(filename, " - "); len(parts) > 1 {
		language = strings.TrimSpace(parts[1])
	}
	return quality, language
}

// parseSeriesInfo pulls season, episode, quality, and language out of a
// decoded episode filename, e.g. "Show - Saison 2 Épisode 7 [VOSTFR 720p]".
// The bracket block leads with the language followed by the quality.
func parseSeriesInfo(filename string) (season, episode, quality, language string) {
	season, episode, quality, language = "1", "1", "N/A", "N/A"

	if m := seasonRe.FindStringSubmatch(filename); m != nil {
		season = m[1]
	}
	if m := episodeRe.FindStringSubmatch(filename); m != nil {
		episode = m[1]
	}

	if start := strings.IndexByte(filename, '['); start >= 0 {
		if end := strings.IndexByte(filename[start:], ']'); end > 0 {
			bracket := strings.Fields(filename[start+1 : start+end])
			if len(bracket) >= 1 {
				language = bracket[0]
			}
			if len(bracket) > 1 {
				quality = strings.Join(bracket[1:], " ")
			}
		}
	}
	return season, episode, quality, language
}

// seasonFromPath extracts the season number embedded in a page path
// like "?p=manga&id=123-title-saison2", defaulting to "1".
func seasonFromPath(path string) string {
	if m := urlSeasonRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return "1"
}

// absoluteURL resolves site-relative links against the base URL.
func absoluteURL(link, base string) string {
	if link == "" {
		return ""
	}
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if strings.HasPrefix(link, "/") {
		return base + link
	}
	return link
}
