package stremio

import "strings"

// MediaID is the parsed form of a Stremio content ID. Exactly one of
// IMDBID or KitsuID is set.
//
//	tt0133093            movie
//	tt0944947:1:5        series, season 1 episode 5
//	kitsu:44042:3        anime episode 3 (kitsu has no season concept)
type MediaID struct {
	IMDBID  string
	KitsuID string
	Season  string
	Episode string
}

// ParseContentID splits a content ID according to its shape. A
// trailing ".json" from the route is tolerated. Series IDs default
// missing season/episode segments to "1", matching what clients send
// for specials.
func ParseContentID(contentID, contentType string) MediaID {
	id := strings.TrimSuffix(contentID, ".json")

	if strings.HasPrefix(id, "kitsu:") {
		parts := strings.Split(id, ":")
		m := MediaID{Season: "1"}
		if len(parts) > 1 {
			m.KitsuID = parts[1]
		}
		if len(parts) > 2 {
			m.Episode = parts[2]
		}
		return m
	}

	if contentType == "series" && strings.Contains(id, ":") {
		parts := strings.Split(id, ":")
		m := MediaID{IMDBID: parts[0], Season: "1", Episode: "1"}
		if len(parts) > 1 && parts[1] != "" {
			m.Season = parts[1]
		}
		if len(parts) > 2 && parts[2] != "" {
			m.Episode = parts[2]
		}
		return m
	}

	return MediaID{IMDBID: id}
}

// IsAnime reports whether the ID came from the kitsu namespace.
func (m MediaID) IsAnime() bool { return m.KitsuID != "" }
