package stream

import (
	"context"
	"net/url"
	"strings"

	"github.com/dydhzo/wastream/internal/scraper"
	"github.com/dydhzo/wastream/internal/stremio"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// formatStreams turns scrape results into addon stream entries. Links
// already known dead are dropped here rather than failing later at
// resolve time.
func (s *Service) formatStreams(ctx context.Context, results []scraper.Result, cfg *stremio.UserConfig, baseURL, year string) ([]Stream, error) {
	b64, err := cfg.Encode()
	if err != nil {
		return nil, xerrors.Wrap(err, "stream: encode config")
	}

	streams := make([]Stream, 0, len(results))
	dead := 0

	for _, r := range results {
		if r.DLProtect == "" {
			continue
		}

		isDead, err := s.store.IsDeadLink(ctx, r.DLProtect)
		if err != nil {
			return nil, err
		}
		if isDead {
			dead++
			continue
		}

		playback := strings.TrimRight(baseURL, "/") + "/resolve?link=" +
			url.QueryEscape(r.DLProtect) + "&b64config=" + url.QueryEscape(b64)

		streams = append(streams, Stream{
			Name:        "[AD 🌇] " + s.addonName,
			Description: describe(r, year),
			URL:         playback,
		})
	}

	if dead > 0 {
		s.metrics.AddDeadLinksSkipped(dead)
		s.lg.Info(ctx, "skipped dead links", "count", dead)
	}
	s.lg.Debug(ctx, "streams formatted", "count", len(streams))
	return streams, nil
}

// describe builds the multi-line description shown under the stream
// name in the player UI.
func describe(r scraper.Result, year string) string {
	var parts []string
	if r.Language != "" && r.Language != "N/A" {
		parts = append(parts, "🌐 "+r.Language)
	}
	if r.Quality != "" && r.Quality != "N/A" {
		parts = append(parts, "🎞️ "+r.Quality)
	}
	if r.Hoster != "" && r.Hoster != "N/A" {
		parts = append(parts, "☁️ "+r.Hoster)
	}

	var sizeYear []string
	if r.Size != "" && r.Size != "N/A" {
		sizeYear = append(sizeYear, "📦 "+r.Size)
	}
	if year != "" {
		sizeYear = append(sizeYear, "📅 "+year)
	}
	if len(sizeYear) > 0 {
		parts = append(parts, strings.Join(sizeYear, " "))
	}

	if r.DisplayName != "" && r.DisplayName != "N/A" {
		parts = append(parts, "📁 "+r.DisplayName)
	}
	return strings.Join(parts, "\r\n")
}

// filterExcludedWords drops streams whose name or description contains
// any of the user's excluded words, case-insensitively.
func (s *Service) filterExcludedWords(ctx context.Context, streams []Stream, words []string) []Stream {
	if len(words) == 0 {
		return streams
	}

	kept := make([]Stream, 0, len(streams))
	for _, st := range streams {
		text := strings.ToLower(st.Name + " " + st.Description)
		excluded := false
		for _, w := range words {
			if w != "" && strings.Contains(text, strings.ToLower(w)) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, st)
		}
	}

	if n := len(streams) - len(kept); n > 0 {
		s.lg.Info(ctx, "streams excluded by word filter", "count", n)
	}
	return kept
}
