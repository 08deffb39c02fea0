// Package metadata resolves content IDs to searchable titles and
// years, via TMDB for IMDB IDs and Kitsu for anime IDs.
package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

const DefaultTMDBAPIURL = "https://api.themoviedb.org/3"

// animationGenreID and animeKeywordID together identify a TV show as
// anime: genre 16 is Animation, keyword 210024 is "anime" on TMDB.
const (
	animationGenreID = 16
	animeKeywordID   = 210024
)

// Media categories used by the source site's URL scheme.
const (
	CategoryFilms  = "films"
	CategorySeries = "series"
	CategoryAnimes = "mangas"
)

// Info is the resolved metadata for a piece of content. Titles are
// lowercased and ordered by preference: primary title first, then the
// original title, then the French translation.
type Info struct {
	Titles   []string
	Year     string
	Type     string // "movie" or "series"
	Category string // source-site category: films, series, mangas
}

// Title returns the preferred search title, or "" when none resolved.
func (i *Info) Title() string {
	if len(i.Titles) == 0 {
		return ""
	}
	return i.Titles[0]
}

type TMDBOptions struct {
	Logger log.Logger
	HTTP   *httpclient.Client
	APIURL string
}

// TMDB looks up titles and years by IMDB ID. Each call authenticates
// with the user's own read access token, so the instance holds no TMDB
// credential of its own.
type TMDB struct {
	lg     log.Logger
	http   *httpclient.Client
	apiURL string
}

func NewTMDB(opts TMDBOptions) (*TMDB, error) {
	if opts.HTTP == nil {
		return nil, xerrors.New("metadata: http client is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = DefaultTMDBAPIURL
	}
	return &TMDB{
		lg:     lg.With("component", "tmdb"),
		http:   opts.HTTP,
		apiURL: apiURL,
	}, nil
}

type tmdbFindResponse struct {
	MovieResults []struct {
		ID          int64  `json:"id"`
		ReleaseDate string `json:"release_date"`
	} `json:"movie_results"`
	TVResults []struct {
		ID           int64   `json:"id"`
		FirstAirDate string  `json:"first_air_date"`
		GenreIDs     []int64 `json:"genre_ids"`
	} `json:"tv_results"`
}

type tmdbDetails struct {
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	Name          string `json:"name"`
	OriginalName  string `json:"original_name"`
	Translations  struct {
		Translations []struct {
			ISO6391 string `json:"iso_639_1"`
			Data    struct {
				Title string `json:"title"`
				Name  string `json:"name"`
			} `json:"data"`
		} `json:"translations"`
	} `json:"translations"`
	Keywords struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	} `json:"keywords"`
}

// Lookup resolves an IMDB ID into titles, year, and the source-site
// category. Anime detection needs the details call's keyword list, so
// both movie and TV paths always make exactly two requests.
func (t *TMDB) Lookup(ctx context.Context, token, imdbID string) (*Info, error) {
	if strings.TrimSpace(token) == "" {
		return nil, xerrors.New("metadata: tmdb token is empty")
	}

	t.lg.Debug(ctx, "fetching metadata", "imdb_id", imdbID)

	var found tmdbFindResponse
	err := t.getJSON(ctx, token, t.apiURL+"/find/"+imdbID+"?external_source=imdb_id", &found)
	if err != nil {
		return nil, err
	}

	switch {
	case len(found.MovieResults) > 0:
		movie := found.MovieResults[0]
		var details tmdbDetails
		url := t.apiURL + "/movie/" + itoa(movie.ID) + "?append_to_response=translations"
		if err := t.getJSON(ctx, token, url, &details); err != nil {
			return nil, err
		}
		return &Info{
			Titles:   collectTitles(details.Title, details.OriginalTitle, details.frenchTitle()),
			Year:     yearOf(movie.ReleaseDate),
			Type:     "movie",
			Category: CategoryFilms,
		}, nil

	case len(found.TVResults) > 0:
		tv := found.TVResults[0]
		var details tmdbDetails
		url := t.apiURL + "/tv/" + itoa(tv.ID) + "?append_to_response=translations,keywords"
		if err := t.getJSON(ctx, token, url, &details); err != nil {
			return nil, err
		}

		category := CategorySeries
		if containsInt(tv.GenreIDs, animationGenreID) && details.hasKeyword(animeKeywordID) {
			category = CategoryAnimes
		}

		return &Info{
			Titles:   collectTitles(details.Name, details.OriginalName, details.frenchName()),
			Year:     yearOf(tv.FirstAirDate),
			Type:     "series",
			Category: category,
		}, nil
	}

	return nil, xerrors.Newf("metadata: no tmdb match for %s", imdbID)
}

func (t *TMDB) getJSON(ctx context.Context, token, url string, out any) error {
	resp, err := t.http.Get(ctx, url,
		httpclient.WithHeader("Authorization", "Bearer "+token),
		httpclient.WithHeader("Content-Type", "application/json"),
	)
	if err != nil {
		return xerrors.Wrap(err, "tmdb request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return xerrors.Newf("tmdb: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(err, "tmdb: decode")
	}
	return nil
}

func (d *tmdbDetails) frenchTitle() string {
	for _, tr := range d.Translations.Translations {
		if tr.ISO6391 == "fr" && tr.Data.Title != "" {
			return tr.Data.Title
		}
	}
	return ""
}

func (d *tmdbDetails) frenchName() string {
	for _, tr := range d.Translations.Translations {
		if tr.ISO6391 == "fr" && tr.Data.Name != "" {
			return tr.Data.Name
		}
	}
	return ""
}

func (d *tmdbDetails) hasKeyword(id int64) bool {
	for _, kw := range d.Keywords.Results {
		if kw.ID == id {
			return true
		}
	}
	return false
}

// collectTitles lowercases and dedups while preserving order.
func collectTitles(titles ...string) []string {
	out := make([]string, 0, len(titles))
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func yearOf(date string) string {
	if i := strings.IndexByte(date, '-'); i > 0 {
		return date[:i]
	}
	return date
}

func containsInt(xs []int64, x int64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
