// Package scraper extracts download links from the Wawacity index
// site. A search walks the site's result listing for a verified title
// match, then fans out over the quality and season pages to collect
// every protected link with its parsed quality, language, and episode
// information.
package scraper

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// Content type values used in the site's ?p= query parameter.
const (
	ContentFilms  = "films"
	ContentSeries = "series"
	ContentMangas = "mangas"
)

// searchTitleLimit is the longest search string the site accepts
// before its own search starts returning garbage.
const searchTitleLimit = 31

// Result is one downloadable link found on a content page.
type Result struct {
	DLProtect   string
	Season      string
	Episode     string
	Quality     string
	Language    string
	Hoster      string
	Size        string
	DisplayName string
}

// Metadata carries the title variants used to locate and verify a
// match in the site's search results. AllTitles, when set, widens
// verification beyond the search titles (aliases, foreign titles).
type Metadata struct {
	Titles    []string
	AllTitles []string
}

type Options struct {
	Logger  log.Logger
	HTTP    *httpclient.Client
	BaseURL string
}

type Scraper struct {
	lg      log.Logger
	http    *httpclient.Client
	baseURL string
}

func New(opts Options) (*Scraper, error) {
	if opts.HTTP == nil {
		return nil, xerrors.New("scraper: http client is required")
	}
	if opts.BaseURL == "" {
		return nil, xerrors.New("scraper: base url is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Scraper{
		lg:      lg.With("component", "scraper"),
		http:    opts.HTTP,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}, nil
}

// SearchMovies finds a movie by title and returns every link across
// its quality variants, best quality first. An unmatched title yields
// an empty slice, not an error.
func (s *Scraper) SearchMovies(ctx context.Context, title, year string, meta *Metadata) ([]Result, error) {
	s.lg.Debug(ctx, "searching films", "title", title, "year", year)
	page, ok, err := s.searchByTitles(ctx, title, year, meta, ContentFilms)
	if err != nil || !ok {
		return nil, err
	}
	results, err := s.extractMovie(ctx, page)
	if err != nil {
		return nil, err
	}
	s.lg.Debug(ctx, "films found", "count", len(results))
	return results, nil
}

// SearchSeries finds a series by title and returns every episode link
// across all seasons and qualities, ordered by season, episode, then
// quality.
func (s *Scraper) SearchSeries(ctx context.Context, title, year string, meta *Metadata) ([]Result, error) {
	s.lg.Debug(ctx, "searching series", "title", title, "year", year)
	page, ok, err := s.searchByTitles(ctx, title, year, meta, ContentSeries)
	if err != nil || !ok {
		return nil, err
	}
	results, err := s.extractSeries(ctx, page, ContentSeries, false)
	if err != nil {
		return nil, err
	}
	s.lg.Debug(ctx, "series episodes found", "count", len(results))
	return results, nil
}

// SearchAnime is SearchSeries against the site's manga section. Anime
// pages often omit the season from filenames, so it is recovered from
// the page path instead.
func (s *Scraper) SearchAnime(ctx context.Context, title, year string, meta *Metadata) ([]Result, error) {
	s.lg.Debug(ctx, "searching anime", "title", title, "year", year)
	page, ok, err := s.searchByTitles(ctx, title, year, meta, ContentMangas)
	if err != nil || !ok {
		return nil, err
	}
	results, err := s.extractSeries(ctx, page, ContentMangas, true)
	if err != nil {
		return nil, err
	}
	s.lg.Debug(ctx, "anime episodes found", "count", len(results))
	return results, nil
}

// searchByTitles tries every title variant with the year, then every
// variant again without it. ok is false when no variant matched.
func (s *Scraper) searchByTitles(ctx context.Context, title, year string, meta *Metadata, contentType string) (string, bool, error) {
	titles := []string{title}
	if meta != nil && len(meta.Titles) > 0 {
		titles = meta.Titles
	}

	verify := verificationTitles(titles, meta)

	for _, t := range titles {
		page, ok, err := s.trySearch(ctx, t, year, verify, contentType)
		if err != nil {
			return "", false, err
		}
		if ok {
			return page, true, nil
		}
	}

	if year != "" {
		s.lg.Debug(ctx, "no results with year, retrying without", "year", year)
		for _, t := range titles {
			page, ok, err := s.trySearch(ctx, t, "", verify, contentType)
			if err != nil {
				return "", false, err
			}
			if ok {
				return page, true, nil
			}
		}
	}

	s.lg.Info(ctx, "no match for any title variant", "title", title, "content_type", contentType)
	return "", false, nil
}

func verificationTitles(titles []string, meta *Metadata) []string {
	src := titles
	if meta != nil && len(meta.AllTitles) > 0 {
		src = meta.AllTitles
	}
	out := make([]string, 0, len(src))
	for _, t := range src {
		if n := Normalize(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// trySearch runs one search query and verifies its result listing
// against the known titles. Result pages 2 and 3 are checked only
// when page 1 had candidates that all failed verification.
func (s *Scraper) trySearch(ctx context.Context, title, year string, verify []string, contentType string) (string, bool, error) {
	for page := 1; page <= 3; page++ {
		doc, err := s.fetchDoc(ctx, s.searchURL(title, year, contentType, page))
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			s.lg.Warn(ctx, "search page fetch failed", "title", title, "page", page, "error", err.Error())
			return "", false, nil
		}

		candidates := s.candidatesFrom(doc, contentType)
		if len(candidates) == 0 {
			return "", false, nil
		}

		for _, c := range candidates {
			if matchTitle(c.title, verify) {
				s.lg.Debug(ctx, "verified match", "title", c.title, "page", page)
				return c.link, true, nil
			}
		}
	}
	return "", false, nil
}

func (s *Scraper) searchURL(title, year, contentType string, page int) string {
	// truncate on runes so a multibyte character at the boundary is
	// dropped whole instead of split into invalid UTF-8
	if r := []rune(title); len(r) > searchTitleLimit {
		title = string(r[:searchTitleLimit])
	}
	u := s.baseURL + "/?p=" + contentType + "&search=" + url.QueryEscape(title)
	if page > 1 {
		u += "&page=" + strconv.Itoa(page)
	}
	if year != "" {
		u += "&year=" + url.QueryEscape(year)
	}
	return u
}

// resultSelector returns the anchor selector for the content type's
// search result entries.
func resultSelector(contentType string) string {
	switch contentType {
	case ContentFilms:
		return `a[href^="?p=film&id="]`
	case ContentSeries:
		return `a[href^="?p=serie&id="]`
	default:
		return `a[href^="?p=manga&id="]`
	}
}

type candidate struct {
	link  string
	title string
}

// candidatesFrom pulls result entries from a search page. The display
// title comes from the id slug in the href (everything after the first
// hyphen, with hyphens as spaces); anchors without a slug fall back to
// their text.
func (s *Scraper) candidatesFrom(doc *goquery.Document, contentType string) []candidate {
	var out []candidate
	seen := make(map[string]bool)

	doc.Find(resultSelector(contentType)).Each(func(_ int, sel *goquery.Selection) {
		link, _ := sel.Attr("href")
		if link == "" || seen[link] {
			return
		}
		seen[link] = true

		title := titleFromLink(link)
		if title == "" {
			title = strings.TrimSpace(sel.Text())
		}
		if title == "" {
			return
		}
		out = append(out, candidate{link: link, title: title})
	})
	return out
}

// titleFromLink recovers a title from hrefs like
// "?p=film&id=123-the-matrix": the slug after the numeric id.
func titleFromLink(link string) string {
	_, idPart, ok := strings.Cut(link, "id=")
	if !ok {
		return ""
	}
	if amp := strings.IndexByte(idPart, '&'); amp >= 0 {
		idPart = idPart[:amp]
	}
	_, slug, ok := strings.Cut(idPart, "-")
	if !ok {
		return ""
	}
	return strings.ReplaceAll(slug, "-", " ")
}

var saisonSuffixRe = regexp.MustCompile(`(?i)(\s*-\s*)?saison.*$`)

// matchTitle verifies a site title against the normalized known
// titles. Season-suffixed titles must match exactly once the suffix is
// stripped; plain titles match on substring in either direction.
func matchTitle(siteTitle string, verify []string) bool {
	norm := Normalize(siteTitle)
	if norm == "" {
		return false
	}

	if strings.Contains(norm, "saison") {
		clean := strings.TrimSpace(saisonSuffixRe.ReplaceAllString(norm, ""))
		for _, t := range verify {
			if t == clean {
				return true
			}
		}
		return false
	}

	for _, t := range verify {
		if strings.Contains(norm, t) || strings.Contains(t, norm) {
			return true
		}
	}
	return false
}
