package scraper

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/dydhzo/wastream/internal/xerrors"
)

// extractConcurrency caps the parallel page fetches per search.
const extractConcurrency = 8

// Hosters the debrid service reliably unlocks. Everything else on a
// link row is skipped.
var allowedHosters = map[string]string{
	"1fichier":   "1Fichier",
	"turbobit":   "Turbobit",
	"rapidgator": "Rapidgator",
}

func (s *Scraper) fetchDoc(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := s.http.Get(ctx, rawURL)
	if err != nil {
		return nil, xerrors.Wrapf(err, "fetch %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Newf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse %s", rawURL)
	}
	return doc, nil
}

func (s *Scraper) pageURL(pagePath string) string {
	return s.baseURL + "/" + strings.TrimPrefix(pagePath, "/")
}

// extractMovie collects links from the matched movie page and every
// alternate quality page it links to.
func (s *Scraper) extractMovie(ctx context.Context, pageLink string) ([]Result, error) {
	pages := []string{pageLink}
	seen := map[string]bool{pageLink: true}

	doc, err := s.fetchDoc(ctx, s.pageURL(pageLink))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.lg.Warn(ctx, "quality page discovery failed", "page", pageLink, "error", err.Error())
	} else {
		doc.Find(`a[href^="?p=film&id="]:has(button)`).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if href != "" && !seen[href] {
				seen[href] = true
				pages = append(pages, href)
			}
		})
	}

	results, err := s.extractPages(ctx, pages, true, false)
	if err != nil {
		return nil, err
	}
	sortMovieResults(results)
	return results, nil
}

// extractSeries crawls the matched page's season and quality links
// breadth-first, then collects episode links from every page found.
func (s *Scraper) extractSeries(ctx context.Context, pageLink, contentType string, seasonFromURL bool) ([]Result, error) {
	seasonSel := `ul.wa-post-list-ofLinks a[href^="?p=serie&id="], ul.wa-post-list-ofLinks a[href^="?p=manga&id="]`
	qualitySel := `ul.wa-post-list-ofLinks a[href^="?p=serie&id="]:has(button), ul.wa-post-list-ofLinks a[href^="?p=manga&id="]:has(button)`
	if contentType == ContentMangas {
		seasonSel = `ul.wa-post-list-ofLinks a[href^="?p=manga&id="]`
		qualitySel = `ul.wa-post-list-ofLinks a[href^="?p=manga&id="]:has(button)`
	}

	visited := make(map[string]bool)
	queue := []string{pageLink}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		doc, err := s.fetchDoc(ctx, s.pageURL(current))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.lg.Warn(ctx, "season crawl fetch failed", "page", current, "error", err.Error())
			continue
		}

		doc.Find(seasonSel).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if href != "" && strings.Contains(strings.ToLower(href), "saison") && !visited[href] {
				queue = append(queue, href)
			}
		})
		doc.Find(qualitySel).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if href != "" && !visited[href] {
				queue = append(queue, href)
			}
		})
	}

	pages := make([]string, 0, len(visited))
	for p := range visited {
		pages = append(pages, p)
	}

	results, err := s.extractPages(ctx, pages, false, seasonFromURL)
	if err != nil {
		return nil, err
	}
	sortEpisodeResults(results)
	return results, nil
}

// extractPages fans out over the given content pages. A single failed
// page loses its links, not the whole search.
func (s *Scraper) extractPages(ctx context.Context, pages []string, movie, seasonFromURL bool) ([]Result, error) {
	var (
		mu  sync.Mutex
		all []Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for _, page := range pages {
		g.Go(func() error {
			results, err := s.extractLinks(gctx, page, movie, seasonFromURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.lg.Warn(gctx, "link extraction failed", "page", page, "error", err.Error())
				return nil
			}
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// extractLinks parses one content page's download table.
func (s *Scraper) extractLinks(ctx context.Context, pagePath string, movie, seasonFromURL bool) ([]Result, error) {
	doc, err := s.fetchDoc(ctx, s.pageURL(pagePath))
	if err != nil {
		return nil, err
	}

	var results []Result
	doc.Find("#DDLLinks tr.link-row").Each(func(_ int, row *goquery.Selection) {
		if !strings.Contains(row.Text(), "Lien ") {
			return
		}

		hoster := strings.ToLower(strings.TrimSpace(row.Find(`td[width="120px"].text-center`).First().Text()))
		display, ok := allowedHosters[hoster]
		if !ok {
			return
		}

		size := strings.TrimSpace(row.Find(`td[width="80px"].text-center`).First().Text())
		if size == "" {
			size = "N/A"
		}

		anchor := row.Find(`a[href*="dl-protect."].link`).First()
		href, _ := anchor.Attr("href")
		if href == "" {
			return
		}
		link := absoluteURL(href, s.baseURL)

		filename := DecodeFilename(link)
		if filename == "" {
			return
		}

		if movie {
			quality, language := parseMovieInfo(filename)
			name := filename
			if text := strings.TrimSpace(anchor.Text()); strings.Contains(text, ":") {
				name = strings.TrimSpace(text[strings.LastIndexByte(text, ':')+1:])
			}
			results = append(results, Result{
				DLProtect:   link,
				Quality:     quality,
				Language:    language,
				Hoster:      display,
				Size:        size,
				DisplayName: name,
			})
			return
		}

		if seasonFromURL && !strings.Contains(filename, "Saison") && strings.Contains(filename, "Épisode") {
			filename = strings.Replace(filename, " - Épisode", " - Saison "+seasonFromPath(pagePath)+" Épisode", 1)
		}

		season, episode, quality, language := parseSeriesInfo(filename)
		results = append(results, Result{
			DLProtect:   link,
			Season:      season,
			Episode:     episode,
			Quality:     quality,
			Language:    language,
			Hoster:      display,
			Size:        size,
			DisplayName: filename,
		})
	})

	return results, nil
}
