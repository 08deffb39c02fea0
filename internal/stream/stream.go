// Package stream orchestrates a Stremio stream request end to end:
// metadata lookup, cached-and-locked scraping, dead link filtering,
// and formatting of the final stream list.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dydhzo/wastream/internal/debrid"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/metadata"
	"github.com/dydhzo/wastream/internal/metrics"
	"github.com/dydhzo/wastream/internal/scraper"
	"github.com/dydhzo/wastream/internal/store"
	"github.com/dydhzo/wastream/internal/stremio"
	"github.com/dydhzo/wastream/internal/xerrors"
)

const (
	DefaultCacheTTL    = 6 * time.Hour
	DefaultDeadLinkTTL = 24 * time.Hour
)

// Cache kind labels, shared between cache keys, lock keys, and the
// cache hit/miss metric.
const (
	kindFilm  = "film"
	kindSerie = "serie"
	kindAnime = "anime"
)

// Stream is one playable entry in a Stremio stream response.
type Stream struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type Options struct {
	Logger log.Logger
	Store  *store.Store

	// Scraper may be nil when no source site is configured; stream
	// requests then answer with an empty list.
	Scraper    *scraper.Scraper
	TMDB       *metadata.TMDB
	Kitsu      *metadata.Kitsu
	Debrid     *debrid.Client
	Metrics    *metrics.ServerMetrics
	AddonName  string
	InstanceID string

	CacheTTL    time.Duration
	DeadLinkTTL time.Duration
}

type Service struct {
	lg         log.Logger
	store      *store.Store
	scraper    *scraper.Scraper
	tmdb       *metadata.TMDB
	kitsu      *metadata.Kitsu
	debrid     *debrid.Client
	metrics    *metrics.ServerMetrics
	addonName  string
	instanceID string

	cacheTTL    time.Duration
	deadLinkTTL time.Duration
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, xerrors.New("stream: store is required")
	case opts.TMDB == nil:
		return nil, xerrors.New("stream: tmdb client is required")
	case opts.Kitsu == nil:
		return nil, xerrors.New("stream: kitsu client is required")
	case opts.Debrid == nil:
		return nil, xerrors.New("stream: debrid client is required")
	}

	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	deadTTL := opts.DeadLinkTTL
	if deadTTL <= 0 {
		deadTTL = DefaultDeadLinkTTL
	}

	return &Service{
		lg:          lg.With("component", "stream"),
		store:       opts.Store,
		scraper:     opts.Scraper,
		tmdb:        opts.TMDB,
		kitsu:       opts.Kitsu,
		debrid:      opts.Debrid,
		metrics:     m,
		addonName:   opts.AddonName,
		instanceID:  opts.InstanceID,
		cacheTTL:    cacheTTL,
		deadLinkTTL: deadTTL,
	}, nil
}

// GetStreams answers one stream request. Lookup failures and empty
// scrapes both yield an empty list: the addon protocol has no error
// channel the player surfaces, so failures degrade to "no streams".
func (s *Service) GetStreams(ctx context.Context, contentType, contentID string, cfg *stremio.UserConfig, baseURL string) ([]Stream, error) {
	// nil scraper means no source site is configured
	if s.scraper == nil {
		return []Stream{}, nil
	}

	media := stremio.ParseContentID(contentID, contentType)

	if media.IsAnime() {
		return s.kitsuStreams(ctx, media, cfg, baseURL)
	}

	start := time.Now()
	info, err := s.tmdb.Lookup(ctx, cfg.TMDB, media.IMDBID)
	s.metrics.ObserveUpstream("tmdb", time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.lg.Warn(ctx, "tmdb lookup failed", "imdb_id", media.IMDBID, "error", err.Error())
		return []Stream{}, nil
	}

	meta := &scraper.Metadata{Titles: info.Titles}
	var results []scraper.Result
	switch info.Category {
	case metadata.CategoryAnimes:
		results, err = s.searchWithCache(ctx, kindAnime, info.Title(), info.Year, meta, media.Season, media.Episode)
	case metadata.CategorySeries:
		results, err = s.searchWithCache(ctx, kindSerie, info.Title(), info.Year, meta, media.Season, media.Episode)
	default:
		results, err = s.searchWithCache(ctx, kindFilm, info.Title(), info.Year, meta, "", "")
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		s.lg.Info(ctx, "no content found", "title", info.Title(), "year", info.Year)
		return []Stream{}, nil
	}

	streams, err := s.formatStreams(ctx, results, cfg, baseURL, info.Year)
	if err != nil {
		return nil, err
	}
	return s.filterExcludedWords(ctx, streams, cfg.ExcludedWords), nil
}

// kitsuStreams handles kitsu-prefixed ids. Movie subtypes go through
// the film search; everything else is treated as anime episodes.
func (s *Service) kitsuStreams(ctx context.Context, media stremio.MediaID, cfg *stremio.UserConfig, baseURL string) ([]Stream, error) {
	start := time.Now()
	info, err := s.kitsu.Lookup(ctx, media.KitsuID)
	s.metrics.ObserveUpstream("kitsu", time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.lg.Warn(ctx, "kitsu lookup failed", "kitsu_id", media.KitsuID, "error", err.Error())
		return []Stream{}, nil
	}

	meta := &scraper.Metadata{Titles: info.SearchTitles, AllTitles: info.AllTitles}

	var results []scraper.Result
	if info.Subtype == "movie" {
		results, err = s.searchWithCache(ctx, kindFilm, info.Title, info.Year, meta, "", "")
	} else {
		results, err = s.searchWithCache(ctx, kindAnime, info.Title, info.Year, meta, media.Season, media.Episode)
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		s.lg.Info(ctx, "no anime content found", "title", info.Title, "kitsu_id", media.KitsuID)
		return []Stream{}, nil
	}

	streams, err := s.formatStreams(ctx, results, cfg, baseURL, info.Year)
	if err != nil {
		return nil, err
	}
	return s.filterExcludedWords(ctx, streams, cfg.ExcludedWords), nil
}

// searchWithCache serializes scrapes of the same title behind the
// shared scrape lock so concurrent requests fill the cache once. A
// contended lock that never frees does not block the request; the
// search proceeds without it.
func (s *Service) searchWithCache(ctx context.Context, kind, title, year string, meta *scraper.Metadata, season, episode string) ([]scraper.Result, error) {
	key := store.CacheKey(kind, title, year)

	acquired, err := s.store.AcquireLock(ctx, key, s.instanceID)
	if err != nil {
		return nil, err
	}
	if acquired {
		defer func() {
			if rerr := s.store.ReleaseLock(context.WithoutCancel(ctx), key, s.instanceID); rerr != nil {
				s.lg.Warn(ctx, "lock release failed", "lock_key", key, "error", rerr.Error())
			}
		}()
	}

	if payload, ok, err := s.store.GetCache(ctx, key); err != nil {
		return nil, err
	} else if ok {
		s.metrics.IncCacheHit(kind)
		var cached []scraper.Result
		if err := json.Unmarshal(payload, &cached); err != nil {
			s.lg.Warn(ctx, "discarding undecodable cache entry", "cache_key", key, "error", err.Error())
		} else {
			return filterEpisode(cached, season, episode), nil
		}
	} else {
		s.metrics.IncCacheMiss(kind)
	}

	start := time.Now()
	results, err := s.scrape(ctx, kind, title, year, meta)
	s.metrics.ObserveScrapeDuration(time.Since(start).Seconds())
	if err != nil {
		s.metrics.IncScrape(kind, "error")
		return nil, err
	}
	if len(results) == 0 {
		s.metrics.IncScrape(kind, "empty")
		return nil, nil
	}
	s.metrics.IncScrape(kind, "ok")

	payload, err := json.Marshal(results)
	if err != nil {
		return nil, xerrors.Wrap(err, "stream: encode cache payload")
	}
	if err := s.store.SetCache(ctx, key, payload, s.cacheTTL); err != nil {
		s.lg.Warn(ctx, "cache write failed", "cache_key", key, "error", err.Error())
	}

	return filterEpisode(results, season, episode), nil
}

func (s *Service) scrape(ctx context.Context, kind, title, year string, meta *scraper.Metadata) ([]scraper.Result, error) {
	switch kind {
	case kindSerie:
		return s.scraper.SearchSeries(ctx, title, year, meta)
	case kindAnime:
		return s.scraper.SearchAnime(ctx, title, year, meta)
	default:
		return s.scraper.SearchMovies(ctx, title, year, meta)
	}
}

// filterEpisode narrows episode results to the requested episode.
// Movie searches pass empty season/episode and keep everything.
func filterEpisode(results []scraper.Result, season, episode string) []scraper.Result {
	if season == "" || episode == "" {
		return results
	}
	out := make([]scraper.Result, 0, len(results))
	for _, r := range results {
		if r.Season == season && r.Episode == episode {
			out = append(out, r)
		}
	}
	return out
}

// ResolveLink converts a protected link through the debrid service.
// A LINK_DOWN answer marks the link dead before the error propagates,
// so later searches skip it.
func (s *Service) ResolveLink(ctx context.Context, protectedLink, apikey string) (string, error) {
	direct, err := s.debrid.Resolve(ctx, apikey, protectedLink)
	if err == nil {
		s.metrics.IncDebridUnlock("success")
		return direct, nil
	}

	if errors.Is(err, debrid.ErrLinkDown) {
		s.metrics.IncDebridUnlock("link_down")
		if merr := s.store.MarkDeadLink(context.WithoutCancel(ctx), protectedLink, s.deadLinkTTL); merr != nil {
			s.lg.Warn(ctx, "marking dead link failed", "error", merr.Error())
		} else {
			s.lg.Info(ctx, "link marked dead", "ttl", s.deadLinkTTL)
		}
	} else {
		s.metrics.IncDebridUnlock("error")
	}
	return "", err
}
