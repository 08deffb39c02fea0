package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

const (
	DefaultKitsuAPIURL   = "https://kitsu.io/api/edge"
	DefaultKitsuAliasURL = "https://find-my-anime.dtimur.de/api"
)

// AnimeInfo is resolved Kitsu metadata. SearchTitles is the short
// preference list used for scraping; AllTitles includes every variant
// and alias for matching scraped rows back to the request.
type AnimeInfo struct {
	KitsuID      string
	Title        string
	Year         string
	Subtype      string
	SearchTitles []string
	AllTitles    []string
}

type KitsuOptions struct {
	Logger   log.Logger
	HTTP     *httpclient.Client
	APIURL   string
	AliasURL string
}

// Kitsu resolves anime metadata by Kitsu ID. No credential needed,
// both APIs are public.
type Kitsu struct {
	lg       log.Logger
	http     *httpclient.Client
	apiURL   string
	aliasURL string
}

func NewKitsu(opts KitsuOptions) (*Kitsu, error) {
	if opts.HTTP == nil {
		return nil, xerrors.New("metadata: http client is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = DefaultKitsuAPIURL
	}
	aliasURL := opts.AliasURL
	if aliasURL == "" {
		aliasURL = DefaultKitsuAliasURL
	}
	return &Kitsu{
		lg:       lg.With("component", "kitsu"),
		http:     opts.HTTP,
		apiURL:   apiURL,
		aliasURL: aliasURL,
	}, nil
}

type kitsuAnimeResponse struct {
	Data struct {
		Attributes *struct {
			CanonicalTitle string            `json:"canonicalTitle"`
			Titles         map[string]string `json:"titles"`
			StartDate      string            `json:"startDate"`
			Subtype        string            `json:"subtype"`
		} `json:"attributes"`
	} `json:"data"`
}

type aliasEntry struct {
	Title    string   `json:"title"`
	Synonyms []string `json:"synonyms"`
}

// Lookup fetches anime metadata for the given Kitsu ID. Alias lookup
// failure is not fatal; the canonical titles are enough to search with.
func (k *Kitsu) Lookup(ctx context.Context, kitsuID string) (*AnimeInfo, error) {
	if strings.TrimSpace(kitsuID) == "" {
		return nil, xerrors.New("metadata: kitsu id is empty")
	}

	k.lg.Debug(ctx, "fetching metadata", "kitsu_id", kitsuID)

	resp, err := k.http.Get(ctx, k.apiURL+"/anime/"+kitsuID)
	if err != nil {
		return nil, xerrors.Wrap(err, "kitsu request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, xerrors.Newf("kitsu: status %d for id %s", resp.StatusCode, kitsuID)
	}

	var out kitsuAnimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, xerrors.Wrap(err, "kitsu: decode")
	}
	attrs := out.Data.Attributes
	if attrs == nil {
		return nil, xerrors.Newf("kitsu: empty response for id %s", kitsuID)
	}

	info := &AnimeInfo{
		KitsuID: kitsuID,
		Title:   attrs.CanonicalTitle,
		Year:    yearOf(attrs.StartDate),
		Subtype: attrs.Subtype,
	}
	if info.Subtype == "" {
		info.Subtype = "TV"
	}

	if attrs.CanonicalTitle != "" {
		info.SearchTitles = append(info.SearchTitles, attrs.CanonicalTitle)
		info.AllTitles = append(info.AllTitles, attrs.CanonicalTitle)
	}
	if en := attrs.Titles["en"]; en != "" && !strings.EqualFold(en, attrs.CanonicalTitle) {
		info.SearchTitles = append(info.SearchTitles, en)
	}
	for _, variant := range attrs.Titles {
		if variant != "" && !containsString(info.AllTitles, variant) {
			info.AllTitles = append(info.AllTitles, variant)
		}
	}

	for _, alias := range k.aliases(ctx, kitsuID) {
		if !containsString(info.AllTitles, alias) {
			info.AllTitles = append(info.AllTitles, alias)
		}
	}

	k.lg.Debug(ctx, "metadata found",
		"kitsu_id", kitsuID,
		"title", info.Title,
		"titles", len(info.AllTitles),
	)
	return info, nil
}

// aliases queries the external alias service; best effort only.
func (k *Kitsu) aliases(ctx context.Context, kitsuID string) []string {
	resp, err := k.http.Get(ctx, k.aliasURL,
		httpclient.WithQuery("id", kitsuID),
		httpclient.WithQuery("provider", "Kitsu"),
	)
	if err != nil {
		k.lg.Warn(ctx, "alias lookup failed", "kitsu_id", kitsuID, "error", err.Error())
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var entries []aliasEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil || len(entries) == 0 {
		return nil
	}

	var aliases []string
	if entries[0].Title != "" {
		aliases = append(aliases, entries[0].Title)
	}
	for _, syn := range entries[0].Synonyms {
		if syn != "" && !containsString(aliases, syn) {
			aliases = append(aliases, syn)
		}
	}
	return aliases
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
