package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dydhzo/wastream/internal/debrid"
	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/store"
	"github.com/dydhzo/wastream/internal/stream"
	"github.com/dydhzo/wastream/internal/stremio"
	"github.com/dydhzo/wastream/internal/webassets"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// upstreamCheckTimeout bounds the per-dependency probes in /health.
const upstreamCheckTimeout = 5 * time.Second

// DefaultProxyCheckURL is fetched through the configured proxy by the
// health endpoint to prove the proxy forwards traffic.
const DefaultProxyCheckURL = "https://httpbin.org/ip"

type RoutesOptions struct {
	Logger   log.Logger
	Streams  *stream.Service
	Store    *store.Store
	HTTP     *httpclient.Client
	Manifest stremio.Manifest

	AddonName  string
	CustomHTML string

	// Password is the comma-separated list gating the configure page.
	// Empty disables the gate.
	Password string

	SourceURL     string
	ProxyURL      string
	ProxyCheckURL string

	Version string
}

// Routes holds the addon endpoint handlers and their dependencies.
type Routes struct {
	lg       log.Logger
	streams  *stream.Service
	store    *store.Store
	http     *httpclient.Client
	manifest stremio.Manifest

	configurePage []byte
	passwords     []string

	sourceURL     string
	proxyURL      string
	proxyCheckURL string
	version       string
}

func NewRoutes(opts RoutesOptions) (*Routes, error) {
	switch {
	case opts.Streams == nil:
		return nil, xerrors.New("httpserver: stream service is required")
	case opts.Store == nil:
		return nil, xerrors.New("httpserver: store is required")
	case opts.HTTP == nil:
		return nil, xerrors.New("httpserver: http client is required")
	}

	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}

	page, err := webassets.ConfigurePage(opts.AddonName, opts.CustomHTML)
	if err != nil {
		return nil, xerrors.Wrap(err, "httpserver: render configure page")
	}

	var passwords []string
	for _, p := range strings.Split(opts.Password, ",") {
		if p = strings.TrimSpace(p); p != "" {
			passwords = append(passwords, p)
		}
	}

	checkURL := opts.ProxyCheckURL
	if checkURL == "" {
		checkURL = DefaultProxyCheckURL
	}

	return &Routes{
		lg:            lg.With("component", "routes"),
		streams:       opts.Streams,
		store:         opts.Store,
		http:          opts.HTTP,
		manifest:      opts.Manifest,
		configurePage: page,
		passwords:     passwords,
		sourceURL:     opts.SourceURL,
		proxyURL:      opts.ProxyURL,
		proxyCheckURL: checkURL,
		version:       opts.Version,
	}, nil
}

func (rt *Routes) Register(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/configure", http.StatusFound)
	})
	r.Get("/configure", rt.handleConfigure)
	r.Get("/{config}/configure", rt.handleConfigure)

	r.Get("/manifest.json", rt.handleManifest)
	r.Get("/{config}/manifest.json", rt.handleManifest)
	r.Get("/{config}/stream/{type}/{id}", rt.handleStreams)

	r.Get("/resolve", rt.handleResolve)

	r.Get("/password-config", rt.handlePasswordConfig)
	r.Post("/verify-password", rt.handleVerifyPassword)

	r.Get("/health", rt.handleHealth)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Routes) handleConfigure(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(rt.configurePage)
}

func (rt *Routes) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.manifest)
}

type streamsResponse struct {
	Streams     []stream.Stream `json:"streams"`
	CacheMaxAge int             `json:"cacheMaxAge,omitempty"`
}

// handleStreams answers a Stremio stream request. Bad configs and
// internal failures both yield an empty list: players show "no
// streams", never an error page.
func (rt *Routes) handleStreams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := stremio.ParseConfig(chi.URLParam(r, "config"))
	if err != nil {
		rt.lg.Warn(ctx, "stream request with invalid config", "error", err.Error())
		writeJSON(w, http.StatusOK, streamsResponse{Streams: []stream.Stream{}})
		return
	}

	contentType := chi.URLParam(r, "type")
	contentID := chi.URLParam(r, "id")
	rt.lg.Info(ctx, "stream request", "type", contentType, "id", contentID)

	streams, err := rt.streams.GetStreams(ctx, contentType, contentID, cfg, requestBaseURL(r))
	if err != nil {
		rt.lg.Error(ctx, err, "stream request failed")
		writeJSON(w, http.StatusOK, streamsResponse{Streams: []stream.Stream{}})
		return
	}
	if streams == nil {
		streams = []stream.Stream{}
	}

	writeJSON(w, http.StatusOK, streamsResponse{Streams: streams, CacheMaxAge: 1})
}

// handleResolve converts a protected link and redirects the player to
// the direct URL. Failures get distinct statuses so dead links are
// distinguishable from transient debrid trouble.
func (rt *Routes) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	link := r.URL.Query().Get("link")
	if link == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing link parameter"})
		return
	}

	cfg, err := stremio.ParseConfig(r.URL.Query().Get("b64config"))
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid configuration"})
		return
	}

	direct, err := rt.streams.ResolveLink(ctx, link, cfg.AllDebrid)
	switch {
	case err == nil:
		http.Redirect(w, r, direct, http.StatusFound)
	case errors.Is(err, debrid.ErrLinkDown):
		writeJSON(w, http.StatusGone, map[string]string{"error": "link is no longer available"})
	default:
		rt.lg.Error(ctx, err, "link resolution failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "link resolution failed"})
	}
}

func (rt *Routes) handlePasswordConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"password_required": len(rt.passwords) > 0,
	})
}

func (rt *Routes) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	if len(rt.passwords) == 0 {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
		return
	}

	candidate := r.URL.Query().Get("password")
	valid := false
	for _, p := range rt.passwords {
		if candidate == p {
			valid = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type healthCheck struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
}

type healthResponse struct {
	Status              string                 `json:"status"`
	Version             string                 `json:"version"`
	Timestamp           int64                  `json:"timestamp"`
	Checks              map[string]healthCheck `json:"checks"`
	TotalResponseTimeMs int64                  `json:"total_response_time_ms"`
}

// handleHealth reports the addon's view of its dependencies: database,
// catalog site, and proxy. Degradations stay 200; the response body
// carries the detail.
func (rt *Routes) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	resp := healthResponse{
		Status:    "healthy",
		Version:   rt.version,
		Timestamp: time.Now().Unix(),
		Checks: map[string]healthCheck{
			"server": {Status: "ok", Message: "addon server running"},
		},
	}

	if err := rt.store.Ping(ctx); err != nil {
		resp.Checks["database"] = healthCheck{Status: "error", Message: "database error: " + err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Checks["database"] = healthCheck{Status: "ok", Message: "database connection active"}
	}

	resp.Checks["source"], resp.Status = rt.checkSource(ctx, resp.Status)
	resp.Checks["proxy"], resp.Status = rt.checkProxy(ctx, resp.Status)

	resp.TotalResponseTimeMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Routes) checkSource(ctx context.Context, status string) (healthCheck, string) {
	if rt.sourceURL == "" {
		return healthCheck{Status: "disabled", Message: "no source url configured"}, status
	}

	start := time.Now()
	res, err := rt.http.Get(ctx, rt.sourceURL, httpclient.WithTimeout(upstreamCheckTimeout))
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return healthCheck{Status: "error", Message: "source unreachable: " + err.Error(), ResponseTimeMs: elapsed}, "unhealthy"
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return healthCheck{Status: "error", Message: "source HTTP " + res.Status, ResponseTimeMs: elapsed}, "degraded"
	}
	return healthCheck{Status: "ok", Message: "source accessible", ResponseTimeMs: elapsed}, status
}

func (rt *Routes) checkProxy(ctx context.Context, status string) (healthCheck, string) {
	if rt.proxyURL == "" {
		return healthCheck{Status: "disabled", Message: "no proxy configured"}, status
	}

	res, err := rt.http.Get(ctx, rt.proxyCheckURL, httpclient.WithTimeout(upstreamCheckTimeout))
	if err != nil {
		return healthCheck{Status: "error", Message: "proxy error: " + err.Error()}, degrade(status)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return healthCheck{Status: "error", Message: "proxy not responding"}, degrade(status)
	}
	return healthCheck{Status: "ok", Message: "proxy functional"}, status
}

// degrade lowers a healthy status one notch without overriding an
// existing unhealthy verdict.
func degrade(status string) string {
	if status == "unhealthy" {
		return status
	}
	return "degraded"
}

// requestBaseURL rebuilds the externally visible base URL so the
// resolve links in stream responses point back at this deployment,
// proxies included.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
