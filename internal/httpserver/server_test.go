package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dydhzo/wastream/internal/debrid"
	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/metadata"
	"github.com/dydhzo/wastream/internal/scraper"
	"github.com/dydhzo/wastream/internal/store"
	"github.com/dydhzo/wastream/internal/stream"
	"github.com/dydhzo/wastream/internal/stremio"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store

	// swapped in per test via env.handlers
	tmdb   http.HandlerFunc
	debrid http.HandlerFunc
}

// newTestEnv wires a full addon handler over a temp sqlite store and
// fake upstreams. Upstream handlers default to 404.
func newTestEnv(t *testing.T, opt func(*RoutesOptions)) *testEnv {
	t.Helper()
	env := &testEnv{}

	tmdbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.tmdb == nil {
			http.NotFound(w, r)
			return
		}
		env.tmdb(w, r)
	}))
	t.Cleanup(tmdbSrv.Close)

	debridSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.debrid == nil {
			http.NotFound(w, r)
			return
		}
		env.debrid(w, r)
	}))
	t.Cleanup(debridSrv.Close)

	hc, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient: %v", err)
	}
	t.Cleanup(hc.Close)

	st, err := store.New(store.Options{
		Driver:   store.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "server.db"),
		LockTTL:  time.Minute,
		LockWait: time.Second,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := st.Setup(context.Background()); err != nil {
		t.Fatalf("store setup: %v", err)
	}
	t.Cleanup(func() { _ = st.Teardown(context.Background()) })
	env.store = st

	sc, err := scraper.New(scraper.Options{HTTP: hc, BaseURL: "http://site.invalid"})
	if err != nil {
		t.Fatalf("scraper: %v", err)
	}
	tm, err := metadata.NewTMDB(metadata.TMDBOptions{HTTP: hc, APIURL: tmdbSrv.URL})
	if err != nil {
		t.Fatalf("tmdb: %v", err)
	}
	ki, err := metadata.NewKitsu(metadata.KitsuOptions{HTTP: hc, APIURL: "http://kitsu.invalid", AliasURL: "http://kitsu.invalid"})
	if err != nil {
		t.Fatalf("kitsu: %v", err)
	}
	db, err := debrid.New(debrid.Options{HTTP: hc, APIURL: debridSrv.URL, MaxRetries: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("debrid: %v", err)
	}

	svc, err := stream.New(stream.Options{
		Store: st, Scraper: sc, TMDB: tm, Kitsu: ki, Debrid: db,
		AddonName: "WAStream", InstanceID: "test",
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	ropts := RoutesOptions{
		Streams:   svc,
		Store:     st,
		HTTP:      hc,
		Manifest:  stremio.NewManifest("community.wastream", "WAStream"),
		AddonName: "WAStream",
		Version:   stremio.ManifestVersion,
	}
	if opt != nil {
		opt(&ropts)
	}
	routes, err := NewRoutes(ropts)
	if err != nil {
		t.Fatalf("NewRoutes: %v", err)
	}

	handler := NewHandler(&Options{
		Logger:       log.Nop(),
		Routes:       routes,
		UseRecoverMW: true,
	})
	env.srv = httptest.NewServer(handler)
	t.Cleanup(env.srv.Close)
	return env
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func encodeConfig(t *testing.T, cfg *stremio.UserConfig) string {
	t.Helper()
	b64, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	return b64
}

func TestRootRedirectsToConfigure(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := noRedirectClient().Get(env.srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/configure" {
		t.Errorf("location = %q", loc)
	}
}

func TestConfigurePage(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/configure", "/eyJh/configure"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s content type = %q", path, ct)
		}
		if !strings.Contains(string(body), "WAStream") {
			t.Errorf("%s page does not mention the addon name", path)
		}
	}
}

func TestManifest(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/manifest.json", "/whatever/manifest.json"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		var m struct {
			ID       string   `json:"id"`
			Version  string   `json:"version"`
			Types    []string `json:"types"`
			Catalogs []any    `json:"catalogs"`
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if m.ID != "community.wastream" || m.Version != stremio.ManifestVersion {
			t.Errorf("%s manifest = %+v", path, m)
		}
		// empty catalogs must serialize as [], stremio rejects null
		if !strings.Contains(string(raw), `"catalogs":[]`) {
			t.Errorf("%s catalogs not an empty array: %s", path, raw)
		}
	}

	// manifests are fetched cross-origin by stremio web
	resp, err := http.Get(env.srv.URL + "/manifest.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on manifest")
	}
}

func TestStreams_InvalidConfigYieldsEmptyList(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/not-base64/stream/movie/tt1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var out struct {
		Streams []any `json:"streams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Streams == nil || len(out.Streams) != 0 {
		t.Errorf("streams = %v", out.Streams)
	}
}

func TestStreams_FromSeededCache(t *testing.T) {
	env := newTestEnv(t, nil)
	env.tmdb = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/find/tt0944947":
			fmt.Fprint(w, `{"tv_results":[{"id":1399,"first_air_date":"2011-04-17","genre_ids":[18]}]}`)
		case "/tv/1399":
			fmt.Fprint(w, `{"name":"Game of Thrones","translations":{"translations":[]}}`)
		default:
			http.NotFound(w, r)
		}
	}

	results := []scraper.Result{{
		DLProtect: "https://dl-protect.link/got",
		Season:    "1", Episode: "1",
		Quality: "1080p", Language: "MULTI", Hoster: "1Fichier", Size: "2 GB",
	}}
	payload, _ := json.Marshal(results)
	key := store.CacheKey("serie", "game of thrones", "2011")
	if err := env.store.SetCache(context.Background(), key, payload, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	b64 := encodeConfig(t, &stremio.UserConfig{AllDebrid: "ad", TMDB: "tok"})
	resp, err := http.Get(env.srv.URL + "/" + b64 + "/stream/series/tt0944947:1:1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Streams     []stream.Stream `json:"streams"`
		CacheMaxAge int             `json:"cacheMaxAge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Streams) != 1 {
		t.Fatalf("streams = %+v", out.Streams)
	}
	if out.CacheMaxAge != 1 {
		t.Errorf("cacheMaxAge = %d", out.CacheMaxAge)
	}

	// resolve URL must point back at this deployment
	u, err := url.Parse(out.Streams[0].URL)
	if err != nil {
		t.Fatalf("stream url: %v", err)
	}
	if u.Path != "/resolve" || "http://"+u.Host != env.srv.URL {
		t.Errorf("stream url = %q (server %q)", out.Streams[0].URL, env.srv.URL)
	}
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t, nil)
	env.debrid = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/link/redirector":
			fmt.Fprint(w, `{"status":"success","data":{"links":["https://host/f"]}}`)
		case "/link/unlock":
			fmt.Fprint(w, `{"status":"success","data":{"link":"https://cdn/direct.mkv"}}`)
		}
	}

	b64 := encodeConfig(t, &stremio.UserConfig{AllDebrid: "ad", TMDB: "tok"})
	resp, err := noRedirectClient().Get(env.srv.URL + "/resolve?link=" +
		url.QueryEscape("https://dl-protect.link/x") + "&b64config=" + url.QueryEscape(b64))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://cdn/direct.mkv" {
		t.Errorf("location = %q", loc)
	}
}

func TestResolve_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.debrid = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":{"code":"LINK_DOWN","message":"gone"}}`)
	}

	b64 := encodeConfig(t, &stremio.UserConfig{AllDebrid: "ad", TMDB: "tok"})

	cases := []struct {
		name, url  string
		wantStatus int
	}{
		{"missing link", "/resolve?b64config=" + url.QueryEscape(b64), http.StatusBadRequest},
		{"bad config", "/resolve?link=x&b64config=nope", http.StatusForbidden},
		{"link down", "/resolve?link=" + url.QueryEscape("https://dl-protect.link/dead") + "&b64config=" + url.QueryEscape(b64), http.StatusGone},
	}
	for _, c := range cases {
		resp, err := http.Get(env.srv.URL + c.url)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.wantStatus {
			t.Errorf("%s: status = %d, want %d", c.name, resp.StatusCode, c.wantStatus)
		}
	}

	// the dead link must now be remembered
	dead, err := env.store.IsDeadLink(context.Background(), "https://dl-protect.link/dead")
	if err != nil || !dead {
		t.Errorf("dead link not recorded (dead=%v err=%v)", dead, err)
	}
}

func TestPasswordEndpoints(t *testing.T) {
	env := newTestEnv(t, func(o *RoutesOptions) { o.Password = "alpha, beta ," })

	resp, err := http.Get(env.srv.URL + "/password-config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var pc map[string]bool
	json.NewDecoder(resp.Body).Decode(&pc)
	resp.Body.Close()
	if !pc["password_required"] {
		t.Error("password_required = false")
	}

	check := func(pw string, want bool) {
		t.Helper()
		resp, err := http.Post(env.srv.URL+"/verify-password?password="+url.QueryEscape(pw), "", nil)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var out map[string]bool
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if out["valid"] != want {
			t.Errorf("verify(%q) = %v, want %v", pw, out["valid"], want)
		}
	}
	check("alpha", true)
	check("beta", true)
	check("gamma", false)
	check("", false)
}

func TestPasswordEndpoints_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/password-config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var pc map[string]bool
	json.NewDecoder(resp.Body).Decode(&pc)
	resp.Body.Close()
	if pc["password_required"] {
		t.Error("password_required = true with no password configured")
	}

	resp, err = http.Post(env.srv.URL+"/verify-password?password=anything", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var out map[string]bool
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if !out["valid"] {
		t.Error("open instance rejected a password")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "healthy" {
		t.Errorf("status = %q (checks %+v)", out.Status, out.Checks)
	}
	if out.Checks["database"].Status != "ok" {
		t.Errorf("database check = %+v", out.Checks["database"])
	}
	// no source or proxy configured in tests
	if out.Checks["source"].Status != "disabled" || out.Checks["proxy"].Status != "disabled" {
		t.Errorf("source/proxy = %+v / %+v", out.Checks["source"], out.Checks["proxy"])
	}
	if out.Version != stremio.ManifestVersion {
		t.Errorf("version = %q", out.Version)
	}
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestRequestBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://addon.example/x", nil)
	if got := requestBaseURL(r); got != "http://addon.example" {
		t.Errorf("base url = %q", got)
	}

	r.Header.Set("X-Forwarded-Proto", "https")
	if got := requestBaseURL(r); got != "https://addon.example" {
		t.Errorf("forwarded base url = %q", got)
	}
}
