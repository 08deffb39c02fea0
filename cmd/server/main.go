package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dydhzo/wastream/internal/cfg"
	"github.com/dydhzo/wastream/internal/debrid"
	"github.com/dydhzo/wastream/internal/httpclient"
	"github.com/dydhzo/wastream/internal/httpserver"
	"github.com/dydhzo/wastream/internal/lifecycle"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/metadata"
	"github.com/dydhzo/wastream/internal/metrics"
	"github.com/dydhzo/wastream/internal/opshttp"
	"github.com/dydhzo/wastream/internal/otelx"
	"github.com/dydhzo/wastream/internal/probe"
	"github.com/dydhzo/wastream/internal/prof"
	"github.com/dydhzo/wastream/internal/ratelimit"
	"github.com/dydhzo/wastream/internal/scraper"
	"github.com/dydhzo/wastream/internal/store"
	"github.com/dydhzo/wastream/internal/stream"
	"github.com/dydhzo/wastream/internal/stremio"
	"github.com/dydhzo/wastream/internal/sweeper"
	v "github.com/dydhzo/wastream/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "WASTREAM_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    v.Version,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	instanceID := newInstanceID()

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"instance_id", instanceID,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"addon_id", conf.AddonID,
		"addon_name", conf.AddonName,
		"database_driver", conf.DatabaseDriver,
		"content_cache_ttl", conf.ContentCacheTTL,
		"dead_link_ttl", conf.DeadLinkTTL,
		"scrape_lock_ttl", conf.ScrapeLockTTL,
		"cleanup_interval", conf.CleanupInterval,
		"proxy_configured", conf.ProxyURL != "",
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
	)

	if conf.SourceURL == "" {
		// the addon still serves configure/manifest/health, stream
		// requests come back empty
		L.Warn(ctx, "no source url configured, scraping is disabled")
	}

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	// Shared outbound client. Every upstream call (catalog site, TMDB,
	// Kitsu, AllDebrid, health probes) goes through this one client so
	// the proxy setting applies uniformly.
	client, err := httpclient.New(httpclient.Options{
		ProxyURL: conf.ProxyURL,
	})
	if err != nil {
		L.Error(ctx, err, "http client init failed")
		os.Exit(1)
	}

	db, err := store.New(store.Options{
		Logger:   L,
		Driver:   conf.DatabaseDriver,
		Path:     conf.DatabasePath,
		DSN:      conf.DatabaseDSN,
		LockTTL:  time.Duration(conf.ScrapeLockTTL) * time.Second,
		LockWait: time.Duration(conf.ScrapeWaitSecs) * time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "store init failed")
		os.Exit(1)
	}

	sw := sweeper.New(sweeper.Options{
		Logger:   L,
		Cleaner:  db,
		Interval: time.Duration(conf.CleanupInterval) * time.Second,
		OnSweep:  m.ObserveSweep,
		OnError:  m.IncSweepError,
	})

	lc := lifecycle.New(lifecycle.Options{
		Logger:   L,
		Database: db,
		Sweeper:  sw,
		Client:   client,
	})
	if err := lc.Start(ctx); err != nil {
		L.Error(ctx, err, "lifecycle start failed")
		os.Exit(1)
	}

	var scr *scraper.Scraper
	if conf.SourceURL != "" {
		scr, err = scraper.New(scraper.Options{
			Logger:  L,
			HTTP:    client,
			BaseURL: conf.SourceURL,
		})
		if err != nil {
			L.Error(ctx, err, "scraper init failed")
			os.Exit(1)
		}
	}

	tmdb, err := metadata.NewTMDB(metadata.TMDBOptions{Logger: L, HTTP: client})
	if err != nil {
		L.Error(ctx, err, "tmdb client init failed")
		os.Exit(1)
	}
	kitsu, err := metadata.NewKitsu(metadata.KitsuOptions{Logger: L, HTTP: client})
	if err != nil {
		L.Error(ctx, err, "kitsu client init failed")
		os.Exit(1)
	}
	alldebrid, err := debrid.New(debrid.Options{
		Logger:     L,
		HTTP:       client,
		Agent:      conf.AddonName,
		MaxRetries: conf.DebridMaxRetries,
		RetryDelay: time.Duration(conf.DebridRetryDelay) * time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "debrid client init failed")
		os.Exit(1)
	}

	streams, err := stream.New(stream.Options{
		Logger:      L,
		Store:       db,
		Scraper:     scr,
		TMDB:        tmdb,
		Kitsu:       kitsu,
		Debrid:      alldebrid,
		Metrics:     m,
		AddonName:   conf.AddonName,
		InstanceID:  instanceID,
		CacheTTL:    time.Duration(conf.ContentCacheTTL) * time.Second,
		DeadLinkTTL: time.Duration(conf.DeadLinkTTL) * time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "stream service init failed")
		os.Exit(1)
	}

	routes, err := httpserver.NewRoutes(httpserver.RoutesOptions{
		Logger:     L,
		Streams:    streams,
		Store:      db,
		HTTP:       client,
		Manifest:   stremio.NewManifest(conf.AddonID, conf.AddonName),
		AddonName:  conf.AddonName,
		CustomHTML: conf.CustomHTML,
		Password:   conf.AddonPassword,
		SourceURL:  conf.SourceURL,
		ProxyURL:   conf.ProxyURL,
		Version:    stremio.ManifestVersion,
	})
	if err != nil {
		L.Error(ctx, err, "routes init failed")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate probe.ShutdownGate

	readiness := probe.All(
		gate.Probe(),
		probe.Func(lc.Ready),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	addonHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Routes:       routes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start addon http listener")
		os.Exit(1)
	}
	defer func() { _ = addonHTTPStop(context.Background()) }()

	// admin/ops listener serves metrics, health checks, and pprof;
	// firewall it away from the public internet
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	L.Info(ctx, "startup complete")

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// in-flight stream scrapes can run long, give them a chance to finish
	L.Info(context.Background(), "sleeping 15s for in-flight requests and health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := addonHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "addon http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	// stops the sweeper and closes the database last
	if err := lc.Stop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "lifecycle shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

// newInstanceID identifies this process as a scrape lock owner so
// replicas sharing a postgres database do not stampede the catalog
// site for the same title.
func newInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "wastream"
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return host
	}
	return host + "-" + hex.EncodeToString(b[:])
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
