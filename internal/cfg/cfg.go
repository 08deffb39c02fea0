package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dydhzo/wastream/internal/log"
)

// App is the full process configuration. Everything is read once at
// startup; nothing here changes while the process runs.
type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int

	AddonID       string
	AddonName     string
	AddonPassword string

	// CustomHTML is injected verbatim into the configure page.
	CustomHTML string

	// SourceURL is the catalog site base URL. Empty is allowed: the
	// process still serves health/configure, it just cannot scrape.
	SourceURL string

	// ProxyURL, when set, routes ALL outbound traffic through it.
	ProxyURL string

	DatabaseDriver string // sqlite|postgres
	DatabasePath   string // sqlite file path
	DatabaseDSN    string // postgres connection string

	ContentCacheTTL  int // seconds, scraped result cache
	DeadLinkTTL      int // seconds, dead link memory
	ScrapeLockTTL    int // seconds, cross-instance scrape lock
	ScrapeWaitSecs   int // seconds to wait for a contended lock
	CleanupInterval  int // seconds between sweeper passes
	DebridMaxRetries int
	DebridRetryDelay int // seconds

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 7000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.AddonID, "addon-id", "community.wastream", "Stremio addon identifier")
	fs.StringVar(&c.AddonName, "addon-name", "WAStream", "Stremio addon display name")
	fs.StringVar(&c.AddonPassword, "addon-password", "", "comma-separated passwords gating /configure (empty disables)")
	fs.StringVar(&c.CustomHTML, "custom-html", "", "HTML block injected into the configure page")
	fs.StringVar(&c.SourceURL, "source-url", "", "catalog site base URL (empty disables scraping)")
	fs.StringVar(&c.ProxyURL, "proxy-url", "", "proxy URL for all outbound traffic (empty disables)")
	fs.StringVar(&c.DatabaseDriver, "database-driver", "sqlite", "sqlite|postgres")
	fs.StringVar(&c.DatabasePath, "database-path", "data/wastream.db", "sqlite database file path")
	fs.StringVar(&c.DatabaseDSN, "database-dsn", "", "postgres DSN (required for database-driver=postgres)")
	fs.IntVar(&c.ContentCacheTTL, "content-cache-ttl", 3600, "scraped content cache TTL in seconds")
	fs.IntVar(&c.DeadLinkTTL, "dead-link-ttl", 604800, "dead link memory TTL in seconds")
	fs.IntVar(&c.ScrapeLockTTL, "scrape-lock-ttl", 300, "scrape lock duration in seconds")
	fs.IntVar(&c.ScrapeWaitSecs, "scrape-wait-timeout", 30, "seconds to wait for a contended scrape lock")
	fs.IntVar(&c.CleanupInterval, "cleanup-interval", 60, "seconds between expiry sweeper passes")
	fs.IntVar(&c.DebridMaxRetries, "debrid-max-retries", 10, "debrid resolution attempts before giving up")
	fs.IntVar(&c.DebridRetryDelay, "debrid-retry-delay", 2, "seconds between debrid resolution attempts")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and
// formats. Returns an error describing all invalid fields, or nil.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.AddonID == "" {
		errs = append(errs, fmt.Errorf("ADDON_ID must not be empty"))
	}
	if c.AddonName == "" {
		errs = append(errs, fmt.Errorf("ADDON_NAME must not be empty"))
	}

	// SourceURL may be empty (startup warns, process still serves
	// health/configure) but when present it must parse.
	if c.SourceURL != "" {
		if u, err := url.Parse(c.SourceURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SOURCE_URL must be a URL (got %q)", c.SourceURL))
		}
	}
	if c.ProxyURL != "" {
		if u, err := url.Parse(c.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PROXY_URL must be a URL (got %q)", c.ProxyURL))
		}
	}

	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			errs = append(errs, fmt.Errorf("DATABASE_PATH required when DATABASE_DRIVER=sqlite"))
		}
	case "postgres":
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_DSN required when DATABASE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid DATABASE_DRIVER %q (must be sqlite or postgres)", c.DatabaseDriver))
	}

	for name, v := range map[string]int{
		"CONTENT_CACHE_TTL":   c.ContentCacheTTL,
		"DEAD_LINK_TTL":       c.DeadLinkTTL,
		"SCRAPE_LOCK_TTL":     c.ScrapeLockTTL,
		"SCRAPE_WAIT_TIMEOUT": c.ScrapeWaitSecs,
		"CLEANUP_INTERVAL":    c.CleanupInterval,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1 second (got %d)", name, v))
		}
	}
	if c.DebridMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("DEBRID_MAX_RETRIES must be >= 1 (got %d)", c.DebridMaxRetries))
	}
	if c.DebridRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("DEBRID_RETRY_DELAY must be >= 0 (got %d)", c.DebridRetryDelay))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing && c.OTLPEndpoint == "" {
		errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
