package cfg

import (
	"flag"
	"strings"
	"testing"
)

func defaults(t *testing.T) App {
	t.Helper()
	var c App
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return c
}

func TestDefaults_AreValid(t *testing.T) {
	c := defaults(t)
	if err := Validate(c); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.HTTPPort != 7000 {
		t.Errorf("HTTPPort = %d", c.HTTPPort)
	}
	if c.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %q", c.DatabaseDriver)
	}
	if c.ContentCacheTTL != 3600 || c.DeadLinkTTL != 604800 {
		t.Errorf("cache TTLs = %d/%d", c.ContentCacheTTL, c.DeadLinkTTL)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"bad http port", func(c *App) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"port clash", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"bad level", func(c *App) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad source url", func(c *App) { c.SourceURL = "not a url" }, "SOURCE_URL"},
		{"bad proxy url", func(c *App) { c.ProxyURL = "::" }, "PROXY_URL"},
		{"bad driver", func(c *App) { c.DatabaseDriver = "oracle" }, "DATABASE_DRIVER"},
		{"postgres without dsn", func(c *App) { c.DatabaseDriver = "postgres"; c.DatabaseDSN = "" }, "DATABASE_DSN"},
		{"sqlite without path", func(c *App) { c.DatabasePath = "" }, "DATABASE_PATH"},
		{"zero ttl", func(c *App) { c.ContentCacheTTL = 0 }, "CONTENT_CACHE_TTL"},
		{"zero retries", func(c *App) { c.DebridMaxRetries = 0 }, "DEBRID_MAX_RETRIES"},
		{"tracing without endpoint", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT"},
		{"pyro without server", func(c *App) { c.EnablePyroscope = true }, "PYRO_SERVER"},
		{"bad sample", func(c *App) { c.TraceSample = 1.5 }, "TRACE_SAMPLE"},
		{"empty addon id", func(c *App) { c.AddonID = "" }, "ADDON_ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := defaults(t)
			tc.mutate(&c)
			err := Validate(c)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_EmptySourceURLAllowed(t *testing.T) {
	c := defaults(t)
	c.SourceURL = ""
	if err := Validate(c); err != nil {
		t.Fatalf("empty source url should validate: %v", err)
	}
}

func TestFillFromEnv_Precedence(t *testing.T) {
	t.Setenv("WASTREAM_HTTP_PORT", "8100")
	t.Setenv("WASTREAM_SOURCE_URL", "https://example.com")
	t.Setenv("WASTREAM_ADMIN_PORT", "not-a-port")

	var c App
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	Register(fs, &c)
	// cli flag beats env
	if err := fs.Parse([]string{"-http-port", "8200"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	var warned []string
	FillFromEnv(fs, "WASTREAM_", func(format string, args ...any) {
		warned = append(warned, format)
	})

	if c.HTTPPort != 8200 {
		t.Errorf("HTTPPort = %d, cli flag should win over env", c.HTTPPort)
	}
	if c.SourceURL != "https://example.com" {
		t.Errorf("SourceURL = %q, env should fill unset flag", c.SourceURL)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort = %d, invalid env should keep default", c.AdminPort)
	}
	if len(warned) < 2 {
		t.Errorf("expected warnings for override and invalid env, got %d", len(warned))
	}
}
