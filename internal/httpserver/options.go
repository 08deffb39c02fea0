package httpserver

import (
	"net/http"

	"github.com/dydhzo/wastream/internal/httpmw"
	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/probe"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Routes carries the addon endpoints; nil leaves only the health
	// routes, which keeps handler tests small.
	Routes *Routes

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	Health    probe.Probe
	Readiness probe.Probe
}
