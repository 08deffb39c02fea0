package opshttp

import (
	"net/http"

	"github.com/dydhzo/wastream/internal/probe"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe
}
