package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-preview/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// Dependencies backs /-/deps. It reports the content origin and is kept
	// out of readiness so a CMS outage still serves "Failed to fetch article."
	Dependencies health.Probe
	UseRecoverMW bool
	OnPanic      func() // called for every recovered panic, e.g. to bump a counter

	// AllowPublic disables the private-network guard, for tests only
	AllowPublic bool
}
