package health

import (
	"context"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Probe reports nil when healthy and an error carrying the reason otherwise.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" when empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All runs probes in order and stops at the first failure. nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Named prefixes failures with name so the body of /-/deps says which
// dependency is down.
func Named(name string, p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		if err := p.Check(ctx); err != nil {
			return xerrors.Wrap(err, name)
		}
		return nil
	}
}

// Cached evaluates p at most once per ttl and replays the last result in
// between, so scrapes of a dependency probe don't turn into load on the
// dependency itself. Concurrent callers during a refresh share one check.
func Cached(p Probe, ttl time.Duration) CheckFunc {
	var (
		mu      sync.Mutex
		checked time.Time
		last    error
	)
	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !checked.IsZero() && time.Since(checked) < ttl {
			return last
		}
		last = p.Check(ctx)
		checked = time.Now()
		return last
	}
}

// ShutdownGate fails readiness once Set is called, so load balancers stop
// routing new page views while in-flight ones finish.
type ShutdownGate struct {
	mu       sync.RWMutex
	draining bool
	reason   string
}

func (g *ShutdownGate) Set(reason string) {
	g.mu.Lock()
	g.draining, g.reason = true, reason
	g.mu.Unlock()
}

func (g *ShutdownGate) Clear() {
	g.mu.Lock()
	g.draining, g.reason = false, ""
	g.mu.Unlock()
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		g.mu.RLock()
		draining, reason := g.draining, g.reason
		g.mu.RUnlock()
		if !draining {
			return nil
		}
		if reason == "" {
			reason = "draining"
		}
		return xerrors.New(reason)
	}
}
