// Package health provides composable probes and the liveness/readiness
// HTTP handlers served on both listeners.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so load
// balancers stop routing new previews before in-flight ones drain.
package health
