// Package ratelimit is per-IP token bucket middleware.
//
// On the preview server it is mainly a brake on guessing the preview secret:
// every attempt costs a token, so a single address cannot try secrets faster
// than the configured rate. It is in-memory and per instance; distributed
// guessing needs an upstream WAF.
//
// The visitor table is bounded. When it is full, requests from addresses
// not yet in the table are refused rather than evicting live entries, so a
// flood of spoofed sources cannot reset the buckets of a real offender.
package ratelimit
