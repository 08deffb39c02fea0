// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// This is a single-instance, in-memory rate limiter intended for basic
// abuse prevention on a self-hosted addon. Stremio clients issue bursts
// of stream requests when a user browses, so the defaults allow a
// generous burst with a modest refill rate. It does not protect against
// distributed attacks or bandwidth-bill attacks; for those, put a WAF or
// CDN in front.
package ratelimit
