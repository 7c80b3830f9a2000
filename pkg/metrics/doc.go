// Package metrics defines the daemon's prometheus collectors. They are
// registered on the default registry and surfaced through the analytics and
// health queries; no scrape endpoint is exposed.
package metrics
