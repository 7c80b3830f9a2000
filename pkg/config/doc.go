// Package config loads, migrates, saves, and hot-reloads the daemon
// configuration at <baseDir>/config.json. Loading is tolerant: missing
// sub-objects are filled with defaults and unknown keys are preserved
// across a save. The watcher debounces filesystem events and only re-emits
// when the canonical serialised form actually changed.
package config
