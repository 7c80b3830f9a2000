// Package store implements durable persistence for the daemon. Each store
// group owns one SQLite file under the base directory, opened in WAL mode;
// a handful of small entities (the task board, prompts, clipboard, handoff
// templates, review bundles, the council cache) live in atomic JSON files.
package store
