// Package storage persists bot state in SQLite files.
//
// Central holds the guild registry and the global tracked-match table.
// Tenant holds one guild's linked users, role thresholds, clan tags, settings,
// posted-match dedupe records, admin roles and audit log. Times are stored as
// unix milliseconds.
package storage
