// Package storage persists tenant users (with their schedules, autopay rules
// and credentials), the audit trail and notifier dedup state.
//
// Drivers: "file" (JSON state + JSONL audit), "sqlite" (modernc), "postgres"
// (gorm) and "mongo". Every driver stores domain.User as its JSON document so
// a user round-trips unchanged.
package storage
