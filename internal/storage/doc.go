// Package storage provides the optional audit log used by the bot.
//
// It records reminder lifecycle events (added, delivered, failed, removed) for
// operators. Pending reminders themselves are never persisted: the scheduler
// is in-memory by design and starts empty after a restart.
package storage
