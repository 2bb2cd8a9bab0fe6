// Package reminder schedules one-shot prayer reminders per subscriber.
//
// # Overview
//
// Schedule takes a subscriber and one day's prayer times, computes the
// fire-moment of each reminder (event time minus the configured offset, in the
// configured civil timezone) and registers a one-shot timer for every
// fire-moment still in the future. Past-due reminders are recorded as Skipped
// and never sent, not even late.
//
// # Records
//
// Every computed reminder is a Record owned by the Scheduler:
//
//	Pending -> Fired -> Delivered | Failed
//	Pending -> Cancelled
//	Skipped
//
// Records are keyed by (subscriber, kind, date). While a record is Pending or
// Fired, scheduling the same key again returns the existing record and does
// not create a second timer.
//
// # Delivery policy
//
// Each reminder gets at most one delivery attempt. A Dispatcher error marks
// the record Failed and is not retried. Failures are isolated per record.
// A Dispatcher that is also a Pacer is waited on before DeliveryTimeout
// starts, so rate limiting delays a reminder but never fails it.
//
// # Persistence
//
// Timers live in memory only. A process restart loses all pending reminders;
// callers must schedule "today" again on startup and schedule each new day
// themselves.
package reminder
