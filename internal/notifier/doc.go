// Package notifier delivers due reminders to the chat transport.
//
// Delivery is asynchronous: the tick loop hands a task over with Deliver, which
// only renders and enqueues it. A small worker pool drains the queue through a
// token-bucket rate limiter and calls the active transport.Adapter. Send
// failures are logged with the platform's error message and published on the
// event bus; they are never retried and never reach the scheduler.
//
// # History
//
// The service keeps a short in-memory history of recent sends for the ops
// endpoint.
package notifier
