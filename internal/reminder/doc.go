// Package reminder is the scheduling core of remindbot.
//
// A Registry holds pending Tasks. The Validator turns an inbound request into a
// Task (or a *ValidationError) and inserts it. A single Ticker sweeps the
// registry once per interval: every task's countdown is decremented, tasks that
// reach zero are handed to a Deliverer, repeating tasks are re-armed and
// one-shot tasks are removed in one batch after the sweep.
//
// Only the Ticker mutates or removes tasks. Inserts may race with a sweep; a
// task added mid-sweep is picked up by the next one.
package reminder
