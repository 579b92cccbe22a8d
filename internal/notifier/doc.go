// Package notifier holds delivery adapters for dispatched records and a few
// combinators around pipeline.Notifier.
//
// Concrete channels live in subpackages (slack, telegram, webhook, process).
// This package provides Discard for dry runs, Limit to throttle a channel
// with a token bucket, and Fanout to deliver one record to several channels.
//
// Every Notify call is a single attempt. Retrying is the poll cycle's job:
// a failed delivery is compensated and tried again on the next cycle.
package notifier
