// Package pipeline implements one poll cycle: retrieve a snapshot for a
// scope, diff it against the processed records, then reserve and notify
// every unseen record in retrieval order.
//
// A record is reserved (Store.Create) strictly before it is notified. When
// notification fails the reservation is deleted again so the next cycle
// re-offers the record. A key conflict on Create means another cycle owns
// the record and it is skipped.
package pipeline
