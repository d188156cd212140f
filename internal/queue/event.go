// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/lock"
)

// SyncRequestedEvent is published when a sync request has been accepted and
// its line locked.  The lock token travels with the event so the consumer
// executes under the lock the publisher took.
type SyncRequestedEvent struct {
	RunID       string    `json:"run_id"`
	LineID      int64     `json:"line_id"`
	LockToken   string    `json:"lock_token"`
	Paths       []string  `json:"paths,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// EventFromTicket builds the event announcing t.
func EventFromTicket(t ingest.Ticket) SyncRequestedEvent {
	return SyncRequestedEvent{
		RunID:       t.RunID,
		LineID:      t.LineID,
		LockToken:   string(t.Token),
		Paths:       t.Paths,
		Currency:    t.Currency,
		Source:      t.Source,
		RequestedAt: t.AcquiredAt,
	}
}

// Ticket converts the event back into the ticket it was built from.
func (e SyncRequestedEvent) Ticket() ingest.Ticket {
	return ingest.Ticket{
		RunID:      e.RunID,
		LineID:     e.LineID,
		Token:      lock.Token(e.LockToken),
		Paths:      e.Paths,
		Currency:   e.Currency,
		Source:     e.Source,
		AcquiredAt: e.RequestedAt,
	}
}

// DecodeSyncRequested parses and checks a message body.
func DecodeSyncRequested(body []byte) (SyncRequestedEvent, error) {
	var ev SyncRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return SyncRequestedEvent{}, errors.Wrap(err, "unmarshal sync event")
	}
	switch {
	case ev.RunID == "":
		return SyncRequestedEvent{}, errors.New("sync event without run_id")
	case ev.LineID <= 0:
		return SyncRequestedEvent{}, errors.Newf("sync event %s has invalid line_id %d", ev.RunID, ev.LineID)
	case ev.LockToken == "":
		return SyncRequestedEvent{}, errors.Newf("sync event %s has no lock token", ev.RunID)
	}
	return ev, nil
}
