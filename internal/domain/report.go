// Package domain contains core domain types for the report bot.
package domain

import (
	"time"
)

// CollectionSession is the open reporting window for one channel, anchored
// to the thread of the collection prompt posted in that channel.
type CollectionSession struct {
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// CollectedReport is one status update submitted as a reply in an open
// collection thread.
type CollectedReport struct {
	ID          int64     `json:"id"`
	ChannelID   string    `json:"channel_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ResetCutoff bounds a channel reset to what one aggregation run saw.
// Reports with IDs up to LastReportID are removed; the session is removed only
// if it is still anchored at ThreadID and no later reports remain.
type ResetCutoff struct {
	ChannelID    string
	ThreadID     string
	LastReportID int64
}

// IngestOutcome describes what happened to an inbound message.
type IngestOutcome string

const (
	// IngestAccepted means the message was stored as a report.
	IngestAccepted IngestOutcome = "accepted"
	// IngestNoSession means the channel has no open collection session.
	IngestNoSession IngestOutcome = "no_session"
	// IngestThreadMismatch means the message replied to a thread other than the open session's.
	IngestThreadMismatch IngestOutcome = "thread_mismatch"
	// IngestNotThreaded means the message was a top-level channel message.
	IngestNotThreaded IngestOutcome = "not_threaded"
	// IngestBotAuthor means the message was written by a bot, including this one.
	IngestBotAuthor IngestOutcome = "bot_author"
)

// Accepted returns true if the outcome stored a report.
func (o IngestOutcome) Accepted() bool {
	return o == IngestAccepted
}
