package models

import "time"

// RawMessage is a message as returned by the messaging service, before classification.
type RawMessage struct {
	ID         int
	Date       time.Time
	Text       string
	SenderID   int64
	SenderName *string
	Views      *int
	Forwards   *int
	Media      Media
}

// Page is one history page, newest first.
type Page struct {
	Messages []RawMessage
	// OldestID is the lowest id the service returned, including entries that
	// were dropped during conversion (service messages). 0 for an empty page.
	OldestID int
}

// Empty reports whether the service returned nothing at all.
func (p *Page) Empty() bool {
	return p == nil || (len(p.Messages) == 0 && p.OldestID == 0)
}
