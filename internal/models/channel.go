// Package models defines shared data types for the application.
package models

// ChannelTarget is a channel resolved by the messaging service.
// It is created on the first successful resolve and not mutated afterwards.
type ChannelTarget struct {
	Identifier        string `json:"-"`                  // identifier as requested (username or numeric id)
	ID                int64  `json:"id"`                 // stable numeric id
	AccessHash        int64  `json:"-"`                  // access hash for api calls
	Username          string `json:"username"`           // username without @
	Title             string `json:"title"`              // display title
	ParticipantsCount *int   `json:"participants_count"` // nil when the service does not expose it
}

// Key returns the name used for the channel in records, file names and the cursor store.
func (c ChannelTarget) Key() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Identifier
}
