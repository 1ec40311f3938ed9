package models

import "time"

// Message is one collected item. Field names are part of the output format.
type Message struct {
	ID              int         `json:"id"`
	Date            time.Time   `json:"date"`
	Text            string      `json:"text"`
	SenderID        int64       `json:"sender_id"`
	SenderName      *string     `json:"sender_name"`
	MessageType     ContentType `json:"message_type"`
	HasMedia        bool        `json:"has_media"`
	MediaURL        *string     `json:"media_url"`
	MediaError      *string     `json:"media_error,omitempty"`
	IsPrompt        bool        `json:"is_prompt"`
	Views           *int        `json:"views"`
	Forwards        *int        `json:"forwards"`
	ChannelUsername string      `json:"channel_username"`
}

// Key identifies a message across channels.
type Key struct {
	Channel string
	ID      int
}

// Key returns the dedup key of the message.
func (m *Message) Key() Key {
	return Key{Channel: m.ChannelUsername, ID: m.ID}
}
