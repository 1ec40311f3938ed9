package models

import "time"

// CursorState is the persisted pagination position of one channel.
type CursorState struct {
	Channel    string    `json:"channel" gorm:"primaryKey;size:255"`
	LastSeenID int       `json:"last_seen_id"`                      // exclusive upper bound for the next page, 0 = newest
	Collected  int       `json:"collected"`                         // messages emitted so far
	Limit      int       `json:"limit" gorm:"column:channel_limit"` // per-channel message limit
	Exhausted  bool      `json:"exhausted"`                         // channel history ended
	Terminal   bool      `json:"terminal"`                          // exhausted or limit reached
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName keeps the table name independent of the struct name.
func (CursorState) TableName() string {
	return "cursor_states"
}

// Remaining returns how many messages may still be emitted.
func (s CursorState) Remaining() int {
	if n := s.Limit - s.Collected; n > 0 {
		return n
	}
	return 0
}

// Recompute refreshes Terminal from the other fields.
func (s *CursorState) Recompute() {
	s.Terminal = s.Exhausted || s.Collected >= s.Limit
}
