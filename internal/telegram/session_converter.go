package telegram

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// ErrEmptyAuthKey means a login finished without producing an auth key.
var ErrEmptyAuthKey = errors.New("session has no auth key")

// sessionRow builds the sessions table row the harvester client loads on
// start. gotgproto keeps the raw JSON of session.Data under the latest
// version key, so a new login replaces the previous one.
func sessionRow(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}
	if len(data.AuthKey) == 0 {
		return nil, ErrEmptyAuthKey
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    raw,
	}, nil
}

// loadSessionRow returns the stored login, nil if tg-auth has not run yet.
func (m *Manager) loadSessionRow() (*session.Data, error) {
	if !m.db.Migrator().HasTable("sessions") {
		return nil, nil
	}
	var row storage.Session
	err := m.db.Where("version = ?", storage.LatestVersion).Limit(1).Find(&row).Error
	if err != nil {
		return nil, fmt.Errorf("read session row: %w", err)
	}
	if len(row.Data) == 0 {
		return nil, nil
	}
	var data session.Data
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("decode session row: %w", err)
	}
	return &data, nil
}
