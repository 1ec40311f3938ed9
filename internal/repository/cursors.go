package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/channel-harvester/internal/models"
)

// CursorsRepository persists per-channel pagination state.
// It works on any gorm dialect; sqlite and postgresql are used.
type CursorsRepository struct {
	db *gorm.DB
}

// NewCursorsRepository creates a new cursors repository
func NewCursorsRepository(db *gorm.DB) *CursorsRepository {
	return &CursorsRepository{db: db}
}

// Migrate creates the cursor_states table if needed.
func (r *CursorsRepository) Migrate() error {
	if err := r.db.AutoMigrate(&models.CursorState{}); err != nil {
		return fmt.Errorf("migrate cursor states: %w", err)
	}
	return nil
}

// Get returns the stored state of a channel, or nil if none exists.
func (r *CursorsRepository) Get(ctx context.Context, channel string) (*models.CursorState, error) {
	var st models.CursorState
	err := r.db.WithContext(ctx).Where("channel = ?", channel).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cursor state: %w", err)
	}
	return &st, nil
}

// Save upserts the state of a channel.
func (r *CursorsRepository) Save(ctx context.Context, st *models.CursorState) error {
	st.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel"}},
		UpdateAll: true,
	}).Create(st).Error
	if err != nil {
		return fmt.Errorf("save cursor state: %w", err)
	}
	return nil
}

// Reset forgets the state of one channel.
func (r *CursorsRepository) Reset(ctx context.Context, channel string) error {
	err := r.db.WithContext(ctx).Where("channel = ?", channel).Delete(&models.CursorState{}).Error
	if err != nil {
		return fmt.Errorf("reset cursor state: %w", err)
	}
	return nil
}

// ResetAll forgets every stored state.
func (r *CursorsRepository) ResetAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CursorState{}).Error
	if err != nil {
		return fmt.Errorf("reset cursor states: %w", err)
	}
	return nil
}

// List returns all stored states ordered by channel.
func (r *CursorsRepository) List(ctx context.Context) ([]models.CursorState, error) {
	var out []models.CursorState
	if err := r.db.WithContext(ctx).Order("channel").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list cursor states: %w", err)
	}
	return out, nil
}
