// Package settings stores per-user chat tool overrides. Resolution order is
// chat-specific record, then user-level record, then built-in defaults.
package settings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type ChatToolSettings struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID uint64 `gorm:"index:idx_settings_user_character,priority:1;not null" json:"-"`

	// CharacterID is nil for the user-level record.
	CharacterID *uint64 `gorm:"index:idx_settings_user_character,priority:2" json:"character_id,omitempty"`

	RelationshipType   string `gorm:"type:varchar(32)" json:"relationship_type"`
	ModelKey           string `gorm:"type:varchar(64)" json:"model_key"`
	GoalsEnabled       *bool  `json:"goals_enabled,omitempty"`
	ScenariosEnabled   *bool  `json:"scenarios_enabled,omitempty"`
	PreferredLanguage  string `gorm:"type:varchar(32)" json:"preferred_language"`
	Voice              string `gorm:"type:varchar(32)" json:"voice"`
	AutoImagesEnabled  *bool  `json:"auto_images_enabled,omitempty"`
	AutoImageCount     int    `json:"auto_image_count"`
	SuggestionsEnabled *bool  `json:"suggestions_enabled,omitempty"`
	CustomInstructions string `gorm:"type:text" json:"custom_instructions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChatToolSettings) TableName() string { return "chat_tool_settings" }

// Resolved is the effective settings view the pipeline consumes.
type Resolved struct {
	RelationshipType   string
	ModelKey           string
	GoalsEnabled       bool
	ScenariosEnabled   bool
	PreferredLanguage  string
	Voice              string
	AutoImagesEnabled  bool
	AutoImageCount     int
	SuggestionsEnabled bool
	CustomInstructions string
}

// Defaults applied when neither a chat-specific nor a user-level record exists.
func Defaults() Resolved {
	return Resolved{
		RelationshipType:   "companion",
		PreferredLanguage:  "English",
		GoalsEnabled:       true,
		ScenariosEnabled:   true,
		AutoImagesEnabled:  true,
		AutoImageCount:     1,
		SuggestionsEnabled: true,
		Voice:              "default",
	}
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Upsert(ctx context.Context, s *ChatToolSettings) error {
	q := r.db.WithContext(ctx).Where("user_id = ?", s.UserID)
	if s.CharacterID == nil {
		q = q.Where("character_id IS NULL")
	} else {
		q = q.Where("character_id = ?", *s.CharacterID)
	}

	var existing ChatToolSettings
	err := q.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(s).Error
	}
	if err != nil {
		return err
	}
	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *Repo) get(ctx context.Context, userID uint64, characterID *uint64) (*ChatToolSettings, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if characterID == nil {
		q = q.Where("character_id IS NULL")
	} else {
		q = q.Where("character_id = ?", *characterID)
	}
	var s ChatToolSettings
	if err := q.First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Resolve merges chat-specific over user-level over defaults. Each field falls
// through independently so a chat record can override just one knob.
func (r *Repo) Resolve(ctx context.Context, userID, characterID uint64) (Resolved, error) {
	out := Defaults()

	userLevel, err := r.get(ctx, userID, nil)
	if err != nil {
		return out, err
	}
	chatLevel, err := r.get(ctx, userID, &characterID)
	if err != nil {
		return out, err
	}

	for _, s := range []*ChatToolSettings{userLevel, chatLevel} {
		if s == nil {
			continue
		}
		if s.RelationshipType != "" {
			out.RelationshipType = s.RelationshipType
		}
		if s.ModelKey != "" {
			out.ModelKey = s.ModelKey
		}
		if s.PreferredLanguage != "" {
			out.PreferredLanguage = s.PreferredLanguage
		}
		if s.Voice != "" {
			out.Voice = s.Voice
		}
		if s.GoalsEnabled != nil {
			out.GoalsEnabled = *s.GoalsEnabled
		}
		if s.ScenariosEnabled != nil {
			out.ScenariosEnabled = *s.ScenariosEnabled
		}
		if s.AutoImagesEnabled != nil {
			out.AutoImagesEnabled = *s.AutoImagesEnabled
		}
		if s.AutoImageCount > 0 {
			out.AutoImageCount = s.AutoImageCount
		}
		if s.SuggestionsEnabled != nil {
			out.SuggestionsEnabled = *s.SuggestionsEnabled
		}
		if s.CustomInstructions != "" {
			out.CustomInstructions = s.CustomInstructions
		}
	}

	return out, nil
}
