package character

import "time"

// Character is the persona definition a user chats with.
type Character struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"type:varchar(64);not null" json:"name"`
	Gender string `gorm:"type:varchar(16);not null;default:'female'" json:"gender"`
	NSFW   bool   `gorm:"not null;default:false" json:"nsfw"`

	// Generated persona. A character is complete once SystemPrompt and
	// ReferenceCharacter are both non-empty; the pipeline treats an
	// incomplete character as recoverable, not fatal.
	SystemPrompt       string `gorm:"type:text" json:"system_prompt"`
	Personality        string `gorm:"type:text" json:"personality"`
	Occupation         string `gorm:"type:varchar(128)" json:"occupation"`
	Preferences        string `gorm:"type:text" json:"preferences"`
	ReferenceCharacter string `gorm:"type:varchar(128)" json:"reference_character"`

	Tags string `gorm:"type:varchar(255)" json:"tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Character) TableName() string { return "characters" }

func (c *Character) Complete() bool {
	return c.SystemPrompt != "" && c.ReferenceCharacter != ""
}

// GalleryImage is one pre-rendered image of a character, stored in the
// object-store bucket under ObjectKey.
type GalleryImage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CharacterID uint64    `gorm:"index;not null" json:"character_id"`
	ObjectKey   string    `gorm:"type:varchar(255);not null" json:"object_key"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	NSFW        bool      `gorm:"not null;default:false" json:"nsfw"`
	CreatedAt   time.Time `json:"created_at"`
}

func (GalleryImage) TableName() string { return "character_gallery_images" }
