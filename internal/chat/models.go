package chat

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message name tags used for routing inside the transcript.
const (
	NameMaster  = "master"
	NameContext = "context"
	NameGift    = "gift"
	NamePersona = "persona"
)

// Message content types beyond plain text.
const (
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeMergeFace   = "mergeFace"
	TypeImageSlider = "bot-image-slider"
)

// Session is one (user, character) conversation.
type Session struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID      uint64 `gorm:"index;not null" json:"-"`
	CharacterID uint64 `gorm:"index;not null" json:"character_id"`

	CurrentGoal    *Goal `gorm:"serializer:json;type:text" json:"current_goal,omitempty"`
	CompletedGoals int   `gorm:"not null;default:0" json:"completed_goals"`

	CurrentScenario    string   `gorm:"type:text" json:"current_scenario"`
	AvailableScenarios []string `gorm:"serializer:json;type:text" json:"available_scenarios,omitempty"`
	// ScenarioGenerated flips once; scenario generation never fires twice
	// for one session.
	ScenarioGenerated bool `gorm:"not null;default:false" json:"-"`

	PreferredLanguage string `gorm:"type:varchar(32)" json:"preferred_language"`

	MessageCount  int       `gorm:"not null;default:0" json:"message_count"`
	LastMessage   string    `gorm:"type:text" json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Goal is the active conversational objective of a session.
type Goal struct {
	Type                string `json:"goal_type"`
	CompletionCondition string `json:"completion_condition"`
	Difficulty          string `json:"difficulty"`
	EstimatedMessages   int    `json:"estimated_messages"`
	RewardPoints        int64  `json:"reward_points"`
}

// Message is one transcript entry. Gallery/image dedup rides on the unique
// (session_id, image_id) index; NULL image ids do not collide.
type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(26);not null;index:idx_chat_msg_session,priority:1;index:uniq_chat_msg_image,unique,priority:1" json:"session_id"`
	UserID    uint64 `gorm:"not null;index" json:"-"`

	Role    string `gorm:"type:varchar(16);not null" json:"role"`
	Name    string `gorm:"type:varchar(16)" json:"name,omitempty"`
	Content string `gorm:"type:text;not null" json:"content"`
	Hidden  bool   `gorm:"not null;default:false" json:"hidden"`

	Type    string  `gorm:"type:varchar(24)" json:"type,omitempty"`
	ImageID *string `gorm:"type:varchar(64);index:uniq_chat_msg_image,unique,priority:2" json:"image_id,omitempty"`
	VideoID *string `gorm:"type:varchar(64)" json:"video_id,omitempty"`
	BatchID *string `gorm:"type:varchar(64);index" json:"batch_id,omitempty"`
	Prompt  string  `gorm:"type:text" json:"prompt,omitempty"`

	LikedAt    *time.Time `json:"liked_at,omitempty"`
	DislikedAt *time.Time `json:"disliked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one queued completion turn.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID    uint64 `gorm:"index:uniq_user_idempo,unique,priority:1;not null"`
	SessionID string `gorm:"size:26;index;not null"`

	// UniqueID is echoed back to the browser so it can match the pending
	// message bubble.
	UniqueID string `gorm:"type:varchar(64);not null"`

	Hidden               bool `gorm:"not null;default:false"`
	DisableImageAnalysis bool `gorm:"not null;default:false"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique,priority:2" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsellEvent records a detected premium-upgrade opportunity; detection is
// suppressed while a recent one exists.
type UpsellEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID     uint64    `gorm:"index;not null" json:"-"`
	SessionID  string    `gorm:"size:26;index;not null" json:"session_id"`
	Kind       string    `gorm:"type:varchar(32);not null" json:"kind"`
	Confidence int       `gorm:"not null" json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

func (UpsellEvent) TableName() string { return "upsell_events" }
