package catalog

import "time"

// Model categories. Free-tier users can use everything except premium.
const (
	CategoryFree     = "free"
	CategoryStandard = "standard"
	CategoryPremium  = "premium"
)

// Provider is one LLM backend: where to call it and which env var holds its key.
type Provider struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Name       string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"name"`
	APIURL     string    `gorm:"type:varchar(255);not null" json:"api_url"`
	EnvKeyName string    `gorm:"type:varchar(64);not null" json:"env_key_name"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Provider) TableName() string { return "chat_providers" }

// Model is one selectable model within a provider.
type Model struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Key          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"key"`
	Name         string    `gorm:"type:varchar(128);not null" json:"name"`
	ProviderName string    `gorm:"type:varchar(32);index;not null" json:"provider"`
	MaxTokens    int       `gorm:"not null;default:4096" json:"max_tokens"`
	Category     string    `gorm:"type:varchar(16);not null;default:'free'" json:"category"`
	Active       bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Model) TableName() string { return "chat_models" }

// EligibleFor reports whether a user tier may use this model.
func (m *Model) EligibleFor(premium bool) bool {
	if premium {
		return true
	}
	return m.Category != CategoryPremium
}
