package postgres

import (
	"encoding/json"
	"time"
)

// KnowledgeBaseModel maps to the "knowledge_bases" table. The resource
// key (derived from the normalized website URL) is the primary key.
type KnowledgeBaseModel struct {
	Key        string `gorm:"primaryKey;size:64"`
	ProviderID string `gorm:"not null;uniqueIndex"`
	WebsiteURL string `gorm:"not null"`
	DatabaseID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (KnowledgeBaseModel) TableName() string { return "knowledge_bases" }

// AgentModel maps to the "agents" table.
type AgentModel struct {
	Key                      string `gorm:"primaryKey;size:64"`
	ProviderID               string `gorm:"not null;uniqueIndex"`
	WebsiteURL               string `gorm:"not null"`
	DeploymentURL            string
	AccessKey                string
	KnowledgeBaseIDs         JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	AttachedKnowledgeBaseIDs JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	DeploymentStatus         string `gorm:"not null;index"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (AgentModel) TableName() string { return "agents" }

// SessionModel maps to the "sessions" table.
type SessionModel struct {
	ID             string `gorm:"primaryKey"`
	TenantID       string `gorm:"not null;index"`
	WebsiteURL     string `gorm:"not null"`
	CreatedAt      time.Time
	LastActivityAt time.Time `gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }

// SettingModel maps to the "settings" key/value table. Holds the
// process-wide singletons, currently only the shared backing database
// id for knowledge bases.
type SettingModel struct {
	Name      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SettingModel) TableName() string { return "settings" }

// settingDefaultDatabaseID is the settings row holding the shared
// knowledge base backing database id.
const settingDefaultDatabaseID = "default_database_id"

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner interfaces
// for GORM JSONB columns.
type JSONB json.RawMessage
