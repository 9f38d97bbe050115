package storage

import (
	"time"

	"gorm.io/gorm"
)

// History 状态
const (
	StatusDraft     = "draft"
	StatusPartial   = "partial"
	StatusCompleted = "completed"
)

// Image 一页生成结果, (user_id, task_id, filename) 唯一.
type Image struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        string    `gorm:"size:64;not null;uniqueIndex:uq_images_user_task_filename,priority:1" json:"user_id"`
	TaskID        string    `gorm:"size:128;not null;uniqueIndex:uq_images_user_task_filename,priority:2;index:idx_images_task" json:"task_id"`
	Idx           int       `gorm:"column:idx;not null" json:"index"`
	Filename      string    `gorm:"size:255;not null;uniqueIndex:uq_images_user_task_filename,priority:3" json:"filename"`
	ImageData     []byte    `gorm:"not null" json:"-"`
	ThumbnailData []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Image) TableName() string { return "images" }

// History 用户的一次图文创作记录.
type History struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"size:64;not null;index:idx_histories_user" json:"user_id"`
	TaskID     string     `gorm:"size:128;index:idx_histories_task" json:"task_id,omitempty"`
	Title      string     `gorm:"size:255;not null" json:"title"`
	Outline    string     `gorm:"type:text" json:"outline,omitempty"`
	Status     string     `gorm:"size:32;not null;default:draft" json:"status"`
	Thumbnail  string     `gorm:"size:255" json:"thumbnail,omitempty"`
	Keyword    string     `gorm:"size:64" json:"keyword,omitempty"`
	ImagesJSON string     `gorm:"column:images_json;type:text" json:"-"`
	PageCount  int        `gorm:"not null;default:0" json:"page_count"`
	ExpiresAt  *time.Time `gorm:"index:idx_histories_expires" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (History) TableName() string { return "histories" }

// ProviderConfig 全局提供者覆盖配置.
type ProviderConfig struct {
	ID                 uint   `gorm:"primaryKey"`
	Category           string `gorm:"size:32;not null;uniqueIndex:uq_provider_configs,priority:1"`
	ProviderName       string `gorm:"size:128;not null;uniqueIndex:uq_provider_configs,priority:2"`
	Type               string `gorm:"size:64"`
	APIKey             string `gorm:"type:text"`
	BaseURL            string `gorm:"size:512"`
	Model              string `gorm:"size:255"`
	Quality            string `gorm:"size:32"`
	DefaultSize        string `gorm:"size:32"`
	DefaultAspectRatio string `gorm:"size:16"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// UserProviderConfig 用户级提供者覆盖配置.
type UserProviderConfig struct {
	ID                 uint   `gorm:"primaryKey"`
	UserID             string `gorm:"size:64;not null;uniqueIndex:uq_user_provider_configs,priority:1"`
	Category           string `gorm:"size:32;not null;uniqueIndex:uq_user_provider_configs,priority:2"`
	ProviderName       string `gorm:"size:128;not null;uniqueIndex:uq_user_provider_configs,priority:3"`
	APIKey             string `gorm:"type:text"`
	BaseURL            string `gorm:"size:512"`
	Model              string `gorm:"size:255"`
	Quality            string `gorm:"size:32"`
	DefaultSize        string `gorm:"size:32"`
	DefaultAspectRatio string `gorm:"size:16"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (UserProviderConfig) TableName() string { return "user_provider_configs" }

// AutoMigrate 用 GORM 建表. 生产环境的 schema 由 internal/migration 管理, 这里只服务 sqlite 开发环境.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Image{}, &History{}, &ProviderConfig{}, &UserProviderConfig{})
}
