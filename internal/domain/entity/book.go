// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// Book 书籍实体，发现检索与对话的基础对象
type Book struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title         string         `json:"title" gorm:"type:varchar(256);not null"`
	Author        string         `json:"author" gorm:"type:varchar(128);not null"`
	Description   string         `json:"description" gorm:"type:text"`
	Category      string         `json:"category" gorm:"type:varchar(64);index"`
	Tags          pq.StringArray `json:"tags" gorm:"type:text[]"`
	Language      string         `json:"language" gorm:"type:varchar(16);default:'zh'"`
	Published     bool           `json:"published" gorm:"index;default:false"`
	DialogueCount int64          `json:"dialogue_count" gorm:"default:0"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Book) TableName() string {
	return "books"
}

// Discoverable 书籍是否可被检索到
func (b *Book) Discoverable() bool {
	return b.Published
}
