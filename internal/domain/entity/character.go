package entity

import "time"

// Character 书中角色实体，可作为对话目标
type Character struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BookID      string    `json:"book_id" gorm:"type:uuid;index;not null"`
	Name        string    `json:"name" gorm:"type:varchar(128);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Persona     string    `json:"persona" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Character) TableName() string {
	return "characters"
}
