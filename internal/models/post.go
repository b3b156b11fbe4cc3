package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post is a forum thread opener.
type Post struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	AuthorID  uint      `json:"author_id" gorm:"index;not null"`
	Author    *User     `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
	Title     string    `json:"title"`
	Body      string    `json:"body" gorm:"type:text"`
	Comments  []Comment `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ToxicityScore and ModerationSource keep the scanner verdict that let the
	// content through; Overridden marks staff overrides of a flagged verdict.
	ToxicityScore    float64 `json:"toxicity_score"`
	ModerationSource string  `json:"moderation_source"`
	Overridden       bool    `json:"overridden"`
}

// Comment is a reply on a Post.
type Comment struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	UUID             string    `json:"uuid" gorm:"uniqueIndex"`
	PostID           uint      `json:"post_id" gorm:"index;not null"`
	AuthorID         uint      `json:"author_id" gorm:"index;not null"`
	Author           *User     `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
	Body             string    `json:"body" gorm:"type:text"`
	ToxicityScore    float64   `json:"toxicity_score"`
	ModerationSource string    `json:"moderation_source"`
	Overridden       bool      `json:"overridden"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) (err error) {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	return
}

func (c *Comment) BeforeCreate(tx *gorm.DB) (err error) {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	return
}
