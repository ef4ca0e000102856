package models

import "time"

// TimeLayout 是对外输出时间戳的格式：UTC、秒级精度。
const TimeLayout = "2006-01-02T15:04:05Z"

// ChatMessage 是一条聊天消息。Seq 由数据库自增，是存储顺序的唯一依据；
// ID 是消息的全局唯一标识，创建后不可变。
type ChatMessage struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex;size:36;not null"`
	Username  string    `gorm:"size:64;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_created_at;not null"`
}

// Stamp 返回按 TimeLayout 序列化的创建时间。
func (m ChatMessage) Stamp() string {
	return m.CreatedAt.UTC().Format(TimeLayout)
}
