package history

import (
	"linechat/internal/metrics"
	"linechat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Store 是有界的消息历史：写入走数据库，读取只取最近 limit 条。
type Store struct {
	db    *gorm.DB
	limit int
}

func NewStore(db *gorm.DB, limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{db: db, limit: limit}
}

// MessageDTO 是对外输出的消息数据，时间戳为 UTC 秒级字符串。
type MessageDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Append 持久化一条消息。调用方必须在广播之前完成 Append。
func (s *Store) Append(msg *models.ChatMessage) error {
	if err := s.db.Create(msg).Error; err != nil {
		metrics.HistoryFailures.Inc()
		return err
	}
	return nil
}

// ListRecent 返回最近 limit 条消息，按存储顺序升序（最旧的在前）。
func (s *Store) ListRecent() ([]MessageDTO, error) {
	var msgs []models.ChatMessage
	if err := s.db.Order("seq desc").Limit(s.limit).Find(&msgs).Error; err != nil {
		metrics.HistoryFailures.Inc()
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:        m.ID,
			Username:  m.Username,
			Content:   m.Content,
			Timestamp: m.Stamp(),
		})
	}
	return out, nil
}

// Clear 清空全部历史。对已空的存储再次调用同样成功。
func (s *Store) Clear() error {
	err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ChatMessage{}).Error
	if err != nil {
		metrics.HistoryFailures.Inc()
		log.Error().Err(err).Msg("clear history")
		return err
	}
	return nil
}
