package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"linechat/internal/hub"
	"linechat/internal/metrics"
	"linechat/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MessageStore 是协调器对历史存储的唯一依赖：广播前必须完成持久化。
type MessageStore interface {
	Append(msg *models.ChatMessage) error
}

// Coordinator 是所有入站事件的唯一入口：维护在线表、驱动广播、
// 把消息写入历史。单个事件的失败只影响该事件，绝不波及其他连接。
type Coordinator struct {
	presence *Table
	store    MessageStore
	hub      *hub.Hub
	anon     string

	// sendMu 串行化消息的生成与落库，保证 id 生成与存储顺序
	// 不会交错；广播在锁外进行，慢客户端不会拖住其他发送者。
	sendMu sync.Mutex
}

func NewCoordinator(store MessageStore, h *hub.Hub, anonName string) *Coordinator {
	return &Coordinator{
		presence: NewTable(),
		store:    store,
		hub:      h,
		anon:     anonName,
	}
}

type messagePayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// OnConnect 登记一个新连接。此时还没有名字，不对外广播。
func (co *Coordinator) OnConnect(c *hub.Client) {
	co.presence.Insert(c.ID())
	log.Info().Str("conn", c.ID()).Msg("client connect")
}

// OnDisconnect 注销连接。只有曾经加入过（有名字）的连接才广播
// user_left 和新的在线人数，从未加入的连接静默离开。
func (co *Coordinator) OnDisconnect(c *hub.Client) {
	name, ok := co.presence.Remove(c.ID())
	log.Info().Str("conn", c.ID()).Msg("client disconnect")
	if !ok || name == "" {
		return
	}
	co.hub.Broadcast("user_left", map[string]string{"username": name}, nil)
	co.broadcastCount()
}

// OnJoin 记录连接选定的显示名并向全员（含加入者本人）广播 user_joined。
// 连接 id 已不存在时（与断线竞争）在线表不动，但仍按请求里的名字广播。
func (co *Coordinator) OnJoin(c *hub.Client, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = co.anon
	}
	if !co.presence.SetName(c.ID(), username) {
		log.Warn().Str("conn", c.ID()).Str("username", username).Msg("join for unknown connection")
	}
	co.hub.Broadcast("user_joined", map[string]string{"username": username}, nil)
	co.broadcastCount()
	log.Info().Str("conn", c.ID()).Str("username", username).Msg("client join")
}

// OnChangeUsername 更新连接的显示名并广播改名事件。在线人数不变，
// 不重播 user_count。改名事件信任请求里的新旧名字，无条件广播。
func (co *Coordinator) OnChangeUsername(c *hub.Client, oldName, newName string) {
	if !co.presence.SetName(c.ID(), newName) {
		log.Debug().Str("conn", c.ID()).Msg("rename for unknown connection")
	}
	co.hub.Broadcast("user_changed_name", map[string]string{
		"oldUsername": oldName,
		"newUsername": newName,
	}, nil)
}

// OnTyping 纯转发：把输入中状态原样广播给除发送者外的所有连接。
func (co *Coordinator) OnTyping(c *hub.Client, payload json.RawMessage) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	co.hub.Broadcast("typing", payload, c)
}

// OnSendMessage 处理一条聊天消息：解析署名、清洗正文、落库、再广播给
// 除发送者外的所有连接（发送者本地已即时渲染）。落库失败只回执
// chat_error 给发送者。
func (co *Coordinator) OnSendMessage(c *hub.Client, content, clientUsername string) {
	username := co.resolveUsername(c.ID(), clientUsername)
	content = sanitizeContent(content)

	co.sendMu.Lock()
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Username:  username,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	err := co.store.Append(&msg)
	co.sendMu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("conn", c.ID()).Msg("append message")
		co.hub.SendTo(c, "chat_error", map[string]string{"message": "failed to save message"})
		return
	}

	metrics.WsMessagesTotal.Inc()
	co.hub.Broadcast("chat_message", messagePayload{
		ID:        msg.ID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Stamp(),
	}, c)
}

// resolveUsername 决定消息的署名：在线表里的名字优先，其次是客户端
// 自报的名字，都没有时落到匿名占位名。
func (co *Coordinator) resolveUsername(connID, clientUsername string) string {
	if name, ok := co.presence.GetName(connID); ok && name != "" {
		return name
	}
	if clientUsername = strings.TrimSpace(clientUsername); clientUsername != "" {
		return clientUsername
	}
	return co.anon
}

func (co *Coordinator) broadcastCount() {
	co.hub.Broadcast("user_count", map[string]int{"count": co.presence.CountNamed()}, nil)
}
