package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"linechat/internal/hub"
	"linechat/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 把一条 websocket 连接接到 Hub 的信箱上：readPump 解析入站事件
// 交给协调器，writePump 把信箱里的帧写回网络。
type Client struct {
	hc   *hub.Client
	conn *websocket.Conn
	h    *hub.Hub
	co   *session.Coordinator
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinData struct {
	Username string `json:"username"`
}

type changeNameData struct {
	OldUsername string `json:"oldUsername"`
	NewUsername string `json:"newUsername"`
}

type sendMessageData struct {
	Content  string `json:"content"`
	Username string `json:"username"`
	// 旧版客户端会带上本地时间戳，仅作兼容解析，存储一律用服务端时间。
	Timestamp string `json:"timestamp"`
}

// Serve 返回 /ws 的升级处理器：每条连接分配一个不透明 id，
// 注册进 Hub 与在线表后进入读写循环。
func Serve(h *hub.Hub, co *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade")
			return
		}
		hc := hub.NewClient(uuid.NewString())
		h.Register(hc)
		co.OnConnect(hc)

		client := &Client{hc: hc, conn: conn, h: h, co: co}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.h.Unregister(c.hc)
		c.co.OnDisconnect(c.hc)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Str("conn", c.hc.ID()).Msg("bad frame")
			continue
		}
		c.dispatch(env)
	}
}

// dispatch 按事件名分发。未知事件忽略，字段缺失按空值处理，
// 单个事件解析失败不影响连接本身。
func (c *Client) dispatch(env envelope) {
	switch env.Event {
	case "join":
		var d joinData
		_ = json.Unmarshal(env.Data, &d)
		c.co.OnJoin(c.hc, d.Username)
	case "change_username":
		var d changeNameData
		_ = json.Unmarshal(env.Data, &d)
		c.co.OnChangeUsername(c.hc, d.OldUsername, d.NewUsername)
	case "send_message":
		var d sendMessageData
		_ = json.Unmarshal(env.Data, &d)
		c.co.OnSendMessage(c.hc, d.Content, d.Username)
	case "typing":
		c.co.OnTyping(c.hc, env.Data)
	default:
		log.Debug().Str("event", env.Event).Str("conn", c.hc.ID()).Msg("unknown event")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.hc.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(payload)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
