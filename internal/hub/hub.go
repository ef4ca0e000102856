package hub

import (
	"encoding/json"

	"linechat/internal/metrics"

	"github.com/rs/zerolog/log"
)

const sendBuffer = 256

// Envelope 是 ws 出站帧的统一外壳：{event, data}。
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client 是一个连接的出站信箱。传输层从 Outbound 取帧写到网络上；
// 投递是尽力而为的，信箱写满视为连接已死，由 Hub 丢弃。
type Client struct {
	id   string
	send chan []byte
}

func NewClient(id string) *Client {
	return &Client{id: id, send: make(chan []byte, sendBuffer)}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Outbound() <-chan []byte { return c.send }

type frame struct {
	payload []byte
	exclude *Client
	only    *Client
}

// Hub 把事件扇出给当前注册的所有连接。所有对 send 信道的写入都发生在
// Run 这一个 goroutine 里，单个调用方连续发出的广播保持先后顺序。
type Hub struct {
	register   chan *Client
	unregister chan *Client
	frames     chan frame
	clients    map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan frame, 256),
		clients:    make(map[*Client]bool),
	}
}

// Run 是 Hub 的事件循环，需要在独立 goroutine 中启动。
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.WsConnections.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case f := <-h.frames:
			if f.only != nil {
				if _, ok := h.clients[f.only]; ok {
					h.deliver(f.only, f.payload)
				}
				continue
			}
			for c := range h.clients {
				if c == f.exclude {
					continue
				}
				h.deliver(c, f.payload)
			}
			metrics.BroadcastsTotal.Inc()
		}
	}
}

// deliver 尝试投递一帧；信箱满则认定对端已死，直接丢弃连接，
// 绝不阻塞事件循环。
func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()
}

func (h *Hub) Register(c *Client) { h.register <- c }

func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast 把事件投递给除 exclude 外的所有连接。exclude 为 nil 表示全员。
// 单个连接投递失败不会影响其他连接，也不会反馈给调用方。
func (h *Hub) Broadcast(event string, data any, exclude *Client) {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal broadcast")
		return
	}
	h.frames <- frame{payload: b, exclude: exclude}
}

// SendTo 只向单个连接投递事件，用于 chat_error 这类定向回执。
func (h *Hub) SendTo(c *Client, event string, data any) {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal send")
		return
	}
	h.frames <- frame{payload: b, only: c}
}
