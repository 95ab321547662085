package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"nexuschat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Event 是推送给房间订阅者的实时事件。
type Event struct {
	Type      string     `json:"type"`
	RoomID    uint       `json:"room_id"`
	UserID    uint       `json:"user_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	MessageID uint       `json:"message_id,omitempty"`
	Body      string     `json:"body,omitempty"`
	Online    int        `json:"online,omitempty"`
	IsTyping  bool       `json:"is_typing,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

const (
	EventMessage        = "message"
	EventMessageDeleted = "message_deleted"
	EventParticipant    = "participant"
	EventRoomDeleted    = "room_deleted"
	EventJoin           = "join"
	EventLeave          = "leave"
	EventTyping         = "typing"
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[uint]*RoomHub)} }

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

func (h *Hub) Online(roomID uint) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Publish 把事件推送给已打开的房间；没有订阅者的房间直接忽略。
func (h *Hub) Publish(roomID uint, evt Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	evt.RoomID = roomID
	b, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", evt.Type).Msg("marshal room event")
		return
	}
	select {
	case room.broadcast <- b:
	default:
		log.Warn().Uint("room_id", roomID).Str("type", evt.Type).Msg("room broadcast full, event dropped")
	}
}

type RoomHub struct {
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewRoomHub(roomID uint) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (rh *RoomHub) fanout(b []byte) {
	for c := range rh.clients {
		select {
		case c.send <- b:
		default:
			close(c.send)
			delete(rh.clients, c)
			metrics.WsConnections.Dec()
		}
	}
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
}

func (rh *RoomHub) presence(typ string, c *Client) {
	evt := Event{Type: typ, RoomID: rh.roomID, UserID: c.userID, Username: c.uname, Online: len(rh.clients)}
	if b, err := json.Marshal(evt); err == nil {
		rh.fanout(b)
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c, ok := <-rh.register:
			if !ok {
				return
			}
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.WsConnections.Inc()
			rh.presence(EventJoin, c)
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				close(c.send)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				metrics.WsConnections.Dec()
				rh.presence(EventLeave, c)
			}
		case msg := <-rh.broadcast:
			rh.fanout(msg)
		}
	}
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
