package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// RoomFinder 与 MessagePoster 由服务层实现，ws 包只依赖这两个能力。
type RoomFinder interface {
	Get(id uint) (*models.Room, error)
}

type MessagePoster interface {
	Post(authorID, roomID uint, body string) (*models.Message, error)
}

type Client struct {
	room   *RoomHub
	conn   *websocket.Conn
	send   chan []byte
	poster MessagePoster
	userID uint
	uname  string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type     string `json:"type"`
	Body     string `json:"body"`
	IsTyping bool   `json:"is_typing"`
}

// Serve 必须挂在鉴权守卫之后，当前用户由守卫写入上下文。
func Serve(h *Hub, rooms RoomFinder, poster MessagePoster) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid64, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		if _, err := rooms.Get(uint(rid64)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		user := auth.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Uint64("room_id", rid64).Msg("ws upgrade")
			return
		}
		rh := h.GetRoom(uint(rid64))
		client := &Client{room: rh, conn: conn, send: make(chan []byte, 256), poster: poster, userID: user.ID, uname: user.Username}
		rh.register <- client

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.room.unregister <- c
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
		c.handle(data)
	}
}

// handle 处理一条客户端消息：typing 直接广播，message 通过服务层落库后由服务层广播。
func (c *Client) handle(data []byte) {
	var in InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	switch in.Type {
	case EventTyping:
		evt := Event{Type: EventTyping, RoomID: c.room.roomID, UserID: c.userID, Username: c.uname, IsTyping: in.IsTyping}
		if b, err := json.Marshal(evt); err == nil {
			c.room.broadcast <- b
		}
	case EventMessage:
		if strings.TrimSpace(in.Body) == "" {
			return
		}
		if _, err := c.poster.Post(c.userID, c.room.roomID, in.Body); err != nil {
			log.Warn().Err(err).Uint("room_id", c.room.roomID).Uint("user_id", c.userID).Msg("ws post message")
		}
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
