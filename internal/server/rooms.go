package server

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/market"
	"nexuschat/internal/models"
	"nexuschat/internal/service"

	"github.com/gin-gonic/gin"
)

type roomForm struct {
	Name        string `form:"name" json:"name"`
	Description string `form:"description" json:"description"`
	Topic       string `form:"topic" json:"topic"`
}

type messageForm struct {
	Body string `form:"body" json:"body"`
}

// roomDTO 在房间信息之外附带实时在线人数。
type roomDTO struct {
	models.Room
	Online int `json:"online"`
}

func (h *Handler) withOnline(rooms []models.Room) []roomDTO {
	out := make([]roomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomDTO{Room: r, Online: h.rooms.Online(r.ID)})
	}
	return out
}

// Home 首页：按 q 过滤房间，附带前 5 个话题与最近相关的 3 条消息。
func (h *Handler) Home(c *gin.Context) {
	q := c.Query("q")
	rooms, err := h.rooms.List(q)
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	topics, err := h.topics.List("", 5)
	if err != nil {
		fail(c, "list topics", err)
		return
	}
	msgs, err := h.messages.ListForQuery(q, 3)
	if err != nil {
		fail(c, "list room messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms":         h.withOnline(rooms),
		"room_count":    len(rooms),
		"topics":        topics,
		"room_messages": msgs,
	})
}

// Room 房间详情，登录用户额外得到自己是否为参与者。
func (h *Handler) Room(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.rooms.Get(id)
	if err != nil {
		fail(c, "get room", err)
		return
	}
	msgs, err := h.messages.ListByRoom(room.ID)
	if err != nil {
		fail(c, "list room messages", err)
		return
	}
	participants, err := h.rooms.Participants(room.ID)
	if err != nil {
		fail(c, "list participants", err)
		return
	}
	// 匿名访问者一律视为非参与者
	joined := false
	if uid := auth.GetUserID(c); uid != 0 {
		if joined, err = h.rooms.IsParticipant(room.ID, uid); err != nil {
			fail(c, "check participant", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"room":           room,
		"room_messages":  msgs,
		"participants":   participants,
		"online":         h.rooms.Online(room.ID),
		"is_participant": joined,
	})
}

// PostMessage 在房间内发言，发言者自动成为参与者。
func (h *Handler) PostMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req messageForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.messages.Post(auth.GetUserID(c), id, req.Body)
	if err != nil {
		fail(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// JoinRoom 重复加入不是错误，只返回提示信息。
func (h *Handler) JoinRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, room, err := h.rooms.Join(auth.CurrentUser(c), id)
	if err != nil {
		fail(c, "join room", err)
		return
	}
	if res == service.AlreadyParticipant {
		c.JSON(http.StatusOK, gin.H{"status": "already_participant", "info": "you are already a participant of this room", "room": room})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined", "room": room})
}

func (h *Handler) RoomForm(c *gin.Context) {
	topics, err := h.topics.List("", 0)
	if err != nil {
		fail(c, "list topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// CreateRoom 名称与描述允许为空，话题按名称 get-or-create。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req roomForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.rooms.Create(auth.GetUserID(c), service.RoomInput{Name: req.Name, Description: req.Description, Topic: req.Topic})
	if err != nil {
		fail(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// EditRoomForm 非房主直接拒绝，不返回表单。
func (h *Handler) EditRoomForm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.rooms.Get(id)
	if err != nil {
		fail(c, "get room", err)
		return
	}
	if !service.CanModifyRoom(auth.GetUserID(c), room) {
		fail(c, "edit room", service.ErrForbidden)
		return
	}
	topics, err := h.topics.List("", 0)
	if err != nil {
		fail(c, "list topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "topics": topics})
}

func (h *Handler) UpdateRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req roomForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.rooms.Update(auth.GetUserID(c), id, service.RoomInput{Name: req.Name, Description: req.Description, Topic: req.Topic})
	if err != nil {
		fail(c, "update room", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func deleteResponse(c *gin.Context, step service.DeleteStep, obj any) {
	c.JSON(http.StatusOK, gin.H{
		"status":           step.String(),
		"confirm_required": step == service.AwaitingConfirmation,
		"object":           obj,
	})
}

// DeleteRoom GET 与未确认的 POST 只返回确认页，POST confirm=yes 才执行删除。
func (h *Handler) DeleteRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	step, room, err := h.rooms.Delete(auth.GetUserID(c), id, confirmed(c))
	if err != nil {
		fail(c, "delete room", err)
		return
	}
	deleteResponse(c, step, room)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	step, msg, err := h.messages.Delete(auth.GetUserID(c), id, confirmed(c))
	if err != nil {
		fail(c, "delete message", err)
		return
	}
	deleteResponse(c, step, msg)
}

func (h *Handler) Topics(c *gin.Context) {
	topics, err := h.topics.List(c.Query("q"), 0)
	if err != nil {
		fail(c, "list topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// Activity 最新动态，limit 取值 1..200，默认 50。
func (h *Handler) Activity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.messages.Recent(limit)
	if err != nil {
		fail(c, "activity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_messages": msgs})
}

func (h *Handler) VideoCall(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.rooms.Get(id); err != nil {
		fail(c, "video call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": id, "user": auth.CurrentUser(c).Username})
}

// StreamCall 为视频房间分配一个 [0, 10000) 的随机 uid，信令由外部服务完成。
func (h *Handler) StreamCall(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.rooms.Get(id)
	if err != nil {
		fail(c, "stream call", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    c.Query("name"),
		"vc_room": c.Query("room"),
		"user":    auth.CurrentUser(c),
		"room":    room,
		"uid":     strconv.Itoa(rand.IntN(10000)),
	})
}

// MarketData 单个数据源失败时降级返回，全部失败时返回 502。
func (h *Handler) MarketData(c *gin.Context) {
	eq := market.EarningsQuery{Region: c.Query("region")}
	eq.StartDate, _ = strconv.ParseInt(c.Query("startDate"), 10, 64)
	eq.EndDate, _ = strconv.ParseInt(c.Query("endDate"), 10, 64)
	eq.Size, _ = strconv.Atoi(c.Query("size"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(h.cfg.MarketTimeoutSeconds)*time.Second)
	defer cancel()

	snap, err := h.market.Snapshot(ctx, c.Query("id"), eq)
	if err != nil {
		resp := gin.H{"error": "market data unavailable"}
		if snap != nil {
			resp["errors"] = snap.Errors
		}
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, snap)
}
