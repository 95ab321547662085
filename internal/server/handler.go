package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nexuschat/internal/auth"
	"nexuschat/internal/config"
	"nexuschat/internal/market"
	"nexuschat/internal/models"
	"nexuschat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// MarketSource 由 market.Gateway 实现，测试中可替换为假数据源。
type MarketSource interface {
	Snapshot(ctx context.Context, stockID string, eq market.EarningsQuery) (*market.Snapshot, error)
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg      config.Config
	users    *service.UserService
	rooms    *service.RoomService
	messages *service.MessageService
	topics   *service.TopicService
	market   MarketSource
}

func NewHandler(cfg config.Config, users *service.UserService, rooms *service.RoomService, messages *service.MessageService, topics *service.TopicService, market MarketSource) *Handler {
	return &Handler{cfg: cfg, users: users, rooms: rooms, messages: messages, topics: topics, market: market}
}

// fail 把业务错误映射成 HTTP 状态码，未识别的错误记录日志后返回 500。
func fail(c *gin.Context, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": gin.H{verr.Field: verr.Message}})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not allowed here"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("path", c.FullPath()).Msg(op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// pathID 解析路径中的数字 ID，非法 ID 按不存在处理。
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return uint(id), true
}

// confirmed 只有 POST 且显式带 confirm=yes 才视为确认删除。
func confirmed(c *gin.Context) bool {
	if c.Request.Method != http.MethodPost {
		return false
	}
	return c.PostForm("confirm") == "yes" || c.Query("confirm") == "yes"
}

// safeNext 只允许站内相对路径作为登录后的跳转目标。
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\") {
		return next
	}
	return "/"
}

type loginForm struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Next     string `form:"next" json:"next"`
}

type registerForm struct {
	Name      string `form:"name" json:"name"`
	Username  string `form:"username" json:"username"`
	Email     string `form:"email" json:"email"`
	Password1 string `form:"password1" json:"password1"`
	Password2 string `form:"password2" json:"password2"`
	Bio       string `form:"bio" json:"bio"`
	Avatar    string `form:"avatar" json:"avatar"`
}

type profileForm struct {
	Name     string `form:"name" json:"name"`
	Username string `form:"username" json:"username"`
	Email    string `form:"email" json:"email"`
	Bio      string `form:"bio" json:"bio"`
	Avatar   string `form:"avatar" json:"avatar"`
}

// accountDTO 只出现在本人的响应里，公开列表中的用户不带邮箱。
type accountDTO struct {
	*models.User
	Email string `json:"email"`
}

func account(u *models.User) accountDTO { return accountDTO{User: u, Email: u.Email} }

func (h *Handler) setCredentials(c *gin.Context, res *service.AuthResult) {
	auth.SetCredentialCookies(c, res.SessionID, res.AccessToken, h.users.SessionTTL(), h.users.TokenTTL(), h.cfg.CookieSecure)
}

// LoginPage 已登录用户直接回到首页。
func (h *Handler) LoginPage(c *gin.Context) {
	if auth.CurrentUser(c) != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": "login", "next": safeNext(c.Query("next"))})
}

// Login 处理登录；用户不存在与密码错误返回同一条提示。
func (h *Handler) Login(c *gin.Context) {
	var req loginForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	res, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		fail(c, "login", err)
		return
	}
	h.setCredentials(c, res)
	next := req.Next
	if next == "" {
		next = c.Query("next")
	}
	c.JSON(http.StatusOK, gin.H{"user": account(res.User), "next": safeNext(next)})
}

// Logout 删除会话并清除 cookie，随后回到首页。
func (h *Handler) Logout(c *gin.Context) {
	if sid, err := c.Cookie(auth.SessionCookie); err == nil && sid != "" {
		if err := h.users.Logout(c.Request.Context(), sid); err != nil {
			log.Error().Err(err).Msg("logout")
		}
	}
	auth.ClearCredentialCookies(c, h.cfg.CookieSecure)
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) RegisterPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"page": "register"})
}

// Register 创建用户后直接登录。
func (h *Handler) Register(c *gin.Context) {
	var req registerForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Name:            req.Name,
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password1,
		PasswordConfirm: req.Password2,
		Bio:             req.Bio,
		Avatar:          req.Avatar,
	})
	if err != nil {
		fail(c, "register", err)
		return
	}
	h.setCredentials(c, res)
	c.JSON(http.StatusCreated, gin.H{"user": account(res.User)})
}

func (h *Handler) Profile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.users.FindByID(id)
	if err != nil {
		fail(c, "profile", err)
		return
	}
	rooms, err := h.rooms.ListByHost(user.ID)
	if err != nil {
		fail(c, "profile rooms", err)
		return
	}
	msgs, err := h.messages.ListByUser(user.ID)
	if err != nil {
		fail(c, "profile messages", err)
		return
	}
	topics, err := h.topics.List("", 0)
	if err != nil {
		fail(c, "profile topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "rooms": rooms, "room_messages": msgs, "topics": topics})
}

func (h *Handler) ProfileForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": account(auth.CurrentUser(c))})
}

// UpdateProfile 更新资料；token 同时绑定用户 ID 与邮箱，因此成功后重新签发。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.users.UpdateProfile(auth.GetUserID(c), service.ProfileInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Bio:      req.Bio,
		Avatar:   req.Avatar,
	})
	if err != nil {
		fail(c, "update profile", err)
		return
	}
	token, err := h.users.IssueToken(user)
	if err != nil {
		fail(c, "update profile token", err)
		return
	}
	auth.SetAccessTokenCookie(c, token, h.users.TokenTTL(), h.cfg.CookieSecure)
	c.JSON(http.StatusOK, gin.H{"user": account(user)})
}
