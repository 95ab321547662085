package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"nexuschat/internal/metrics"
	"nexuschat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const LoginPath = "/login"

var ErrUnauthenticated = errors.New("unauthenticated")

// UserResolver 由用户服务实现，守卫通过它把凭证解析成用户。
type UserResolver interface {
	FindByID(id uint) (*models.User, error)
}

// Guard 校验 access_token 或服务端会话，并把当前用户写入 gin 上下文。
type Guard struct {
	secret   string
	users    UserResolver
	sessions SessionStore
}

func NewGuard(secret string, users UserResolver, sessions SessionStore) *Guard {
	return &Guard{secret: secret, users: users, sessions: sessions}
}

// Resolve 按 token 优先、会话其次的顺序解析当前用户。
// 一旦携带 token，token 无效即拒绝，不再回退到会话。
func (g *Guard) Resolve(c *gin.Context) (*models.User, error) {
	if token := tokenFromRequest(c); token != "" {
		claims, err := ParseAccessToken(token, g.secret)
		if err != nil {
			return nil, ErrInvalidToken
		}
		// 邮箱变更后旧 token 作废，即使该邮箱已被他人注册。
		user, err := g.users.FindByID(claims.UserID())
		if err != nil || user.Email != claims.Email {
			return nil, ErrInvalidToken
		}
		return user, nil
	}
	sid, err := c.Cookie(SessionCookie)
	if err != nil || sid == "" {
		return nil, ErrUnauthenticated
	}
	uid, err := g.sessions.Lookup(c.Request.Context(), sid)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Error().Err(err).Msg("session lookup")
		}
		return nil, ErrUnauthenticated
	}
	user, err := g.users.FindByID(uid)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

// Require 包装需要登录的路由；失败时重定向到登录页，JSON 客户端得到 401。
func (g *Guard) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := g.Resolve(c)
		if err != nil {
			reason := "missing"
			if errors.Is(err, ErrInvalidToken) {
				reason = "invalid_token"
			}
			metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
			deny(c)
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// Optional 尝试解析当前用户但从不拒绝请求。
func (g *Guard) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := g.Resolve(c); err == nil {
			setUser(c, user)
		}
		c.Next()
	}
}

func deny(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	target := LoginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func setUser(c *gin.Context, user *models.User) {
	c.Set("userID", user.ID)
	c.Set("user", user)
}

func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}
