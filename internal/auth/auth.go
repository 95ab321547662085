package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessTokenCookie = "access_token"
	SessionCookie     = "session_id"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims 的 sub 为用户 ID，email 为签发时的邮箱，两者都要与库中用户一致。
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID 解析 sub，非正整数返回 0。
func (c *Claims) UserID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 0)
	if err != nil {
		return 0
	}
	return uint(id)
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID uint, email, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken 校验 HS256 签名与过期时间，签名错误、篡改或过期均返回错误。
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Email != "" && claims.UserID() != 0 {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// tokenFromRequest 优先读取 access_token cookie，其次读取 Authorization 头。
func tokenFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(AccessTokenCookie); err == nil && v != "" {
		return v
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// SetCredentialCookies 在登录或注册成功后下发会话 cookie 与 access_token。
func SetCredentialCookies(c *gin.Context, sessionID, token string, sessionTTL, tokenTTL time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sessionID, int(sessionTTL.Seconds()), "/", "", secure, true)
	SetAccessTokenCookie(c, token, tokenTTL, secure)
}

// SetAccessTokenCookie 仅重新下发 access_token，会话 cookie 保持不变。
func SetAccessTokenCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessTokenCookie, token, int(ttl.Seconds()), "/", "", secure, true)
}

func ClearCredentialCookies(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", secure, true)
}
