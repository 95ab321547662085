package server

import (
	"context"
	"net/http"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/config"
	"nexuschat/internal/metrics"
	"nexuschat/internal/mw"
	"nexuschat/internal/service"
	"nexuschat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、页面路由以及房间实时推送端点。
// ctx 结束时限速器的后台清理随之停止。
func SetupRouter(ctx context.Context, cfg config.Config, db *gorm.DB, hub *ws.Hub, sessions auth.SessionStore, market MarketSource) *gin.Engine {
	users := service.NewUserService(db, cfg, sessions)
	rooms := service.NewRoomService(db, hub)
	messages := service.NewMessageService(db, hub)
	topics := service.NewTopicService(db)
	h := NewHandler(cfg, users, rooms, messages, topics, market)
	guard := auth.NewGuard(cfg.JWTSecret, users, sessions)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，登录注册另有更严格的限制。
	r.Use(mw.RateLimit(ctx, rate.Every(time.Second/20), 40))
	strict := mw.RateLimit(ctx, rate.Every(6*time.Second), 10)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("", guard.Optional())
	public.GET("/login", h.LoginPage)
	public.POST("/login", strict, h.Login)
	public.GET("/logout", h.Logout)
	public.GET("/register", h.RegisterPage)
	public.POST("/register", strict, h.Register)
	public.GET("/", h.Home)
	public.GET("/room/:id", h.Room)
	public.GET("/profile/:id", h.Profile)
	public.GET("/topics", h.Topics)
	public.GET("/activity", h.Activity)

	authed := r.Group("", guard.Require())
	authed.POST("/room/:id", h.PostMessage)
	authed.GET("/room/:id/join", h.JoinRoom)
	authed.GET("/room/create", h.RoomForm)
	authed.POST("/room/create", h.CreateRoom)
	authed.GET("/room/:id/update", h.EditRoomForm)
	authed.POST("/room/:id/update", h.UpdateRoom)
	authed.GET("/room/:id/delete", h.DeleteRoom)
	authed.POST("/room/:id/delete", h.DeleteRoom)
	authed.GET("/message/:id/delete", h.DeleteMessage)
	authed.POST("/message/:id/delete", h.DeleteMessage)
	authed.GET("/profile/update", h.ProfileForm)
	authed.POST("/profile/update", h.UpdateProfile)
	authed.GET("/market-data", h.MarketData)
	authed.GET("/room/:id/video-call", h.VideoCall)
	authed.GET("/room/:id/stream-call", h.StreamCall)
	authed.GET("/room/:id/ws", ws.Serve(hub, rooms, messages))

	return r
}
